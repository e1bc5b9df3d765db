package index

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()

	ix, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })

	return ix
}

// testPhoto builds a record with a deterministic fake fingerprint derived
// from n, so tests can refer to specific entries.
func testPhoto(n int, taken time.Time) StoredPhoto {
	return StoredPhoto{
		ID:               uuid.NewString(),
		Fingerprint:      fmt.Sprintf("%064x", n),
		OriginalFilename: fmt.Sprintf("IMG_%04d.jpg", n),
		StoredPath:       fmt.Sprintf("%04d/%02d/IMG_%04d.jpg", taken.Year(), taken.Month(), n),
		FileSize:         int64(1000 + n),
		DateTaken:        taken,
		UploadedAt:       time.Now().UTC(),
	}
}

func TestExisting(t *testing.T) {
	ix := openTestIndex(t)
	taken := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	a := testPhoto(1, taken)
	_, err := ix.RecordNew(a)
	require.NoError(t, err)

	b := fmt.Sprintf("%064x", 2)
	c := fmt.Sprintf("%064x", 3)

	existing, err := ix.Existing([]string{a.Fingerprint, b, c})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.Fingerprint}, existing)
}

func TestExisting_EmptyInput(t *testing.T) {
	ix := openTestIndex(t)

	existing, err := ix.Existing(nil)
	require.NoError(t, err)
	assert.Empty(t, existing)
}

func TestExisting_DuplicateInput(t *testing.T) {
	ix := openTestIndex(t)
	taken := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	a := testPhoto(1, taken)
	_, err := ix.RecordNew(a)
	require.NoError(t, err)

	existing, err := ix.Existing([]string{a.Fingerprint, a.Fingerprint})
	require.NoError(t, err)
	assert.Equal(t, []string{a.Fingerprint}, existing, "repeated input must not repeat output")
}

func TestRecordNew_And_Lookups(t *testing.T) {
	ix := openTestIndex(t)
	taken := time.Date(2023, 12, 24, 18, 30, 0, 0, time.UTC)

	p := testPhoto(7, taken)

	got, err := ix.RecordNew(p)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	byFP, err := ix.FindByFingerprint(p.Fingerprint)
	require.NoError(t, err)
	require.NotNil(t, byFP)
	assert.Equal(t, p.ID, byFP.ID)

	byID, err := ix.FindByID(p.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, p.Fingerprint, byID.Fingerprint)

	missing, err := ix.FindByFingerprint(fmt.Sprintf("%064x", 99))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRecordNew_DuplicateReturnsCanonical(t *testing.T) {
	ix := openTestIndex(t)
	taken := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	first := testPhoto(5, taken)
	_, err := ix.RecordNew(first)
	require.NoError(t, err)

	second := testPhoto(5, taken) // same fingerprint, fresh ID
	got, err := ix.RecordNew(second)
	require.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, first.ID, got.ID, "duplicate insert must return the first record")

	count, err := ix.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecordNew_ConcurrentDuplicates(t *testing.T) {
	ix := openTestIndex(t)
	taken := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

	const writers = 8

	var wg sync.WaitGroup

	results := make([]error, writers)
	records := make([]StoredPhoto, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			records[i], results[i] = ix.RecordNew(testPhoto(42, taken))
		}(i)
	}

	wg.Wait()

	winners := 0

	var canonicalID string

	for i := 0; i < writers; i++ {
		if results[i] == nil {
			winners++
			canonicalID = records[i].ID

			continue
		}

		require.ErrorIs(t, results[i], ErrDuplicate)
	}

	assert.Equal(t, 1, winners, "exactly one insert wins")

	for i := 0; i < writers; i++ {
		assert.Equal(t, canonicalID, records[i].ID, "every caller sees the canonical record")
	}

	count, err := ix.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDelete(t *testing.T) {
	ix := openTestIndex(t)
	taken := time.Date(2024, 2, 2, 2, 0, 0, 0, time.UTC)

	p := testPhoto(3, taken)
	_, err := ix.RecordNew(p)
	require.NoError(t, err)

	removed, err := ix.Delete(p.ID)
	require.NoError(t, err)
	require.NotNil(t, removed)
	assert.Equal(t, p.StoredPath, removed.StoredPath)

	gone, err := ix.FindByID(p.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	again, err := ix.Delete(p.ID)
	require.NoError(t, err)
	assert.Nil(t, again, "deleting an unknown id is not an error")
}

func TestList_OrderAndPaging(t *testing.T) {
	ix := openTestIndex(t)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	// Insert out of chronological order.
	for _, n := range []int{2, 0, 4, 1, 3} {
		_, err := ix.RecordNew(testPhoto(n, base.Add(time.Duration(n)*time.Hour)))
		require.NoError(t, err)
	}

	page, total, err := ix.List(0, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 3)

	// Newest capture first.
	assert.Equal(t, "IMG_0004.jpg", page[0].OriginalFilename)
	assert.Equal(t, "IMG_0003.jpg", page[1].OriginalFilename)
	assert.Equal(t, "IMG_0002.jpg", page[2].OriginalFilename)

	rest, total, err := ix.List(3, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, total, "total is independent of the page")
	require.Len(t, rest, 2)
	assert.Equal(t, "IMG_0001.jpg", rest[0].OriginalFilename)
	assert.Equal(t, "IMG_0000.jpg", rest[1].OriginalFilename)
}

func TestList_SkipPastEnd(t *testing.T) {
	ix := openTestIndex(t)

	_, err := ix.RecordNew(testPhoto(1, time.Now().UTC()))
	require.NoError(t, err)

	page, total, err := ix.List(10, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Empty(t, page)
}

func TestList_ClampsTake(t *testing.T) {
	ix := openTestIndex(t)

	page, total, err := ix.List(-5, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, page)
}

func TestOpen_Reopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	ix, err := Open(path)
	require.NoError(t, err)

	p := testPhoto(9, time.Now().UTC())
	_, err = ix.RecordNew(p)
	require.NoError(t, err)
	require.NoError(t, ix.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.FindByFingerprint(p.Fingerprint)
	require.NoError(t, err)
	require.NotNil(t, got, "records survive reopen")
	assert.Equal(t, p.ID, got.ID)
}
