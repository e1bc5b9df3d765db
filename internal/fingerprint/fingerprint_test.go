package fingerprint

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Known SHA-256 vectors.
const (
	emptyDigest = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	abcDigest   = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
)

func TestCompute_KnownVectors(t *testing.T) {
	fp, err := Compute(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Equal(t, emptyDigest, fp)

	fp, err = Compute(strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, abcDigest, fp)
}

func TestCompute_Deterministic(t *testing.T) {
	content := []byte("the same bytes every time")

	first, err := Compute(bytes.NewReader(content))
	require.NoError(t, err)

	second, err := Compute(bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := Compute(bytes.NewReader([]byte("different bytes")))
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestCompute_RestoresSeekPosition(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg bytes"), 0o644))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	// Advance the reader first so the restore target is not just zero.
	_, err = f.Seek(4, io.SeekStart)
	require.NoError(t, err)

	_, err = Compute(f)
	require.NoError(t, err)

	pos, err := f.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(4), pos, "read position must be restored after hashing")

	rest, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, " bytes", string(rest), "caller can re-read from the original position")
}

func TestCompute_ReadError(t *testing.T) {
	_, err := Compute(iotestErrReader{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading stream")
}

type iotestErrReader struct{}

func (iotestErrReader) Read([]byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}

func TestComputeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	fp, err := ComputeFile(path)
	require.NoError(t, err)
	assert.Equal(t, abcDigest, fp)

	_, err = ComputeFile(filepath.Join(dir, "missing.bin"))
	require.Error(t, err)
}

func TestNormalize(t *testing.T) {
	upper := strings.ToUpper(abcDigest)

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"already normalized", abcDigest, abcDigest},
		{"uppercase", upper, abcDigest},
		{"prefixed", "sha256:" + abcDigest, abcDigest},
		{"uppercase prefix", "SHA256:" + upper, abcDigest},
		{"surrounding whitespace", "  " + abcDigest + "\n", abcDigest},
		{"prefix and whitespace", "\tSha256:" + upper + " ", abcDigest},
		{"empty", "", ""},
		{"blank", "   ", ""},
		{"bare prefix", "sha256:", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.raw))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		abcDigest,
		"SHA256:" + strings.ToUpper(abcDigest),
		" sha256:" + abcDigest + " ",
		"",
		"not-a-digest",
	}

	for _, raw := range inputs {
		once := Normalize(raw)
		assert.Equal(t, once, Normalize(once), "Normalize must be idempotent for %q", raw)
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"valid lowercase", abcDigest, true},
		{"valid uppercase", strings.ToUpper(abcDigest), true},
		{"valid with prefix", "sha256:" + abcDigest, true},
		{"empty", "", false},
		{"blank", "  ", false},
		{"too short", abcDigest[:63], false},
		{"too long", abcDigest + "0", false},
		{"non-hex characters", strings.Replace(abcDigest, "a", "g", 1), false},
		{"hex with inner space", abcDigest[:32] + " " + abcDigest[33:], false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsValid(tc.raw))
		})
	}
}
