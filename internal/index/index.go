// Package index is the server-side dedup index: a persistent mapping from
// content fingerprints to canonical stored photo records, backed by bbolt.
//
// The fingerprint-uniqueness invariant lives here. RecordNew is
// insert-if-absent inside a single bbolt write transaction, so two
// concurrent uploads of the same content always resolve to exactly one
// canonical record; the loser receives the winner's record together with
// ErrDuplicate.
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// indexDirPerm is the permission mode for the index directory.
	indexDirPerm = fs.FileMode(0o700)

	// indexFilePerm is the permission mode for the index database file.
	indexFilePerm = fs.FileMode(0o600)

	// indexOpenTimeout is the maximum time to wait for the bolt file lock.
	indexOpenTimeout = 5 * time.Second

	// MaxPageSize caps a single List page. Larger take values are clamped
	// rather than rejected.
	MaxPageSize = 500
)

var (
	photosBucket = []byte("photos") // fingerprint -> StoredPhoto JSON
	idsBucket    = []byte("ids")    // photo ID -> fingerprint
)

// ErrDuplicate is returned by RecordNew when the fingerprint is already
// recorded. It is the expected outcome of a race between two uploads of
// the same content, not a hard failure: the caller receives the canonical
// record alongside it and should treat the photo as already stored.
var ErrDuplicate = errors.New("fingerprint already recorded")

// StoredPhoto is the canonical server record for one unique photo content.
// A fingerprint maps to at most one StoredPhoto. Records are immutable
// after creation and removed only by Delete.
type StoredPhoto struct {
	ID               string    `json:"id"`
	Fingerprint      string    `json:"fingerprint"`
	OriginalFilename string    `json:"originalFilename"`
	StoredPath       string    `json:"storedPath"`
	FileSize         int64     `json:"fileSize"`
	DateTaken        time.Time `json:"dateTaken"`
	UploadedAt       time.Time `json:"uploadedAt"`
}

// Index wraps a bbolt database holding the photo records.
type Index struct {
	db *bolt.DB
}

// Open opens (or creates) the index database at path, creating the parent
// directory and the buckets as needed.
func Open(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), indexDirPerm); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	db, err := bolt.Open(path, indexFilePerm, &bolt.Options{Timeout: indexOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening index db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(photosBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(idsBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing index db: %w", err)
	}

	return &Index{db: db}, nil
}

// Close closes the database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Existing returns the subset of the given fingerprints that are already
// recorded. Input must be pre-normalized. An empty input returns an empty
// result without touching the database. No ordering guarantee.
func (ix *Index) Existing(fps []string) ([]string, error) {
	if len(fps) == 0 {
		return nil, nil
	}

	var existing []string

	err := ix.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(photosBucket)

		seen := make(map[string]struct{}, len(fps))

		for _, fp := range fps {
			if _, dup := seen[fp]; dup {
				continue
			}

			seen[fp] = struct{}{}

			if b.Get([]byte(fp)) != nil {
				existing = append(existing, fp)
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("checking fingerprints: %w", err)
	}

	return existing, nil
}

// FindByFingerprint returns the record for a fingerprint, or nil if absent.
func (ix *Index) FindByFingerprint(fp string) (*StoredPhoto, error) {
	var p *StoredPhoto

	err := ix.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(photosBucket).Get([]byte(fp))
		if v == nil {
			return nil
		}

		p = &StoredPhoto{}

		return json.Unmarshal(v, p)
	})
	if err != nil {
		return nil, fmt.Errorf("looking up fingerprint: %w", err)
	}

	return p, nil
}

// FindByID returns the record with the given ID, or nil if absent.
func (ix *Index) FindByID(id string) (*StoredPhoto, error) {
	var p *StoredPhoto

	err := ix.db.View(func(tx *bolt.Tx) error {
		fp := tx.Bucket(idsBucket).Get([]byte(id))
		if fp == nil {
			return nil
		}

		v := tx.Bucket(photosBucket).Get(fp)
		if v == nil {
			return nil
		}

		p = &StoredPhoto{}

		return json.Unmarshal(v, p)
	})
	if err != nil {
		return nil, fmt.Errorf("looking up id: %w", err)
	}

	return p, nil
}

// RecordNew inserts p keyed by its fingerprint. If the fingerprint is
// already recorded, the pre-existing canonical record is returned together
// with ErrDuplicate and nothing is written. The check and insert run in one
// bbolt write transaction, so concurrent callers with the same fingerprint
// resolve to exactly one record.
func (ix *Index) RecordNew(p StoredPhoto) (StoredPhoto, error) {
	var canonical StoredPhoto

	duplicate := false

	err := ix.db.Update(func(tx *bolt.Tx) error {
		photos := tx.Bucket(photosBucket)

		if v := photos.Get([]byte(p.Fingerprint)); v != nil {
			duplicate = true
			return json.Unmarshal(v, &canonical)
		}

		data, err := json.Marshal(p)
		if err != nil {
			return err
		}

		if err := photos.Put([]byte(p.Fingerprint), data); err != nil {
			return err
		}

		if err := tx.Bucket(idsBucket).Put([]byte(p.ID), []byte(p.Fingerprint)); err != nil {
			return err
		}

		canonical = p

		return nil
	})
	if err != nil {
		return StoredPhoto{}, fmt.Errorf("recording photo: %w", err)
	}

	if duplicate {
		return canonical, ErrDuplicate
	}

	return canonical, nil
}

// Delete removes the record with the given ID and returns it so the caller
// can remove the backing file. Returns nil without error when the ID is
// unknown.
func (ix *Index) Delete(id string) (*StoredPhoto, error) {
	var p *StoredPhoto

	err := ix.db.Update(func(tx *bolt.Tx) error {
		ids := tx.Bucket(idsBucket)

		fp := ids.Get([]byte(id))
		if fp == nil {
			return nil
		}

		photos := tx.Bucket(photosBucket)

		if v := photos.Get(fp); v != nil {
			p = &StoredPhoto{}
			if err := json.Unmarshal(v, p); err != nil {
				return err
			}
		}

		if err := photos.Delete(fp); err != nil {
			return err
		}

		return ids.Delete([]byte(id))
	})
	if err != nil {
		return nil, fmt.Errorf("deleting photo: %w", err)
	}

	return p, nil
}

// Count returns the number of stored records.
func (ix *Index) Count() (int, error) {
	count := 0

	err := ix.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(photosBucket).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting photos: %w", err)
	}

	return count, nil
}

// List returns one page of records ordered by capture timestamp descending,
// together with the total record count. skip below zero is treated as zero;
// take below one or above MaxPageSize is clamped.
func (ix *Index) List(skip, take int) ([]StoredPhoto, int, error) {
	if skip < 0 {
		skip = 0
	}

	if take < 1 || take > MaxPageSize {
		take = MaxPageSize
	}

	var all []StoredPhoto

	err := ix.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(photosBucket).ForEach(func(_, v []byte) error {
			var p StoredPhoto
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}

			all = append(all, p)

			return nil
		})
	})
	if err != nil {
		return nil, 0, fmt.Errorf("listing photos: %w", err)
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].DateTaken.Equal(all[j].DateTaken) {
			return all[i].DateTaken.After(all[j].DateTaken)
		}
		// Stable order for identical timestamps.
		return all[i].ID < all[j].ID
	})

	total := len(all)

	if skip >= total {
		return []StoredPhoto{}, total, nil
	}

	end := skip + take
	if end > total {
		end = total
	}

	return all[skip:end], total, nil
}
