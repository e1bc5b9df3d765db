// Package sync drives the client side of a backup run: fingerprint the
// local photos, ask the server which ones it already has, and upload the
// rest with bounded concurrency and retries.
package sync

import (
	"context"
	"time"

	"github.com/benmorin/photosync/internal/api"
)

// Photo is one local file queued for backup.
type Photo struct {
	Path      string
	Filename  string
	Size      int64
	DateTaken time.Time
}

// ItemState is the lifecycle of one photo within a run. Every photo ends
// in one of the terminal states: Skipped, Uploaded, Duplicate, or Failed.
type ItemState int

const (
	StatePending ItemState = iota
	StateHashing
	// StateSkipped means the server already had the content before this run.
	StateSkipped
	// StateUploaded means this run transferred the content.
	StateUploaded
	// StateDuplicate means the content was resolved to an existing server
	// record, either by a concurrent upload or by another local file with
	// the same bytes earlier in this run.
	StateDuplicate
	StateFailed
)

func (s ItemState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateHashing:
		return "hashing"
	case StateSkipped:
		return "skipped"
	case StateUploaded:
		return "uploaded"
	case StateDuplicate:
		return "duplicate"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final for the run.
func (s ItemState) Terminal() bool {
	switch s {
	case StateSkipped, StateUploaded, StateDuplicate, StateFailed:
		return true
	default:
		return false
	}
}

// Progress is a point-in-time snapshot of a run. Completed counts photos
// that reached a successful terminal state; Failed counts the rest.
// Completed+Failed never exceeds Total and equals it when the run finishes
// without cancellation.
type Progress struct {
	Total     int
	Completed int
	Failed    int
	Current   string
	Cancelled bool
}

// Fraction returns the successfully completed share of the run in [0, 1].
// Failed photos do not count toward it. An empty run reads as zero.
func (p Progress) Fraction() float64 {
	if p.Total == 0 {
		return 0
	}

	return float64(p.Completed) / float64(p.Total)
}

// IsComplete reports whether every photo reached a terminal state.
func (p Progress) IsComplete() bool {
	return p.Completed+p.Failed >= p.Total
}

// ItemResult is the outcome for one photo after a run.
type ItemResult struct {
	Photo       Photo
	Fingerprint string
	State       ItemState
	// ServerID is set for Uploaded, Duplicate, and Skipped-after-upload
	// outcomes when the server reported the record.
	ServerID string
	Err      error
}

// Report summarizes a finished run. Items preserve the input order.
type Report struct {
	Items    []ItemResult
	Progress Progress
}

// Failed returns the results that ended in StateFailed.
func (r Report) Failed() []ItemResult {
	var failed []ItemResult

	for _, item := range r.Items {
		if item.State == StateFailed {
			failed = append(failed, item)
		}
	}

	return failed
}

//go:generate mockgen -source=types.go -destination=mock_server_test.go -package=sync

// Server is the remote photosync API as the orchestrator needs it.
type Server interface {
	// CheckHashes partitions fingerprints into known and unknown.
	CheckHashes(ctx context.Context, hashes []string) (api.CheckHashesResult, error)
	// Upload transfers one photo and returns the server record for its
	// content, which may be a pre-existing duplicate.
	Upload(ctx context.Context, photo Photo) (api.UploadResult, error)
}
