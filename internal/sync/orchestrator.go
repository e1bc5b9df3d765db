package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/benmorin/photosync/internal/api"
	"github.com/benmorin/photosync/internal/fingerprint"
)

// Options tunes a run. Zero values fall back to the defaults below.
type Options struct {
	// MaxConcurrent bounds both the hashing and the upload workers.
	MaxConcurrent int
	// MaxRetries is the number of retry attempts after the first failure
	// of a server call. Permanent rejections are never retried.
	MaxRetries int
	// BackoffBase is the first retry delay; subsequent delays double.
	BackoffBase time.Duration
	// CheckBatchSize chunks the fingerprint existence check.
	CheckBatchSize int
	// OnProgress, when set, receives a snapshot after every state change.
	// Snapshots arrive from a single goroutine at a time.
	OnProgress func(Progress)
}

const (
	defaultMaxConcurrent  = 4
	defaultMaxRetries     = 3
	defaultBackoffBase    = 500 * time.Millisecond
	defaultCheckBatchSize = 100
)

// Orchestrator runs the backup protocol against a Server.
type Orchestrator struct {
	server Server
	logger *slog.Logger
	opts   Options
}

func New(server Server, logger *slog.Logger, opts Options) *Orchestrator {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}

	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}

	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}

	if opts.CheckBatchSize <= 0 {
		opts.CheckBatchSize = defaultCheckBatchSize
	}

	return &Orchestrator{server: server, logger: logger, opts: opts}
}

// Run backs up the given photos: hash, check which fingerprints the server
// already has, upload the rest. Items sharing identical content are
// uploaded once; the rest resolve to the same server record. Local files
// that cannot be read fail immediately without retries.
//
// Run returns the report for whatever finished plus ctx.Err() when the
// context is cancelled mid-run; otherwise it returns a nil error even if
// individual photos failed.
func (o *Orchestrator) Run(ctx context.Context, photos []Photo) (Report, error) {
	items := make([]ItemResult, len(photos))
	for i, p := range photos {
		items[i] = ItemResult{Photo: p, State: StatePending}
	}

	track := newTracker(len(photos), o.opts.OnProgress)

	o.hashAll(ctx, items, track)

	if ctx.Err() == nil {
		existing, checkErr := o.checkExisting(ctx, items)

		switch {
		case checkErr != nil && ctx.Err() == nil:
			// The existence check failing wholesale fails every photo that
			// survived hashing; uploading blind would duplicate work the
			// server has already done.
			for i := range items {
				if items[i].State.Terminal() {
					continue
				}

				items[i].State = StateFailed
				items[i].Err = checkErr
				track.failed(items[i].Photo.Filename)
			}
		case checkErr == nil:
			for i := range items {
				if items[i].State.Terminal() {
					continue
				}

				if _, ok := existing[items[i].Fingerprint]; ok {
					items[i].State = StateSkipped
					track.completed(items[i].Photo.Filename)
				}
			}

			o.uploadMissing(ctx, items, track)
		}
	}

	report := Report{Items: items, Progress: track.snapshot()}

	if err := ctx.Err(); err != nil {
		track.cancel()
		report.Progress = track.snapshot()

		return report, err
	}

	return report, nil
}

// hashAll fingerprints every photo with bounded concurrency. Unreadable
// files go straight to StateFailed.
func (o *Orchestrator) hashAll(ctx context.Context, items []ItemResult, track *tracker) {
	g := new(errgroup.Group)
	g.SetLimit(o.opts.MaxConcurrent)

	for i := range items {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			it := &items[i]
			it.State = StateHashing
			track.working(it.Photo.Filename)

			fp, err := fingerprint.ComputeFile(it.Photo.Path)
			if err != nil {
				o.logger.Warn("hashing photo", "path", it.Photo.Path, "error", err)
				it.State = StateFailed
				it.Err = err
				track.failed(it.Photo.Filename)

				return nil
			}

			it.Fingerprint = fp

			return nil
		})
	}

	g.Wait() //nolint:errcheck
}

// checkExisting asks the server which fingerprints it already stores,
// chunked so huge libraries do not produce unbounded requests. The
// returned set holds the known fingerprints.
func (o *Orchestrator) checkExisting(ctx context.Context, items []ItemResult) (map[string]struct{}, error) {
	unique := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))

	for i := range items {
		fp := items[i].Fingerprint
		if items[i].State.Terminal() || fp == "" {
			continue
		}

		if _, ok := seen[fp]; ok {
			continue
		}

		seen[fp] = struct{}{}
		unique = append(unique, fp)
	}

	existing := make(map[string]struct{})

	for start := 0; start < len(unique); start += o.opts.CheckBatchSize {
		end := min(start+o.opts.CheckBatchSize, len(unique))

		var result []string

		err := o.withRetry(ctx, func(ctx context.Context) error {
			res, err := o.server.CheckHashes(ctx, unique[start:end])
			if err != nil {
				return err
			}

			result = res.Existing

			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("checking fingerprints with server: %w", err)
		}

		for _, fp := range result {
			existing[fp] = struct{}{}
		}
	}

	return existing, nil
}

// uploadMissing transfers the photos the server does not have. One
// representative per fingerprint is uploaded; the other items with the
// same content inherit its outcome as duplicates.
func (o *Orchestrator) uploadMissing(ctx context.Context, items []ItemResult, track *tracker) {
	byFingerprint := make(map[string][]int)
	order := make([]string, 0)

	for i := range items {
		if items[i].State.Terminal() {
			continue
		}

		fp := items[i].Fingerprint
		if _, ok := byFingerprint[fp]; !ok {
			order = append(order, fp)
		}

		byFingerprint[fp] = append(byFingerprint[fp], i)
	}

	g := new(errgroup.Group)
	g.SetLimit(o.opts.MaxConcurrent)

	for _, fp := range order {
		indices := byFingerprint[fp]

		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			rep := &items[indices[0]]
			track.working(rep.Photo.Filename)

			result, err := o.upload(ctx, rep.Photo)
			if err != nil {
				// Cancellation is not a per-photo failure; the photos stay
				// pending for the next run.
				if ctx.Err() != nil {
					return nil
				}

				o.logger.Warn("uploading photo", "path", rep.Photo.Path, "error", err)

				for _, i := range indices {
					items[i].State = StateFailed
					items[i].Err = err
					track.failed(items[i].Photo.Filename)
				}

				return nil
			}

			rep.ServerID = result.ID
			if result.IsDuplicate {
				rep.State = StateDuplicate
			} else {
				rep.State = StateUploaded
			}

			track.completed(rep.Photo.Filename)

			// Local copies of the same content resolve to the same record.
			for _, i := range indices[1:] {
				items[i].State = StateDuplicate
				items[i].ServerID = result.ID
				track.completed(items[i].Photo.Filename)
			}

			return nil
		})
	}

	g.Wait() //nolint:errcheck
}

func (o *Orchestrator) upload(ctx context.Context, photo Photo) (result api.UploadResult, err error) {
	err = o.withRetry(ctx, func(ctx context.Context) error {
		res, err := o.server.Upload(ctx, photo)
		if err != nil {
			return err
		}

		result = res

		return nil
	})

	return result, err
}

// withRetry runs op with exponential backoff. Permanent server rejections
// (4xx) and context cancellation stop immediately.
func (o *Orchestrator) withRetry(ctx context.Context, op func(context.Context) error) error {
	backoff := retry.NewExponential(o.opts.BackoffBase)
	backoff = retry.WithJitter(o.opts.BackoffBase/2, backoff)
	backoff = retry.WithMaxRetries(uint64(o.opts.MaxRetries), backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := op(ctx)
		if err == nil || isPermanent(err) {
			return err
		}

		return retry.RetryableError(err)
	})
}

// isPermanent reports whether the server rejected the request for good.
// 429 and 408 are the 4xx statuses that explicitly invite another attempt.
func isPermanent(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}

	switch statusErr.Status {
	case http.StatusTooManyRequests, http.StatusRequestTimeout:
		return false
	}

	return statusErr.Status >= 400 && statusErr.Status < 500
}
