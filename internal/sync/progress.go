package sync

import stdsync "sync"

// tracker serializes progress updates from concurrent workers and emits
// snapshots to the configured callback one at a time.
type tracker struct {
	mu   stdsync.Mutex
	prog Progress
	emit func(Progress)
}

func newTracker(total int, emit func(Progress)) *tracker {
	return &tracker{prog: Progress{Total: total}, emit: emit}
}

func (t *tracker) working(current string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.prog.Current = current
	t.publish()
}

func (t *tracker) completed(current string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.prog.Completed++
	t.prog.Current = current
	t.publish()
}

func (t *tracker) failed(current string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.prog.Failed++
	t.prog.Current = current
	t.publish()
}

func (t *tracker) cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.prog.Cancelled = true
	t.publish()
}

func (t *tracker) snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.prog
}

// publish is called with the lock held so callbacks never overlap.
func (t *tracker) publish() {
	if t.emit != nil {
		t.emit(t.prog)
	}
}
