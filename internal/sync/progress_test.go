package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgress_Fraction(t *testing.T) {
	tests := []struct {
		name string
		prog Progress
		want float64
	}{
		{name: "empty run", prog: Progress{}, want: 0},
		{name: "nothing settled", prog: Progress{Total: 4}, want: 0},
		{name: "half done", prog: Progress{Total: 4, Completed: 2}, want: 0.5},
		{name: "all done", prog: Progress{Total: 4, Completed: 4}, want: 1},
		// Failures do not count as progress.
		{name: "one done one failed", prog: Progress{Total: 3, Completed: 1, Failed: 1}, want: 1.0 / 3},
		{name: "all failed", prog: Progress{Total: 2, Failed: 2}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.prog.Fraction(), 1e-9)
		})
	}
}

func TestProgress_IsComplete(t *testing.T) {
	tests := []struct {
		name string
		prog Progress
		want bool
	}{
		{name: "empty run", prog: Progress{}, want: true},
		{name: "in flight", prog: Progress{Total: 3, Completed: 1, Failed: 1}, want: false},
		{name: "all completed", prog: Progress{Total: 3, Completed: 3}, want: true},
		{name: "mixed terminal", prog: Progress{Total: 3, Completed: 2, Failed: 1}, want: true},
		// Also complete if counters ever overshoot the total.
		{name: "overshoot", prog: Progress{Total: 3, Completed: 3, Failed: 1}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.prog.IsComplete())
		})
	}
}
