package jobdispatch

import "time"

// Config holds worker runtime configuration.
type Config struct {
	// Concurrency is the number of claim loops a worker pool runs.
	Concurrency int

	// PollInterval is how long an idle claim loop sleeps before polling again.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight jobs on stop.
	ShutdownTimeout time.Duration

	// CancelCheckInterval is how often a pool re-reads its active jobs to
	// notice administrative cancellation.
	CancelCheckInterval time.Duration

	// OffPeak is the low-load window during which off-peak-only jobs may be
	// claimed.
	OffPeak OffPeakWindow
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:         10,
		PollInterval:        1 * time.Second,
		ShutdownTimeout:     30 * time.Second,
		CancelCheckInterval: 5 * time.Second,
		OffPeak: OffPeakWindow{
			StartHour: 22,
			EndHour:   6,
			Location:  time.UTC,
		},
	}
}

// OffPeakWindow is a daily [StartHour, EndHour) window in Location. A window
// whose end is before its start wraps past midnight. Equal hours disable
// the window.
type OffPeakWindow struct {
	StartHour int
	EndHour   int
	Location  *time.Location
}

// Contains reports whether t falls inside the window.
func (w OffPeakWindow) Contains(t time.Time) bool {
	if w.StartHour == w.EndHour {
		return false
	}
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	h := t.In(loc).Hour()
	if w.StartHour < w.EndHour {
		return h >= w.StartHour && h < w.EndHour
	}
	return h >= w.StartHour || h < w.EndHour
}
