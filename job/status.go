package job

import "fmt"

// Status is the lifecycle status of a job. The zero value is not a valid
// status; stores convert to and from text only through [Status.String] and
// [ParseStatus].
type Status uint8

const (
	// StatusPending means the job is waiting to be claimed.
	StatusPending Status = iota + 1
	// StatusScheduled means the job may not be claimed before its
	// scheduled start.
	StatusScheduled
	// StatusDispatched means a worker claimed the job but has not started it.
	StatusDispatched
	// StatusRunning means a worker is executing the job.
	StatusRunning
	// StatusPaused means an administrator paused a running job.
	StatusPaused
	// StatusCompleted means the job finished successfully.
	StatusCompleted
	// StatusFailed means the job finished with an error.
	StatusFailed
	// StatusCancelled means the job was cancelled before finishing.
	StatusCancelled
	// StatusRetrying is reserved. No transition enters or leaves it.
	StatusRetrying
)

var statusNames = [...]string{
	StatusPending:    "pending",
	StatusScheduled:  "scheduled",
	StatusDispatched: "dispatched",
	StatusRunning:    "running",
	StatusPaused:     "paused",
	StatusCompleted:  "completed",
	StatusFailed:     "failed",
	StatusCancelled:  "cancelled",
	StatusRetrying:   "retrying",
}

// Statuses returns every valid status in declaration order.
func Statuses() []Status {
	out := make([]Status, 0, len(statusNames)-1)
	for s := StatusPending; s <= StatusRetrying; s++ {
		out = append(out, s)
	}
	return out
}

// Valid reports whether s is a member of the enum.
func (s Status) Valid() bool {
	return s >= StatusPending && s <= StatusRetrying
}

// IsTerminal reports whether s has no outgoing transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsQueued reports whether s is a pre-claim status.
func (s Status) IsQueued() bool {
	return s == StatusPending || s == StatusScheduled
}

// IsActive reports whether a worker owns a job in status s.
func (s Status) IsActive() bool {
	return s == StatusDispatched || s == StatusRunning || s == StatusPaused
}

func (s Status) String() string {
	if !s.Valid() {
		return fmt.Sprintf("status(%d)", uint8(s))
	}
	return statusNames[s]
}

// ParseStatus converts a persisted status name back to a Status.
func ParseStatus(name string) (Status, error) {
	for s := StatusPending; s <= StatusRetrying; s++ {
		if statusNames[s] == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("job: unknown status %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("job: cannot marshal invalid status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(data []byte) error {
	parsed, err := ParseStatus(string(data))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
