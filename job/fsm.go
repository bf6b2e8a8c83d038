package job

import (
	"fmt"

	"github.com/xraph/jobdispatch"
)

// edges is the complete set of legal transitions. Terminal statuses and
// the reserved Retrying status have no entry.
var edges = map[Status][]Status{
	StatusPending:    {StatusDispatched, StatusCancelled},
	StatusScheduled:  {StatusDispatched, StatusCancelled},
	StatusDispatched: {StatusRunning, StatusCompleted, StatusFailed, StatusCancelled},
	StatusRunning:    {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:     {StatusRunning, StatusCompleted, StatusFailed, StatusCancelled},
}

// TransitionError reports a change the state machine rejected.
type TransitionError struct {
	JobID  string
	From   Status
	To     Status
	Reason string
}

func (e *TransitionError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("job %s: %s -> %s rejected: %s", e.JobID, e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("%s -> %s rejected: %s", e.From, e.To, e.Reason)
}

// Is matches [jobdispatch.ErrInvalidTransition].
func (e *TransitionError) Is(target error) bool {
	return target == jobdispatch.ErrInvalidTransition
}

// Allowed reports whether from -> to is a legal edge.
func Allowed(from, to Status) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Validate accepts or rejects the change from -> to. A rejection is always a
// *TransitionError with a reason.
func Validate(from, to Status) error {
	reject := func(format string, args ...any) error {
		return &TransitionError{From: from, To: to, Reason: fmt.Sprintf(format, args...)}
	}

	switch {
	case !from.Valid():
		return reject("unknown current status")
	case !to.Valid():
		return reject("unknown target status")
	case from == StatusRetrying || to == StatusRetrying:
		return reject("retrying is reserved and has no transitions")
	case from.IsTerminal():
		return reject("%s is terminal", from)
	case from == to:
		return reject("job is already %s", from)
	case to.IsQueued():
		return reject("%s is an initial status only", to)
	case !Allowed(from, to):
		return reject("%s cannot move to %s", from, to)
	}
	return nil
}
