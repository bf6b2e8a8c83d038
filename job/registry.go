package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// HandlerFunc is a type-erased job handler that accepts raw JSON parameters
// and returns a raw JSON result. The typed Definition[T] is converted to a
// HandlerFunc at registration time.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)

// Registry maps job types to type-erased handler functions.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// RegisterDefinition registers a typed job definition. The generic handler
// is wrapped in a closure that decodes the parameters into T and encodes
// the handler's result.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	r.Register(def.JobType, func(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
		var t T
		if len(params) > 0 {
			if err := json.Unmarshal(params, &t); err != nil {
				return nil, fmt.Errorf("unmarshal parameters for job type %q: %w", def.JobType, err)
			}
		}
		out, err := def.Handler(ctx, t)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, nil
		}
		if raw, ok := out.(json.RawMessage); ok {
			return raw, nil
		}
		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("marshal result for job type %q: %w", def.JobType, err)
		}
		return b, nil
	})
}

// Register adds a raw handler for jobType, replacing any previous one.
func (r *Registry) Register(jobType string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// Get returns the handler for the given job type.
func (r *Registry) Get(jobType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// JobTypes returns all registered job types, sorted.
func (r *Registry) JobTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
