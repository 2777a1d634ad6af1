// File: internal/infra/worker/registry.go
package worker

import (
	"context"
	"fmt"

	"vidfab-pipeline/internal/domain/model"
)

// Handler executes one attempt of a job. A nil return completes the job; a
// TerminalError from the provider dead-letters it immediately; any other
// error goes through the retry/backoff policy.
type Handler func(ctx context.Context, job *model.Job) error

// Registry maps job types to handlers. It is assembled once at startup;
// registering a type twice or dispatching an unknown type is a wiring bug.
type Registry struct {
	handlers map[model.JobType]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[model.JobType]Handler)}
}

func (r *Registry) Register(t model.JobType, h Handler) {
	if !t.Valid() {
		panic(fmt.Sprintf("worker: registering handler for unknown job type %q", t))
	}
	if _, dup := r.handlers[t]; dup {
		panic(fmt.Sprintf("worker: duplicate handler for job type %q", t))
	}
	r.handlers[t] = h
}

func (r *Registry) Lookup(t model.JobType) (Handler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}
