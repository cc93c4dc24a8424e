// Package executor maps task types to the functions that perform their side
// effects. The task engine never inspects payloads; it hands them to the
// registered executor verbatim.
package executor

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
)

type Executor interface {
	Execute(ctx context.Context, payload json.RawMessage) error
}

// Func adapts a plain function to the Executor interface.
type Func func(ctx context.Context, payload json.RawMessage) error

func (f Func) Execute(ctx context.Context, payload json.RawMessage) error {
	return f(ctx, payload)
}

type Registry struct {
	executors map[string]Executor
	log       zerolog.Logger
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		log:       log.With().Str("component", "executors").Logger(),
	}
}

// Register binds an executor to a task type. Register everything before the
// dispatcher starts; the map is not guarded for concurrent mutation.
func (r *Registry) Register(taskType string, ex Executor) {
	r.executors[taskType] = ex
}

// Execute runs the executor registered for taskType. An unrecognized type is
// logged and treated as a successful no-op so one bad submission cannot wedge
// the dispatch loop.
func (r *Registry) Execute(ctx context.Context, taskType string, payload json.RawMessage) error {
	ex, ok := r.executors[taskType]
	if !ok {
		r.log.Warn().Str("task_type", taskType).Msg("no executor registered, skipping")
		return nil
	}
	return ex.Execute(ctx, payload)
}
