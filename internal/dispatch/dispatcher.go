// Package dispatch runs the background loop that detects due tasks and drives
// them through execution. It owns no side effects itself; those live behind
// the executor registry.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"tempoq/internal/domain"
	"tempoq/internal/executor"
	"tempoq/internal/scheduler"
	"tempoq/internal/task"
)

type Dispatcher struct {
	tasks     *task.Repository
	schedules *scheduler.Service
	registry  *executor.Registry
	interval  time.Duration
	retention time.Duration
	stop      chan struct{}
	log       zerolog.Logger
}

// New wires a dispatcher. schedules may be nil to run without recurring
// templates. retention <= 0 keeps finished task records forever.
func New(tasks *task.Repository, schedules *scheduler.Service, registry *executor.Registry, interval, retention time.Duration, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		tasks:     tasks,
		schedules: schedules,
		registry:  registry,
		interval:  interval,
		retention: retention,
		stop:      make(chan struct{}),
		log:       log.With().Str("component", "dispatcher").Logger(),
	}
}

func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.log.Info().Dur("interval", d.interval).Msg("dispatcher started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case now := <-ticker.C:
			d.tick(ctx, now)
		}
	}
}

func (d *Dispatcher) Stop() {
	close(d.stop)
}

// tick processes one poll cycle. A store failure on the due query aborts the
// tick; unprocessed tasks stay indexed and the next tick retries naturally.
// Per-task failures are isolated.
func (d *Dispatcher) tick(ctx context.Context, now time.Time) {
	if d.schedules != nil {
		if err := d.schedules.MaterializeDue(ctx, now); err != nil {
			d.log.Error().Err(err).Msg("failed to materialize due schedules")
		}
	}

	ids, err := d.tasks.DueBefore(ctx, now.Unix())
	if err != nil {
		d.log.Error().Err(err).Msg("failed to query due tasks")
		return
	}
	for _, id := range ids {
		if err := d.process(ctx, id); err != nil {
			d.log.Error().Err(err).Str("task_id", id).Msg("failed to process due task")
		}
	}

	if d.retention > 0 {
		cutoff := now.Add(-d.retention).Unix()
		n, err := d.tasks.PurgeFinishedBefore(ctx, cutoff)
		if err != nil {
			d.log.Error().Err(err).Msg("failed to purge finished tasks")
		} else if n > 0 {
			d.log.Debug().Int("purged", n).Msg("purged finished tasks")
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, id string) error {
	t, claimed, err := d.tasks.Claim(ctx, id)
	if err != nil {
		return err
	}
	if !claimed {
		// cancelled, deleted, or grabbed by someone else since the index read
		return nil
	}

	status := domain.StatusCompleted
	if err := d.registry.Execute(ctx, t.Type, t.Payload); err != nil {
		d.log.Warn().Err(err).Str("task_id", t.ID).Str("task_type", t.Type).Msg("executor failed")
		status = domain.StatusFailed
	}

	if err := d.tasks.Finish(ctx, t.ID, status); err != nil {
		if errors.Is(err, domain.ErrInvalidState) || errors.Is(err, domain.ErrNotFound) {
			// the owner cancelled or deleted mid-execution; their write wins
			d.log.Debug().Str("task_id", t.ID).Msg("dispatch outcome discarded, task finished elsewhere")
			return nil
		}
		return err
	}
	d.log.Info().Str("task_id", t.ID).Str("task_type", t.Type).Str("status", string(status)).Msg("task executed")
	return nil
}
