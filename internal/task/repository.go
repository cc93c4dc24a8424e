// Package task owns the scheduled-task lifecycle: creation, ownership-scoped
// reads, cancellation, deletion, and the claim/finish surface the dispatcher
// drives. All transitions out of pending go through a conditional write so a
// user cancel and a dispatcher execution can never both win.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tempoq/internal/domain"
	"tempoq/internal/store"
)

const (
	keyPrefix   = "task:"
	dueSet      = "tasks:due"
	finishedSet = "tasks:finished"
)

func ownerSet(userID string) string { return "user:" + userID + ":tasks" }

type Repository struct {
	store store.Store
	index store.Index
	log   zerolog.Logger
	now   func() time.Time
}

func NewRepository(s store.Store, ix store.Index, log zerolog.Logger) *Repository {
	return &Repository{
		store: s,
		index: ix,
		log:   log.With().Str("component", "tasks").Logger(),
		now:   time.Now,
	}
}

// Schedule validates and persists a new pending task and indexes it by its
// scheduled time. Past timestamps are accepted; they become immediately due.
func (r *Repository) Schedule(ctx context.Context, taskType string, payload json.RawMessage, scheduledTime int64, userID string) (string, error) {
	if taskType == "" {
		return "", fmt.Errorf("%w: taskType is required", domain.ErrValidation)
	}
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: payload is required", domain.ErrValidation)
	}
	if scheduledTime <= 0 {
		return "", fmt.Errorf("%w: scheduledTime must be a positive unix timestamp", domain.ErrValidation)
	}
	if userID == "" {
		return "", fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}

	t := domain.Task{
		ID:            "tsk_" + uuid.NewString(),
		Type:          taskType,
		Payload:       payload,
		ScheduledTime: scheduledTime,
		Status:        domain.StatusPending,
		UserID:        userID,
		CreatedAt:     r.now().Unix(),
	}
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encode task: %w", err)
	}
	if err := r.store.Set(ctx, keyPrefix+t.ID, b); err != nil {
		return "", fmt.Errorf("persist task: %w", err)
	}
	if err := r.index.Add(ctx, dueSet, t.ScheduledTime, t.ID); err != nil {
		return "", fmt.Errorf("index task: %w", err)
	}
	if err := r.index.Add(ctx, ownerSet(userID), t.CreatedAt, t.ID); err != nil {
		return "", fmt.Errorf("index task by owner: %w", err)
	}
	r.log.Debug().Str("task_id", t.ID).Str("task_type", taskType).Int64("scheduled_time", scheduledTime).Msg("task scheduled")
	return t.ID, nil
}

// Get loads a task without an ownership check. It is for trusted internal
// callers; the API layer goes through GetOwned.
func (r *Repository) Get(ctx context.Context, id string) (domain.Task, error) {
	b, err := r.store.Get(ctx, keyPrefix+id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Task{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("load task %s: %w", id, err)
	}
	var t domain.Task
	if err := json.Unmarshal(b, &t); err != nil {
		return domain.Task{}, fmt.Errorf("decode task %s: %w", id, err)
	}
	return t, nil
}

func (r *Repository) GetOwned(ctx context.Context, id, userID string) (domain.Task, error) {
	t, err := r.Get(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if t.UserID != userID {
		return domain.Task{}, domain.ErrForbidden
	}
	return t, nil
}

// ListByOwner returns the caller's tasks of any status in creation order.
func (r *Repository) ListByOwner(ctx context.Context, userID string) ([]domain.Task, error) {
	ids, err := r.index.RangeByScore(ctx, ownerSet(userID), store.ScoreMin, store.ScoreMax)
	if err != nil {
		return nil, fmt.Errorf("list tasks for %s: %w", userID, err)
	}
	tasks := make([]domain.Task, 0, len(ids))
	for _, id := range ids {
		t, err := r.Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue // deleted since the index read
		}
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Cancel transitions an owned pending task to cancelled. The status check and
// write happen in one atomic update, so a dispatcher that already claimed the
// task will see its own finish write rejected instead.
func (r *Repository) Cancel(ctx context.Context, id, userID string) error {
	err := r.store.Update(ctx, keyPrefix+id, func(cur []byte) ([]byte, error) {
		if cur == nil {
			return nil, domain.ErrNotFound
		}
		var t domain.Task
		if err := json.Unmarshal(cur, &t); err != nil {
			return nil, fmt.Errorf("decode task %s: %w", id, err)
		}
		if t.UserID != userID {
			return nil, domain.ErrForbidden
		}
		if t.Status != domain.StatusPending {
			return nil, domain.ErrInvalidState
		}
		t.Status = domain.StatusCancelled
		t.FinishedAt = r.now().Unix()
		return json.Marshal(t)
	})
	if err != nil {
		return err
	}
	if _, err := r.index.Remove(ctx, dueSet, id); err != nil {
		return fmt.Errorf("deindex task %s: %w", id, err)
	}
	if err := r.index.Add(ctx, finishedSet, r.now().Unix(), id); err != nil {
		return fmt.Errorf("index finished task %s: %w", id, err)
	}
	r.log.Info().Str("task_id", id).Msg("task cancelled")
	return nil
}

// Delete removes an owned task of any status from the store and all indexes.
// A second delete of the same ID reports ErrNotFound.
func (r *Repository) Delete(ctx context.Context, id, userID string) error {
	t, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.UserID != userID {
		return domain.ErrForbidden
	}
	if err := r.store.Delete(ctx, keyPrefix+id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if _, err := r.index.Remove(ctx, dueSet, id); err != nil {
		return fmt.Errorf("deindex task %s: %w", id, err)
	}
	if _, err := r.index.Remove(ctx, finishedSet, id); err != nil {
		return fmt.Errorf("deindex task %s: %w", id, err)
	}
	if _, err := r.index.Remove(ctx, ownerSet(userID), id); err != nil {
		return fmt.Errorf("deindex task %s: %w", id, err)
	}
	r.log.Info().Str("task_id", id).Msg("task deleted")
	return nil
}

// DueBefore returns IDs of pending tasks scheduled at or before now, ordered
// by scheduled time.
func (r *Repository) DueBefore(ctx context.Context, now int64) ([]string, error) {
	return r.index.RangeByScore(ctx, dueSet, store.ScoreMin, now)
}

// Claim removes id from the due index and re-fetches the record. Only the
// caller that observed the removal may execute the task; a missing or
// non-pending record means a cancel or delete got there first and the claim
// reports false with no error.
func (r *Repository) Claim(ctx context.Context, id string) (domain.Task, bool, error) {
	removed, err := r.index.Remove(ctx, dueSet, id)
	if err != nil {
		return domain.Task{}, false, fmt.Errorf("claim task %s: %w", id, err)
	}
	if !removed {
		return domain.Task{}, false, nil
	}
	t, err := r.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Task{}, false, nil
	}
	if err != nil {
		return domain.Task{}, false, err
	}
	if t.Status != domain.StatusPending {
		return domain.Task{}, false, nil
	}
	return t, true, nil
}

// Finish records a dispatch outcome with a conditional pending->status write.
// ErrInvalidState means a concurrent cancel won while the executor ran; the
// caller discards the outcome.
func (r *Repository) Finish(ctx context.Context, id string, status domain.Status) error {
	if status != domain.StatusCompleted && status != domain.StatusFailed {
		return fmt.Errorf("%w: cannot finish task as %q", domain.ErrValidation, status)
	}
	err := r.store.Update(ctx, keyPrefix+id, func(cur []byte) ([]byte, error) {
		if cur == nil {
			return nil, domain.ErrNotFound
		}
		var t domain.Task
		if err := json.Unmarshal(cur, &t); err != nil {
			return nil, fmt.Errorf("decode task %s: %w", id, err)
		}
		if t.Status != domain.StatusPending {
			return nil, domain.ErrInvalidState
		}
		t.Status = status
		t.FinishedAt = r.now().Unix()
		return json.Marshal(t)
	})
	if err != nil {
		return err
	}
	if err := r.index.Add(ctx, finishedSet, r.now().Unix(), id); err != nil {
		return fmt.Errorf("index finished task %s: %w", id, err)
	}
	return nil
}

// PurgeFinishedBefore deletes terminal task records that finished at or before
// cutoff. It backs the configurable retention policy; with retention disabled
// it is never called and records are kept indefinitely.
func (r *Repository) PurgeFinishedBefore(ctx context.Context, cutoff int64) (int, error) {
	ids, err := r.index.RangeByScore(ctx, finishedSet, store.ScoreMin, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list finished tasks: %w", err)
	}
	purged := 0
	for _, id := range ids {
		t, err := r.Get(ctx, id)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return purged, err
		}
		if err == nil {
			if err := r.store.Delete(ctx, keyPrefix+id); err != nil {
				return purged, fmt.Errorf("purge task %s: %w", id, err)
			}
			if _, err := r.index.Remove(ctx, ownerSet(t.UserID), id); err != nil {
				return purged, fmt.Errorf("deindex task %s: %w", id, err)
			}
		}
		if _, err := r.index.Remove(ctx, finishedSet, id); err != nil {
			return purged, fmt.Errorf("deindex task %s: %w", id, err)
		}
		purged++
	}
	return purged, nil
}
