// Package scheduler manages recurring task templates. Owners register a cron
// expression plus a task type and payload; each dispatcher tick materializes
// due templates into one-shot tasks and advances their next-run time.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"tempoq/internal/domain"
	"tempoq/internal/store"
	"tempoq/internal/task"
)

const (
	keyPrefix  = "sched:"
	nextRunSet = "schedules:next"
)

func ownerSet(userID string) string { return "user:" + userID + ":schedules" }

type Service struct {
	store store.Store
	index store.Index
	tasks *task.Repository
	log   zerolog.Logger
	now   func() time.Time
}

func New(s store.Store, ix store.Index, tasks *task.Repository, log zerolog.Logger) *Service {
	return &Service{
		store: s,
		index: ix,
		tasks: tasks,
		log:   log.With().Str("component", "schedules").Logger(),
		now:   time.Now,
	}
}

// ValidateCronExpression validates a standard 5-field cron expression.
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

func (s *Service) Create(ctx context.Context, userID, cronExpr, taskType string, payload json.RawMessage) (string, error) {
	if taskType == "" {
		return "", fmt.Errorf("%w: taskType is required", domain.ErrValidation)
	}
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: payload is required", domain.ErrValidation)
	}
	if userID == "" {
		return "", fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}
	spec, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return "", fmt.Errorf("%w: invalid cron expression: %v", domain.ErrValidation, err)
	}

	sc := domain.Schedule{
		ID:        "sch_" + uuid.NewString(),
		UserID:    userID,
		CronExpr:  cronExpr,
		TaskType:  taskType,
		Payload:   payload,
		NextRun:   spec.Next(s.now()).Unix(),
		CreatedAt: s.now().Unix(),
	}
	b, err := json.Marshal(sc)
	if err != nil {
		return "", fmt.Errorf("encode schedule: %w", err)
	}
	if err := s.store.Set(ctx, keyPrefix+sc.ID, b); err != nil {
		return "", fmt.Errorf("persist schedule: %w", err)
	}
	if err := s.index.Add(ctx, nextRunSet, sc.NextRun, sc.ID); err != nil {
		return "", fmt.Errorf("index schedule: %w", err)
	}
	if err := s.index.Add(ctx, ownerSet(userID), sc.CreatedAt, sc.ID); err != nil {
		return "", fmt.Errorf("index schedule by owner: %w", err)
	}
	s.log.Info().Str("schedule_id", sc.ID).Str("cron_expr", cronExpr).Str("task_type", taskType).Msg("schedule created")
	return sc.ID, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Schedule, error) {
	b, err := s.store.Get(ctx, keyPrefix+id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Schedule{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("load schedule %s: %w", id, err)
	}
	var sc domain.Schedule
	if err := json.Unmarshal(b, &sc); err != nil {
		return domain.Schedule{}, fmt.Errorf("decode schedule %s: %w", id, err)
	}
	return sc, nil
}

func (s *Service) ListByOwner(ctx context.Context, userID string) ([]domain.Schedule, error) {
	ids, err := s.index.RangeByScore(ctx, ownerSet(userID), store.ScoreMin, store.ScoreMax)
	if err != nil {
		return nil, fmt.Errorf("list schedules for %s: %w", userID, err)
	}
	schedules := make([]domain.Schedule, 0, len(ids))
	for _, id := range ids {
		sc, err := s.Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sc)
	}
	return schedules, nil
}

func (s *Service) Delete(ctx context.Context, id, userID string) error {
	sc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if sc.UserID != userID {
		return domain.ErrForbidden
	}
	if err := s.store.Delete(ctx, keyPrefix+id); err != nil {
		return fmt.Errorf("delete schedule %s: %w", id, err)
	}
	if _, err := s.index.Remove(ctx, nextRunSet, id); err != nil {
		return fmt.Errorf("deindex schedule %s: %w", id, err)
	}
	if _, err := s.index.Remove(ctx, ownerSet(userID), id); err != nil {
		return fmt.Errorf("deindex schedule %s: %w", id, err)
	}
	s.log.Info().Str("schedule_id", id).Msg("schedule deleted")
	return nil
}

// MaterializeDue turns every schedule with next-run <= now into a one-shot
// task and advances its next-run time. One broken schedule is logged and
// skipped, not allowed to block the rest.
func (s *Service) MaterializeDue(ctx context.Context, now time.Time) error {
	ids, err := s.index.RangeByScore(ctx, nextRunSet, store.ScoreMin, now.Unix())
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}
	for _, id := range ids {
		if err := s.materialize(ctx, id, now); err != nil {
			s.log.Error().Err(err).Str("schedule_id", id).Msg("failed to materialize schedule")
		}
	}
	return nil
}

func (s *Service) materialize(ctx context.Context, id string, now time.Time) error {
	sc, err := s.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		// deleted since the index read; drop the stale entry
		_, _ = s.index.Remove(ctx, nextRunSet, id)
		return nil
	}
	if err != nil {
		return err
	}

	taskID, err := s.tasks.Schedule(ctx, sc.TaskType, sc.Payload, sc.NextRun, sc.UserID)
	if err != nil {
		return fmt.Errorf("enqueue task for schedule: %w", err)
	}

	spec, err := cron.ParseStandard(sc.CronExpr)
	if err != nil {
		return fmt.Errorf("parse cron expression %q: %w", sc.CronExpr, err)
	}
	sc.NextRun = spec.Next(now).Unix()
	b, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encode schedule: %w", err)
	}
	if err := s.store.Set(ctx, keyPrefix+sc.ID, b); err != nil {
		return fmt.Errorf("persist schedule: %w", err)
	}
	if err := s.index.Add(ctx, nextRunSet, sc.NextRun, sc.ID); err != nil {
		return fmt.Errorf("index schedule: %w", err)
	}

	s.log.Info().
		Str("schedule_id", sc.ID).
		Str("task_id", taskID).
		Time("next_run", time.Unix(sc.NextRun, 0)).
		Msg("scheduled task enqueued")
	return nil
}
