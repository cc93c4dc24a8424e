package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"tempoq/internal/domain"
	"tempoq/internal/store"
	"tempoq/internal/task"
)

var payload = json.RawMessage(`{"message":"hourly"}`)

func newTestService() (*Service, *task.Repository) {
	m := store.NewMemory()
	tasks := task.NewRepository(m, m, zerolog.Nop())
	return New(m, m, tasks, zerolog.Nop()), tasks
}

func TestCreateRejectsBadCronExpression(t *testing.T) {
	s, _ := newTestService()
	_, err := s.Create(context.Background(), "u1", "not a cron expr", "log", payload)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService()

	_, err := s.Create(ctx, "u1", "* * * * *", "", payload)
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = s.Create(ctx, "u1", "* * * * *", "log", nil)
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = s.Create(ctx, "", "* * * * *", "log", payload)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreateAndListByOwner(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService()

	id, err := s.Create(ctx, "u1", "*/5 * * * *", "log", payload)
	require.NoError(t, err)
	_, err = s.Create(ctx, "u2", "* * * * *", "log", payload)
	require.NoError(t, err)

	schedules, err := s.ListByOwner(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	require.Equal(t, id, schedules[0].ID)
	require.Equal(t, "*/5 * * * *", schedules[0].CronExpr)
	require.Greater(t, schedules[0].NextRun, time.Now().Unix())
}

func TestDeleteEnforcesOwnership(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService()

	id, err := s.Create(ctx, "u1", "* * * * *", "log", payload)
	require.NoError(t, err)

	require.ErrorIs(t, s.Delete(ctx, id, "u2"), domain.ErrForbidden)
	require.NoError(t, s.Delete(ctx, id, "u1"))
	require.ErrorIs(t, s.Delete(ctx, id, "u1"), domain.ErrNotFound)
}

func TestMaterializeDueCreatesTaskAndAdvances(t *testing.T) {
	ctx := context.Background()
	s, tasks := newTestService()

	base := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	s.now = func() time.Time { return base }

	id, err := s.Create(ctx, "u1", "* * * * *", "log", payload)
	require.NoError(t, err)

	sc, err := s.Get(ctx, id)
	require.NoError(t, err)
	firstRun := sc.NextRun
	require.Equal(t, base.Truncate(time.Minute).Add(time.Minute).Unix(), firstRun)

	// not due yet
	require.NoError(t, s.MaterializeDue(ctx, base))
	owned, err := tasks.ListByOwner(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, owned)

	// due now
	dueAt := time.Unix(firstRun, 0)
	require.NoError(t, s.MaterializeDue(ctx, dueAt))

	owned, err = tasks.ListByOwner(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, owned, 1)
	require.Equal(t, "log", owned[0].Type)
	require.Equal(t, firstRun, owned[0].ScheduledTime)
	require.Equal(t, domain.StatusPending, owned[0].Status)

	sc, err = s.Get(ctx, id)
	require.NoError(t, err)
	require.Greater(t, sc.NextRun, firstRun)
}

func TestMaterializeSkipsDeletedSchedule(t *testing.T) {
	ctx := context.Background()
	s, tasks := newTestService()

	id, err := s.Create(ctx, "u1", "* * * * *", "log", payload)
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, id, "u1"))

	require.NoError(t, s.MaterializeDue(ctx, time.Now().Add(2*time.Minute)))

	owned, err := tasks.ListByOwner(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, owned)
}
