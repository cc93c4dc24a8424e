package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"tempoq/internal/domain"
	"tempoq/internal/scheduler"
	"tempoq/internal/store"
	"tempoq/internal/task"
	"tempoq/internal/user"
)

func newTestServer() http.Handler {
	m := store.NewMemory()
	tasks := task.NewRepository(m, m, zerolog.Nop())
	schedules := scheduler.New(m, m, tasks, zerolog.Nop())
	users := user.NewService(m, []byte("test-secret"), time.Hour, zerolog.Nop())
	return NewServer(tasks, schedules, users, zerolog.Nop())
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func registerUser(t *testing.T, h http.Handler, username string) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/users/register", "", map[string]string{
		"username": username, "password": "hunter2",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Token string `json:"token"`
	}
	decode(t, rec, &resp)
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func submitTask(t *testing.T, h http.Handler, token string, scheduledTime int64) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/tasks", token, map[string]any{
		"taskType":      "log",
		"payload":       map[string]string{"message": "hi"},
		"scheduledTime": scheduledTime,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		TaskID string `json:"taskId"`
	}
	decode(t, rec, &resp)
	require.NotEmpty(t, resp.TaskID)
	return resp.TaskID
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(), http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterLoginFlow(t *testing.T) {
	h := newTestServer()
	registerUser(t, h, "alice")

	rec := do(t, h, http.MethodPost, "/api/users/login", "", map[string]string{
		"username": "alice", "password": "hunter2",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/users/login", "", map[string]string{
		"username": "alice", "password": "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/users/register", "", map[string]string{
		"username": "alice", "password": "again",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTasksRequireAuth(t *testing.T) {
	h := newTestServer()
	rec := do(t, h, http.MethodGet, "/api/tasks", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/tasks", "garbage-token", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	h := newTestServer()
	token := registerUser(t, h, "alice")
	future := time.Now().Unix() + 3600

	id := submitTask(t, h, token, future)

	rec := do(t, h, http.MethodGet, "/api/tasks/"+id, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.Task
	decode(t, rec, &got)
	require.Equal(t, domain.StatusPending, got.Status)
	require.Equal(t, future, got.ScheduledTime)

	rec = do(t, h, http.MethodGet, "/api/tasks", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []domain.Task
	decode(t, rec, &list)
	require.Len(t, list, 1)

	rec = do(t, h, http.MethodPatch, fmt.Sprintf("/api/tasks/%s/cancel", id), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPatch, fmt.Sprintf("/api/tasks/%s/cancel", id), token, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/tasks/"+id, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/tasks/"+id, token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitTaskValidation(t *testing.T) {
	h := newTestServer()
	token := registerUser(t, h, "alice")

	rec := do(t, h, http.MethodPost, "/api/tasks", token, map[string]any{
		"taskType":      "",
		"payload":       map[string]string{"message": "hi"},
		"scheduledTime": time.Now().Unix(),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCrossUserAccessIsForbidden(t *testing.T) {
	h := newTestServer()
	alice := registerUser(t, h, "alice")
	mallory := registerUser(t, h, "mallory")

	id := submitTask(t, h, alice, time.Now().Unix()+3600)

	rec := do(t, h, http.MethodGet, "/api/tasks/"+id, mallory, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodPatch, fmt.Sprintf("/api/tasks/%s/cancel", id), mallory, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/tasks/"+id, mallory, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// mallory's listing must not leak alice's task
	rec = do(t, h, http.MethodGet, "/api/tasks", mallory, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []domain.Task
	decode(t, rec, &list)
	require.Empty(t, list)
}

func TestScheduleEndpoints(t *testing.T) {
	h := newTestServer()
	token := registerUser(t, h, "alice")

	rec := do(t, h, http.MethodPost, "/api/schedules", token, map[string]any{
		"cronExpr": "*/10 * * * *",
		"taskType": "log",
		"payload":  map[string]string{"message": "periodic"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ScheduleID string `json:"scheduleId"`
	}
	decode(t, rec, &created)
	require.NotEmpty(t, created.ScheduleID)

	rec = do(t, h, http.MethodPost, "/api/schedules", token, map[string]any{
		"cronExpr": "bogus",
		"taskType": "log",
		"payload":  map[string]string{"message": "periodic"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/schedules", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []domain.Schedule
	decode(t, rec, &list)
	require.Len(t, list, 1)

	rec = do(t, h, http.MethodDelete, "/api/schedules/"+created.ScheduleID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/schedules/"+created.ScheduleID, token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
