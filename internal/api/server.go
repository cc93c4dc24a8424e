// Package api exposes the task service over HTTP. It translates requests into
// repository calls and domain errors into status codes; all policy lives in
// the layers below.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"tempoq/internal/domain"
	"tempoq/internal/scheduler"
	"tempoq/internal/task"
	"tempoq/internal/user"
)

type ctxKey int

const userIDKey ctxKey = iota

type Server struct {
	tasks     *task.Repository
	schedules *scheduler.Service
	users     *user.Service
	log       zerolog.Logger
}

func NewServer(tasks *task.Repository, schedules *scheduler.Service, users *user.Service, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	s := &Server{
		tasks:     tasks,
		schedules: schedules,
		users:     users,
		log:       log.With().Str("component", "api").Logger(),
	}

	r.Get("/health", s.health)
	r.Post("/api/users/register", s.register)
	r.Post("/api/users/login", s.login)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/api/tasks", s.submitTask)
		r.Get("/api/tasks", s.listTasks)
		r.Get("/api/tasks/{id}", s.getTask)
		r.Patch("/api/tasks/{id}/cancel", s.cancelTask)
		r.Delete("/api/tasks/{id}", s.deleteTask)
		r.Post("/api/schedules", s.createSchedule)
		r.Get("/api/schedules", s.listSchedules)
		r.Delete("/api/schedules/{id}", s.deleteSchedule)
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// authenticate resolves the bearer token into a user ID for the handlers
// below. Everything past this middleware trusts the ID, nothing else.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, prefix) {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, err := s.users.VerifyToken(strings.TrimPrefix(auth, prefix))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

type credentialsReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID, err := s.users.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	token, err := s.users.IssueToken(userID, req.Username)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"token": token, "message": "Registered successfully."})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID, err := s.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	token, err := s.users.IssueToken(userID, req.Username)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "message": "Login successful."})
}

type submitTaskReq struct {
	TaskType      string          `json:"taskType"`
	Payload       json.RawMessage `json:"payload"`
	ScheduledTime int64           `json:"scheduledTime"`
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.tasks.Schedule(r.Context(), req.TaskType, req.Payload, req.ScheduledTime, callerID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"taskId": id, "message": "Task scheduled."})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.GetOwned(r.Context(), chi.URLParam(r, "id"), callerID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tasks.ListByOwner(r.Context(), callerID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	if err := s.tasks.Cancel(r.Context(), chi.URLParam(r, "id"), callerID(r)); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Task cancelled successfully."})
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.tasks.Delete(r.Context(), chi.URLParam(r, "id"), callerID(r)); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Task deleted."})
}

type createScheduleReq struct {
	CronExpr string          `json:"cronExpr"`
	TaskType string          `json:"taskType"`
	Payload  json.RawMessage `json:"payload"`
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.schedules.Create(r.Context(), callerID(r), req.CronExpr, req.TaskType, req.Payload)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"scheduleId": id, "message": "Schedule created."})
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.schedules.ListByOwner(r.Context(), callerID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.schedules.Delete(r.Context(), chi.URLParam(r, "id"), callerID(r)); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Schedule deleted."})
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, user.ErrUsernameTaken):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, user.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
