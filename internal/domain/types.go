package domain

import (
	"encoding/json"
	"errors"
)

// Status is the lifecycle state of a task. A task starts pending and ends in
// exactly one terminal state; no transition leaves a terminal state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool { return s != StatusPending }

type Task struct {
	ID            string          `json:"taskId"`
	Type          string          `json:"taskType"`
	Payload       json.RawMessage `json:"payload"`
	ScheduledTime int64           `json:"scheduledTime"`
	Status        Status          `json:"status"`
	UserID        string          `json:"userId"`
	CreatedAt     int64           `json:"createdAt"`
	FinishedAt    int64           `json:"finishedAt,omitempty"`
}

// Schedule is a recurring template. The dispatcher materializes due schedules
// into one-shot tasks and advances NextRun per the cron expression.
type Schedule struct {
	ID        string          `json:"scheduleId"`
	UserID    string          `json:"userId"`
	CronExpr  string          `json:"cronExpr"`
	TaskType  string          `json:"taskType"`
	Payload   json.RawMessage `json:"payload"`
	NextRun   int64           `json:"nextRun"`
	CreatedAt int64           `json:"createdAt"`
}

type User struct {
	ID           string `json:"userId"`
	Username     string `json:"username"`
	PasswordHash []byte `json:"passwordHash"`
}

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("operation not allowed in current state")
	ErrValidation   = errors.New("invalid request")
)
