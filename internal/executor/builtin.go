package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// Log writes the payload message to the service log.
type Log struct {
	Logger zerolog.Logger
}

func (l Log) Execute(_ context.Context, payload json.RawMessage) error {
	var p struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("log payload: %w", err)
	}
	l.Logger.Info().Str("message", p.Message).Msg("log task")
	return nil
}

// Email records an email send. Actual delivery sits behind whatever mail
// relay the deployment wires in; out of the box it logs the envelope.
type Email struct {
	Logger zerolog.Logger
}

func (e Email) Execute(_ context.Context, payload json.RawMessage) error {
	var p struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("email payload: %w", err)
	}
	if p.To == "" {
		return fmt.Errorf("email payload: to is required")
	}
	e.Logger.Info().Str("to", p.To).Str("subject", p.Subject).Msg("email task dispatched")
	return nil
}
