package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"leadbase/internal/lead"
	"leadbase/internal/middleware"
)

// Processor runs a lead through the enrichment pipeline.
type Processor interface {
	Process(ctx context.Context, l *lead.Lead) error
}

// IntakeConsumer drains the intake topic and hands each lead to the
// pipeline. Processing errors are returned so NSQ retries the message;
// malformed messages are dropped.
type IntakeConsumer struct {
	processor Processor
	timeout   time.Duration
}

func NewIntakeConsumer(processor Processor, timeout time.Duration) *IntakeConsumer {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &IntakeConsumer{processor: processor, timeout: timeout}
}

func (h *IntakeConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload IntakePayload
	err := json.Unmarshal(m.Body, &payload)

	correlationID := payload.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	ctx := middleware.WithCorrelationID(context.Background(), correlationID)

	if err != nil {
		slog.ErrorContext(ctx, "invalid intake message format", "error", err)
		return nil // Don't retry invalid messages
	}

	if payload.ID == "" || payload.Message == "" {
		slog.ErrorContext(ctx, "missing required fields, dropping", "lead_id", payload.ID)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	l := payload.Lead()
	if err := h.processor.Process(ctx, l); err != nil {
		slog.ErrorContext(ctx, "intake processing failed, requeueing", "lead_id", l.ID, "error", err)
		return err
	}

	return nil
}
