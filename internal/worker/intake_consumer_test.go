package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadbase/internal/lead"
	"leadbase/internal/middleware"
	"leadbase/internal/worker"
)

type mockProcessor struct {
	err      error
	lastLead *lead.Lead
	lastCID  string
	calls    int
}

func (m *mockProcessor) Process(ctx context.Context, l *lead.Lead) error {
	m.calls++
	m.lastLead = l
	m.lastCID = middleware.GetCorrelationID(ctx)
	return m.err
}

func intakeBody(t *testing.T) []byte {
	t.Helper()
	payload := worker.IntakePayload{
		ID:            "lead-1",
		Message:       "need a quote for duct cleaning",
		Contact:       lead.Contact{Email: "jane@example.com"},
		Source:        "web",
		ReceivedAt:    time.Now().UTC(),
		CorrelationID: "corr-123",
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return body
}

func TestIntakeConsumer_HandleMessage(t *testing.T) {
	p := &mockProcessor{}
	consumer := worker.NewIntakeConsumer(p, time.Minute)

	err := consumer.HandleMessage(&nsq.Message{Body: intakeBody(t)})

	assert.NoError(t, err)
	require.NotNil(t, p.lastLead)
	assert.Equal(t, "lead-1", p.lastLead.ID)
	assert.Equal(t, lead.StatusRaw, p.lastLead.Status)
	assert.Equal(t, "corr-123", p.lastCID)
}

func TestIntakeConsumer_PoisonPill(t *testing.T) {
	p := &mockProcessor{}
	consumer := worker.NewIntakeConsumer(p, time.Minute)

	err := consumer.HandleMessage(&nsq.Message{Body: []byte("invalid json")})

	assert.NoError(t, err) // Should return nil (ack)
	assert.Zero(t, p.calls)
}

func TestIntakeConsumer_EmptyBody(t *testing.T) {
	p := &mockProcessor{}
	consumer := worker.NewIntakeConsumer(p, time.Minute)

	err := consumer.HandleMessage(&nsq.Message{Body: nil})

	assert.NoError(t, err)
	assert.Zero(t, p.calls)
}

func TestIntakeConsumer_MissingFieldsDropped(t *testing.T) {
	p := &mockProcessor{}
	consumer := worker.NewIntakeConsumer(p, time.Minute)

	body, _ := json.Marshal(worker.IntakePayload{Message: "no id"})
	err := consumer.HandleMessage(&nsq.Message{Body: body})

	assert.NoError(t, err)
	assert.Zero(t, p.calls)
}

func TestIntakeConsumer_ProcessingErrorRequeues(t *testing.T) {
	p := &mockProcessor{err: errors.New("index down")}
	consumer := worker.NewIntakeConsumer(p, time.Minute)

	err := consumer.HandleMessage(&nsq.Message{Body: intakeBody(t)})

	assert.Error(t, err)
}
