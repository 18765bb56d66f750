package worker

import (
	"time"

	"leadbase/internal/lead"
)

// TopicIntake carries accepted leads awaiting enrichment.
const TopicIntake = "lead.intake"

// IntakePayload is the wire form of an accepted lead. The correlation
// id rides along so consumer logs join up with the intake request.
type IntakePayload struct {
	ID            string            `json:"id"`
	Message       string            `json:"message"`
	Contact       lead.Contact      `json:"contact"`
	Source        string            `json:"source"`
	CustomFields  map[string]string `json:"custom_fields,omitempty"`
	ReceivedAt    time.Time         `json:"received_at"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

// PayloadFor snapshots a stored lead into its queue form.
func PayloadFor(l *lead.Lead, correlationID string) IntakePayload {
	return IntakePayload{
		ID:            l.ID,
		Message:       l.Message,
		Contact:       l.Contact,
		Source:        l.Source,
		CustomFields:  l.CustomFields,
		ReceivedAt:    l.ReceivedAt,
		CorrelationID: correlationID,
	}
}

// Lead rebuilds the lead for processing. Status starts at raw; the
// pipeline owns every transition after this point.
func (p IntakePayload) Lead() *lead.Lead {
	return &lead.Lead{
		ID:               p.ID,
		Message:          p.Message,
		Contact:          p.Contact,
		Source:           p.Source,
		CustomFields:     p.CustomFields,
		Status:           lead.StatusRaw,
		ReceivedAt:       p.ReceivedAt,
		UpdatedAt:        p.ReceivedAt,
		CustomerSequence: 1,
	}
}
