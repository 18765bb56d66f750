package lead

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const MaxMessageLength = 2000

type Status string

const (
	StatusRaw        Status = "raw"
	StatusProcessing Status = "processing"
	StatusEnriched   Status = "enriched"
	StatusSynced     Status = "synced"
	StatusFailed     Status = "failed"
)

// ValidStatus reports whether s names a known lifecycle status.
func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusRaw, StatusProcessing, StatusEnriched, StatusSynced, StatusFailed:
		return true
	}
	return false
}

type Action string

const (
	ActionProcess Action = "process"
	ActionLink    Action = "link"
	ActionFlag    Action = "flag"
	ActionMerge   Action = "merge"
)

// AIAnalysis is the structured result of the inquiry analysis provider,
// or of the keyword fallback when the provider is unavailable.
type AIAnalysis struct {
	Intent            string              `json:"intent"`
	IntentConfidence  float64             `json:"intent_confidence"`
	Urgency           string              `json:"urgency"`
	UrgencyConfidence float64             `json:"urgency_confidence"`
	Entities          map[string][]string `json:"entities,omitempty"`
	QualityScore      int                 `json:"quality_score"`
	Topics            []string            `json:"topics,omitempty"`
	Summary           string              `json:"summary,omitempty"`
	BusinessInsights  map[string]string   `json:"business_insights,omitempty"`
	ModelUsed         string              `json:"model_used,omitempty"`
}

// Decision classifies a new lead against the contact's prior history.
// It is consumed immediately by the pipeline; the relevant fields are
// copied onto the lead, the decision itself is never stored.
type Decision struct {
	Action            Action   `json:"action"`
	Reason            string   `json:"reason"`
	RelatedLeads      []string `json:"related_leads"`
	ParentLeadID      string   `json:"parent_lead_id,omitempty"`
	CustomerSequence  int      `json:"customer_sequence"`
	TimeSinceLast     *int     `json:"time_since_last,omitempty"`    // minutes
	MessageSimilarity *float64 `json:"message_similarity,omitempty"` // 0.0-1.0
}

// SyncResult is the outcome of one CRM sync attempt.
type SyncResult struct {
	Status       string `json:"status"` // synced or failed
	ExternalID   string `json:"external_id,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type Lead struct {
	ID           string            `json:"id"`
	Message      string            `json:"message"`
	Contact      Contact           `json:"contact"`
	Source       string            `json:"source"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
	Status       Status            `json:"status"`
	ReceivedAt   time.Time         `json:"received_at"`
	UpdatedAt    time.Time         `json:"updated_at"`

	Analysis         *AIAnalysis `json:"analysis,omitempty"`
	SimilarLeads     []string    `json:"similar_leads,omitempty"`
	DuplicateAction  Action      `json:"duplicate_action,omitempty"`
	ParentLeadID     string      `json:"parent_lead_id,omitempty"`
	CustomerSequence int         `json:"customer_sequence"`
	CRMExternalID    string      `json:"crm_external_id,omitempty"`
	Errors           []string    `json:"errors,omitempty"`
}

// New validates the input and builds a raw lead with a fresh id and a
// UTC receipt timestamp.
func New(message string, contact Contact, source string, customFields map[string]string) (*Lead, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("message cannot be empty")
	}
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return nil, fmt.Errorf("message exceeds %d characters", MaxMessageLength)
	}
	if err := contact.Validate(); err != nil {
		return nil, err
	}
	if source == "" {
		source = "api"
	}

	now := time.Now().UTC()
	return &Lead{
		ID:               uuid.New().String(),
		Message:          message,
		Contact:          contact,
		Source:           source,
		CustomFields:     customFields,
		Status:           StatusRaw,
		ReceivedAt:       now,
		UpdatedAt:        now,
		CustomerSequence: 1,
	}, nil
}

func (l *Lead) MarkProcessing() {
	l.Status = StatusProcessing
	l.touch()
}

func (l *Lead) MarkEnriched(a *AIAnalysis) {
	l.Analysis = a
	l.Status = StatusEnriched
	l.touch()
}

func (l *Lead) MarkSynced(externalID string) {
	if externalID != "" {
		l.CRMExternalID = externalID
	}
	l.Status = StatusSynced
	l.touch()
}

func (l *Lead) MarkFailed(msg string) {
	l.Status = StatusFailed
	l.RecordError(msg)
}

// RecordError appends an operator-visible error without changing status.
func (l *Lead) RecordError(msg string) {
	l.Errors = append(l.Errors, msg)
	l.touch()
}

// ApplyDecision copies the duplicate classification onto the lead.
func (l *Lead) ApplyDecision(d *Decision) {
	if d == nil {
		return
	}
	l.DuplicateAction = d.Action
	l.ParentLeadID = d.ParentLeadID
	l.CustomerSequence = d.CustomerSequence
	l.touch()
}

func (l *Lead) touch() {
	l.UpdatedAt = time.Now().UTC()
}
