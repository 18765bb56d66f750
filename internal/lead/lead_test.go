package lead

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLead(t *testing.T) {
	l, err := New("need a quote", Contact{Email: "jane@example.com"}, "web", map[string]string{"zip": "97201"})
	require.NoError(t, err)

	assert.NotEmpty(t, l.ID)
	assert.Equal(t, StatusRaw, l.Status)
	assert.Equal(t, "web", l.Source)
	assert.Equal(t, 1, l.CustomerSequence)
	assert.False(t, l.ReceivedAt.IsZero())
	assert.Equal(t, "97201", l.CustomFields["zip"])
}

func TestNewLeadDefaultsSource(t *testing.T) {
	l, err := New("need a quote", Contact{}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "api", l.Source)
}

func TestNewLeadValidation(t *testing.T) {
	_, err := New("   ", Contact{}, "web", nil)
	assert.Error(t, err)

	_, err = New(strings.Repeat("x", MaxMessageLength+1), Contact{}, "web", nil)
	assert.Error(t, err)

	_, err = New("hello", Contact{Email: "bad"}, "web", nil)
	assert.Error(t, err)
}

func TestStatusTransitions(t *testing.T) {
	l, err := New("need a quote", Contact{}, "web", nil)
	require.NoError(t, err)

	l.MarkProcessing()
	assert.Equal(t, StatusProcessing, l.Status)

	l.MarkEnriched(&AIAnalysis{Intent: "quote_request"})
	assert.Equal(t, StatusEnriched, l.Status)
	assert.Equal(t, "quote_request", l.Analysis.Intent)

	l.MarkSynced("00Q123")
	assert.Equal(t, StatusSynced, l.Status)
	assert.Equal(t, "00Q123", l.CRMExternalID)
}

func TestMarkFailedRecordsError(t *testing.T) {
	l, err := New("need a quote", Contact{}, "web", nil)
	require.NoError(t, err)

	l.MarkFailed("indexing: store unavailable")

	assert.Equal(t, StatusFailed, l.Status)
	require.Len(t, l.Errors, 1)
	assert.Contains(t, l.Errors[0], "store unavailable")
}

func TestRecordErrorKeepsStatus(t *testing.T) {
	l, err := New("need a quote", Contact{}, "web", nil)
	require.NoError(t, err)
	l.MarkEnriched(&AIAnalysis{})

	l.RecordError("crm sync: invalid session")

	assert.Equal(t, StatusEnriched, l.Status)
	assert.Len(t, l.Errors, 1)
}

func TestApplyDecision(t *testing.T) {
	l, err := New("need a quote", Contact{}, "web", nil)
	require.NoError(t, err)

	l.ApplyDecision(&Decision{
		Action:           ActionLink,
		ParentLeadID:     "parent-1",
		CustomerSequence: 3,
	})

	assert.Equal(t, ActionLink, l.DuplicateAction)
	assert.Equal(t, "parent-1", l.ParentLeadID)
	assert.Equal(t, 3, l.CustomerSequence)

	l.ApplyDecision(nil)
	assert.Equal(t, ActionLink, l.DuplicateAction)
}
