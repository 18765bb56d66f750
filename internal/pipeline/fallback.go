package pipeline

import (
	"strings"

	"leadbase/internal/lead"
)

var urgentKeywords = []string{"urgent", "emergency", "asap", "immediately", "broken", "won't start"}

var appointmentKeywords = []string{"appointment", "schedule", "book", "visit", "come out", "come by"}

// FallbackAnalysis scores a lead with keyword heuristics when the
// analysis provider is unavailable. Scores are deliberately modest so a
// degraded lead never outranks a properly analyzed one.
func FallbackAnalysis(l *lead.Lead) *lead.AIAnalysis {
	message := strings.ToLower(l.Message)

	a := &lead.AIAnalysis{
		Intent:            "general",
		IntentConfidence:  0.3,
		Urgency:           "medium",
		UrgencyConfidence: 0.3,
		Entities:          map[string][]string{},
		QualityScore:      30,
		Summary:           "Keyword analysis (AI unavailable)",
		BusinessInsights:  map[string]string{},
		ModelUsed:         "keyword-fallback",
	}

	if containsAny(message, urgentKeywords) {
		a.Urgency = "high"
		a.QualityScore += 20
	}
	if containsAny(message, appointmentKeywords) {
		a.Intent = "appointment_request"
		a.QualityScore += 15
	}
	if l.Contact.HasContactMethod() {
		a.QualityScore += 25
	}
	if a.QualityScore > 100 {
		a.QualityScore = 100
	}

	return a
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
