package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"

	"leadbase/internal/lead"
)

var validIntents = map[string]bool{
	"inquiry":             true,
	"appointment_request": true,
	"quote_request":       true,
	"support":             true,
	"complaint":           true,
	"general":             true,
}

var validUrgencies = map[string]bool{
	"low":    true,
	"medium": true,
	"high":   true,
	"urgent": true,
}

// Analyzer extracts intent, urgency and quality signals from a lead
// message using a Gemini generative model in JSON mode.
type Analyzer struct {
	client *genai.Client
	model  string
}

func NewAnalyzer(client *genai.Client, model string) *Analyzer {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &Analyzer{client: client, model: model}
}

func (a *Analyzer) Analyze(ctx context.Context, l *lead.Lead) (*lead.AIAnalysis, error) {
	model := a.client.GenerativeModel(a.model)
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0.1)

	prompt := buildPrompt(l)
	res, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		slog.ErrorContext(ctx, "analysis request failed", "error", err, "lead_id", l.ID)
		return nil, err
	}
	if len(res.Candidates) == 0 || res.Candidates[0].Content == nil || len(res.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("empty analysis response")
	}

	text, ok := res.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return nil, fmt.Errorf("unexpected response part type %T", res.Candidates[0].Content.Parts[0])
	}

	analysis, err := parseAnalysis([]byte(text))
	if err != nil {
		return nil, err
	}
	analysis.ModelUsed = a.model
	return analysis, nil
}

// HealthCheck lists available models as a cheap liveness probe against
// the API key and endpoint.
func (a *Analyzer) HealthCheck(ctx context.Context) bool {
	it := a.client.ListModels(ctx)
	_, err := it.Next()
	return err == nil || err == iterator.Done
}

func buildPrompt(l *lead.Lead) string {
	var b strings.Builder
	b.WriteString("Analyze this sales lead and return a JSON object with fields: ")
	b.WriteString(`intent (one of inquiry, appointment_request, quote_request, support, complaint, general), `)
	b.WriteString(`intent_confidence (0-1), urgency (one of low, medium, high, urgent), `)
	b.WriteString(`urgency_confidence (0-1), entities (object mapping entity type to string array), `)
	b.WriteString(`quality_score (0-100), topics (string array), summary (one sentence), `)
	b.WriteString("business_insights (object mapping insight name to string).\n\n")

	fmt.Fprintf(&b, "Message: %s\n", l.Message)
	if name := l.Contact.FullName(); name != "" {
		fmt.Fprintf(&b, "Contact: %s\n", name)
	}
	if l.Contact.Company != "" {
		fmt.Fprintf(&b, "Company: %s\n", l.Contact.Company)
	}
	fmt.Fprintf(&b, "Source: %s\n", l.Source)
	return b.String()
}

// parseAnalysis decodes the model output and clamps every field into its
// valid range so a malformed response cannot poison downstream scoring.
func parseAnalysis(data []byte) (*lead.AIAnalysis, error) {
	var raw struct {
		Intent            string              `json:"intent"`
		IntentConfidence  float64             `json:"intent_confidence"`
		Urgency           string              `json:"urgency"`
		UrgencyConfidence float64             `json:"urgency_confidence"`
		Entities          map[string][]string `json:"entities"`
		QualityScore      float64             `json:"quality_score"`
		Topics            []string            `json:"topics"`
		Summary           string              `json:"summary"`
		BusinessInsights  map[string]string   `json:"business_insights"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding analysis response: %w", err)
	}

	intent := strings.ToLower(strings.TrimSpace(raw.Intent))
	if !validIntents[intent] {
		intent = "general"
	}
	urgency := strings.ToLower(strings.TrimSpace(raw.Urgency))
	if !validUrgencies[urgency] {
		urgency = "medium"
	}

	a := &lead.AIAnalysis{
		Intent:            intent,
		IntentConfidence:  clamp01(raw.IntentConfidence),
		Urgency:           urgency,
		UrgencyConfidence: clamp01(raw.UrgencyConfidence),
		Entities:          raw.Entities,
		QualityScore:      clampScore(raw.QualityScore),
		Topics:            raw.Topics,
		Summary:           strings.TrimSpace(raw.Summary),
		BusinessInsights:  raw.BusinessInsights,
	}
	if a.Entities == nil {
		a.Entities = map[string][]string{}
	}
	if a.BusinessInsights == nil {
		a.BusinessInsights = map[string]string{}
	}
	return a, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampScore(v float64) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(v)
}
