// Package salesforce syncs enriched leads into Salesforce over its REST
// API, authenticated with a JWT bearer flow.
package salesforce

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/k-capehart/go-salesforce/v3"
	"golang.org/x/time/rate"

	"leadbase/internal/lead"
)

// Config holds the JWT credentials and target object for CRM sync.
type Config struct {
	Domain      string
	Username    string
	ConsumerKey string
	KeyPath     string
	Object      string
	RPS         float64
}

// api is the slice of the go-salesforce surface the syncer touches,
// separated so tests can fake the transport.
type api interface {
	Query(query string, sObjectStruct any) error
	InsertOne(sObjectName string, record any) (salesforce.SalesforceResult, error)
	UpdateOne(sObjectName string, record any) error
}

// Syncer pushes leads into a Salesforce object, rate limited so a burst
// of enrichments cannot exhaust the org's API quota.
type Syncer struct {
	client  api
	object  string
	limiter *rate.Limiter
}

// New authenticates against Salesforce with the JWT key at cfg.KeyPath
// and returns a Syncer targeting cfg.Object.
func New(cfg Config) (*Syncer, error) {
	pem, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading salesforce key: %w", err)
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Domain,
		Username:       cfg.Username,
		ConsumerKey:    cfg.ConsumerKey,
		ConsumerRSAPem: string(pem),
	})
	if err != nil {
		return nil, fmt.Errorf("salesforce auth: %w", err)
	}

	object := cfg.Object
	if object == "" {
		object = "Lead"
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 5
	}

	return &Syncer{
		client:  sf,
		object:  object,
		limiter: rate.NewLimiter(rate.Limit(rps), max(int(rps), 1)),
	}, nil
}

// Sync creates or updates the CRM record for a lead. A lead that
// already carries an external id is updated in place; otherwise a new
// record is created. The returned result is always non-nil.
func (s *Syncer) Sync(ctx context.Context, l *lead.Lead) *lead.SyncResult {
	if err := s.limiter.Wait(ctx); err != nil {
		return &lead.SyncResult{Status: "failed", ErrorMessage: fmt.Sprintf("rate limit wait: %v", err)}
	}

	fields := leadFields(l)

	if l.CRMExternalID != "" {
		fields["Id"] = l.CRMExternalID
		if err := s.client.UpdateOne(s.object, fields); err != nil {
			slog.ErrorContext(ctx, "crm update failed", "lead_id", l.ID, "external_id", l.CRMExternalID, "error", err)
			return &lead.SyncResult{Status: "failed", ExternalID: l.CRMExternalID, ErrorMessage: err.Error()}
		}
		return &lead.SyncResult{Status: "synced", ExternalID: l.CRMExternalID}
	}

	result, err := s.client.InsertOne(s.object, fields)
	if err != nil {
		slog.ErrorContext(ctx, "crm insert failed", "lead_id", l.ID, "error", err)
		return &lead.SyncResult{Status: "failed", ErrorMessage: err.Error()}
	}
	if !result.Success {
		msg := fmt.Sprintf("insert rejected: %v", result.Errors)
		slog.ErrorContext(ctx, "crm insert rejected", "lead_id", l.ID, "errors", result.Errors)
		return &lead.SyncResult{Status: "failed", ErrorMessage: msg}
	}

	slog.InfoContext(ctx, "lead synced to crm", "lead_id", l.ID, "external_id", result.Id)
	return &lead.SyncResult{Status: "synced", ExternalID: result.Id}
}

// HealthCheck verifies the API session with a minimal query.
func (s *Syncer) HealthCheck(ctx context.Context) bool {
	if err := s.limiter.Wait(ctx); err != nil {
		return false
	}
	var recs []struct {
		Id string `json:"Id"`
	}
	if err := s.client.Query("SELECT Id FROM "+s.object+" LIMIT 1", &recs); err != nil {
		slog.WarnContext(ctx, "crm health check failed", "error", err)
		return false
	}
	return true
}

// leadFields maps a lead onto the standard Lead object fields. Missing
// last names fall back to the company or "Unknown" because Salesforce
// requires LastName on Lead.
func leadFields(l *lead.Lead) map[string]any {
	lastName := l.Contact.LastName
	if lastName == "" {
		lastName = l.Contact.Company
	}
	if lastName == "" {
		lastName = "Unknown"
	}

	fields := map[string]any{
		"LastName":   lastName,
		"Company":    orDefault(l.Contact.Company, "Unknown"),
		"LeadSource": l.Source,
	}
	if l.Contact.FirstName != "" {
		fields["FirstName"] = l.Contact.FirstName
	}
	if l.Contact.Email != "" {
		fields["Email"] = l.Contact.Email
	}
	if l.Contact.Phone != "" {
		fields["Phone"] = l.Contact.Phone
	}
	if l.Message != "" {
		fields["Description"] = l.Message
	}
	if l.Analysis != nil {
		fields["Rating"] = ratingFor(l.Analysis.QualityScore)
		if l.Analysis.Summary != "" {
			fields["Description"] = l.Analysis.Summary + "\n\n" + l.Message
		}
	}
	return fields
}

func ratingFor(quality int) string {
	switch {
	case quality >= 70:
		return "Hot"
	case quality >= 40:
		return "Warm"
	default:
		return "Cold"
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
