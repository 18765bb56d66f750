package lead

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Filter struct {
	Status string
	Source string
	Limit  int
	Offset int
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const leadColumns = `id, message, first_name, last_name, email, phone, company, source,
	custom_fields, status, intent, urgency, quality_score, analysis, similar_leads,
	duplicate_action, parent_lead_id, customer_sequence, crm_external_id, errors,
	received_at, updated_at`

func (r *PostgresRepo) Create(ctx context.Context, l *Lead) error {
	customFields, err := json.Marshal(orEmptyMap(l.CustomFields))
	if err != nil {
		return err
	}
	similar, err := json.Marshal(orEmptySlice(l.SimilarLeads))
	if err != nil {
		return err
	}
	errs, err := json.Marshal(orEmptySlice(l.Errors))
	if err != nil {
		return err
	}

	query := `INSERT INTO leads (id, message, first_name, last_name, email, phone, company, source, custom_fields, status, similar_leads, errors, received_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err = r.db.ExecContext(ctx, query,
		l.ID, l.Message, l.Contact.FirstName, l.Contact.LastName, l.Contact.Email,
		l.Contact.Phone, l.Contact.Company, l.Source, customFields, string(l.Status),
		similar, errs, l.ReceivedAt, l.UpdatedAt)
	return err
}

// Update rewrites every pipeline-mutable field. The lead row is the
// inspectable partial state if processing dies mid-flight, so each call
// persists everything known so far.
func (r *PostgresRepo) Update(ctx context.Context, l *Lead) error {
	var analysis []byte
	var intent, urgency string
	var qualityScore int
	if l.Analysis != nil {
		var err error
		analysis, err = json.Marshal(l.Analysis)
		if err != nil {
			return err
		}
		intent = l.Analysis.Intent
		urgency = l.Analysis.Urgency
		qualityScore = l.Analysis.QualityScore
	}
	similar, err := json.Marshal(orEmptySlice(l.SimilarLeads))
	if err != nil {
		return err
	}
	errs, err := json.Marshal(orEmptySlice(l.Errors))
	if err != nil {
		return err
	}

	query := `UPDATE leads SET status = $1, intent = $2, urgency = $3, quality_score = $4,
		analysis = $5, similar_leads = $6, duplicate_action = $7, parent_lead_id = $8,
		customer_sequence = $9, crm_external_id = $10, errors = $11, updated_at = NOW()
		WHERE id = $12`
	_, err = r.db.ExecContext(ctx, query,
		string(l.Status), intent, urgency, qualityScore, nullableBytes(analysis),
		similar, string(l.DuplicateAction), nullableString(l.ParentLeadID),
		l.CustomerSequence, l.CRMExternalID, errs, l.ID)
	return err
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, id string, status Status) error {
	query := `UPDATE leads SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, string(status), id)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Lead, bool, error) {
	query := fmt.Sprintf(`SELECT %s FROM leads WHERE id = $1`, leadColumns)
	l, err := scanLead(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return l, true, nil
}

func (r *PostgresRepo) List(ctx context.Context, f Filter) ([]Lead, int, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}

	where := ` WHERE 1=1`
	args := []interface{}{}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Source != "" {
		args = append(args, f.Source)
		where += fmt.Sprintf(" AND source = $%d", len(args))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM leads%s ORDER BY received_at DESC LIMIT $%d OFFSET $%d`,
		leadColumns, where, len(args)-1, len(args))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var leads []Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, 0, err
		}
		leads = append(leads, *l)
	}
	return leads, total, rows.Err()
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM leads WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM leads GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLead(row rowScanner) (*Lead, error) {
	var l Lead
	var customFields, similar, errs []byte
	var analysis sql.NullString
	var intent, urgency, action sql.NullString
	var qualityScore sql.NullInt64
	var parentID sql.NullString
	var receivedAt, updatedAt time.Time

	err := row.Scan(&l.ID, &l.Message, &l.Contact.FirstName, &l.Contact.LastName,
		&l.Contact.Email, &l.Contact.Phone, &l.Contact.Company, &l.Source,
		&customFields, &l.Status, &intent, &urgency, &qualityScore, &analysis,
		&similar, &action, &parentID, &l.CustomerSequence, &l.CRMExternalID,
		&errs, &receivedAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	l.ReceivedAt = receivedAt
	l.UpdatedAt = updatedAt
	if action.Valid {
		l.DuplicateAction = Action(action.String)
	}
	if parentID.Valid {
		l.ParentLeadID = parentID.String
	}
	if len(customFields) > 0 {
		if err := json.Unmarshal(customFields, &l.CustomFields); err != nil {
			return nil, err
		}
	}
	if len(similar) > 0 {
		if err := json.Unmarshal(similar, &l.SimilarLeads); err != nil {
			return nil, err
		}
	}
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &l.Errors); err != nil {
			return nil, err
		}
	}
	if analysis.Valid && analysis.String != "" {
		var a AIAnalysis
		if err := json.Unmarshal([]byte(analysis.String), &a); err != nil {
			return nil, err
		}
		l.Analysis = &a
	}
	return &l, nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
