package lead

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*PostgresRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepo(db), mock
}

func leadRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "message", "first_name", "last_name", "email", "phone", "company", "source",
		"custom_fields", "status", "intent", "urgency", "quality_score", "analysis", "similar_leads",
		"duplicate_action", "parent_lead_id", "customer_sequence", "crm_external_id", "errors",
		"received_at", "updated_at",
	})
}

func TestRepoCreate(t *testing.T) {
	repo, mock := newMockRepo(t)

	l, err := New("need a quote", Contact{Email: "jane@example.com"}, "web", nil)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO leads")).
		WithArgs(l.ID, l.Message, "", "", "jane@example.com", "", "", "web",
			sqlmock.AnyArg(), "raw", sqlmock.AnyArg(), sqlmock.AnyArg(),
			l.ReceivedAt, l.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), l))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoUpdate(t *testing.T) {
	repo, mock := newMockRepo(t)

	l, err := New("need a quote", Contact{}, "web", nil)
	require.NoError(t, err)
	l.MarkEnriched(&AIAnalysis{Intent: "quote_request", Urgency: "high", QualityScore: 80})
	l.DuplicateAction = ActionLink
	l.ParentLeadID = "parent-1"
	l.CustomerSequence = 2

	mock.ExpectExec(regexp.QuoteMeta("UPDATE leads SET status = $1")).
		WithArgs("enriched", "quote_request", "high", 80, sqlmock.AnyArg(),
			sqlmock.AnyArg(), "link", "parent-1", 2, "", sqlmock.AnyArg(), l.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Update(context.Background(), l))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoUpdateStatus(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE leads SET status = $1, updated_at = NOW() WHERE id = $2")).
		WithArgs("processing", "lead-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateStatus(context.Background(), "lead-1", StatusProcessing))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoGet(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Now().UTC()
	rows := leadRows().AddRow(
		"lead-1", "need a quote", "Jane", "Doe", "jane@example.com", "", "", "web",
		[]byte(`{"zip":"97201"}`), "enriched", "quote_request", "high", 80,
		`{"intent":"quote_request","quality_score":80}`, []byte(`["other-1"]`),
		"process", nil, 1, "", []byte(`[]`), now, now)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WithArgs("lead-1").
		WillReturnRows(rows)

	l, found, err := repo.Get(context.Background(), "lead-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "lead-1", l.ID)
	assert.Equal(t, "Jane", l.Contact.FirstName)
	assert.Equal(t, "97201", l.CustomFields["zip"])
	assert.Equal(t, []string{"other-1"}, l.SimilarLeads)
	require.NotNil(t, l.Analysis)
	assert.Equal(t, 80, l.Analysis.QualityScore)
}

func TestRepoGetNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WithArgs("missing").
		WillReturnRows(leadRows())

	l, found, err := repo.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, l)
}

func TestRepoList(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM leads WHERE 1=1 AND status = $1")).
		WithArgs("synced").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	rows := leadRows().AddRow(
		"lead-1", "need a quote", "", "", "", "", "", "web",
		[]byte(`{}`), "synced", nil, nil, nil, nil, []byte(`[]`),
		nil, nil, 1, "00Q123", []byte(`[]`), now, now)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY received_at DESC LIMIT $2 OFFSET $3")).
		WithArgs("synced", 20, 0).
		WillReturnRows(rows)

	leads, total, err := repo.List(context.Background(), Filter{Status: "synced", Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, leads, 1)
	assert.Equal(t, "00Q123", leads[0].CRMExternalID)
}

func TestRepoDelete(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM leads WHERE id = $1")).
		WithArgs("lead-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	found, err := repo.Delete(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestRepoDeleteNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM leads WHERE id = $1")).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	found, err := repo.Delete(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRepoCountByStatus(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) FROM leads GROUP BY status")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("synced", 3).
			AddRow("failed", 1))

	counts, err := repo.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, counts["synced"])
	assert.Equal(t, 1, counts["failed"])
}
