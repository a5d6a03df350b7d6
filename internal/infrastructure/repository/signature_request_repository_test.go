package repository

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flujos-esign/internal/domain/entity"
	"flujos-esign/internal/infrastructure/database"
)

var (
	requestRowColumns = []string{"id", "name", "creator", "document_source", "state", "notes",
		"opaque_background", "sign_all_pages", "repository_folder", "rejection_notes", "created_at",
		"sent_at", "signed_at", "completed_at", "rejection_at"}
	recipientRowColumns = []string{"slot", "user_login", "role", "position", "signed", "signed_at"}
	documentRowColumns  = []string{"id", "seq", "name", "pdf_bytes", "node_id", "node_name", "mime_type",
		"size_bytes", "modified_at", "signed", "signed_at", "download_url", "missing_signatures"}
)

// stringArray matches a pq array argument by its elements
type stringArray []string

func (a stringArray) Match(v driver.Value) bool {
	var got pq.StringArray
	if err := got.Scan(v); err != nil {
		return false
	}
	if len(got) != len(a) {
		return false
	}
	for i := range a {
		if got[i] != a[i] {
			return false
		}
	}
	return true
}

func newMockRepository(t *testing.T) (*signatureRequestRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewSignatureRequestRepository(&database.Database{DB: db}, zap.NewNop())
	return repo.(*signatureRequestRepository), mock
}

func expectLockedLoad(mock sqlmock.Sqlmock, id uuid.UUID, recipients, documents *sqlmock.Rows) {
	mock.ExpectQuery(regexp.QuoteMeta("FROM signature_requests WHERE id = $1 FOR UPDATE")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(requestRowColumns).AddRow(
			id.String(), "contrato-2026", "ana", "local", "sent", "", false,
			false, "", "", time.Now(), time.Now(), nil, nil, nil,
		))
	mock.ExpectQuery(regexp.QuoteMeta("FROM signature_recipients WHERE request_id = $1")).
		WithArgs(id).
		WillReturnRows(recipients)
	mock.ExpectQuery(regexp.QuoteMeta("FROM workflow_documents WHERE request_id = $1")).
		WithArgs(id).
		WillReturnRows(documents)
}

func TestUpdate_LocksRowAndPrunesDroppedDocuments(t *testing.T) {
	repo, mock := newMockRepository(t)
	id := uuid.New()
	keep, drop := uuid.New(), uuid.New()

	mock.ExpectBegin()
	expectLockedLoad(mock, id,
		sqlmock.NewRows(recipientRowColumns).
			AddRow(1, "luis", "Director", "left", false, nil).
			AddRow(2, "marta", "Legal", "right", false, nil),
		sqlmock.NewRows(documentRowColumns).
			AddRow(keep.String(), 1, "contract.pdf", []byte("%PDF"), "", "", "", 4, nil, false, nil, "", "{}").
			AddRow(drop.String(), 2, "annex.pdf", []byte("%PDF"), "", "", "", 4, nil, false, nil, "", "{luis}"),
	)

	updateArgs := []driver.Value{id}
	for i := 0; i < 12; i++ {
		updateArgs = append(updateArgs, sqlmock.AnyArg())
	}
	mock.ExpectExec(regexp.QuoteMeta("UPDATE signature_requests SET")).
		WithArgs(updateArgs...).
		WillReturnResult(sqlmock.NewResult(0, 1))
	for slot := 1; slot <= entity.MaxRecipients; slot++ {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO signature_recipients")).
			WithArgs(id, slot, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO workflow_documents")).
		WithArgs(keep, id, 1, "contract.pdf", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), stringArray{}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM workflow_documents WHERE request_id = $1 AND NOT (id::text = ANY($2))")).
		WithArgs(id, stringArray{keep.String()}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := repo.Update(context.Background(), id, func(_ context.Context, req *entity.SignatureRequest) error {
		assert.Equal(t, "luis", req.Recipients[0].User)
		assert.Equal(t, "marta", req.Recipients[1].User)
		require.Len(t, req.Documents, 2)
		assert.Equal(t, []string{"luis"}, req.Documents[1].MissingSignatures)

		req.Documents = req.Documents[:1]
		return nil
	})
	require.NoError(t, err)
	require.Len(t, updated.Documents, 1)
	assert.Equal(t, keep, updated.Documents[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_RollsBackWhenCallbackFails(t *testing.T) {
	repo, mock := newMockRepository(t)
	id := uuid.New()

	mock.ExpectBegin()
	expectLockedLoad(mock, id,
		sqlmock.NewRows(recipientRowColumns),
		sqlmock.NewRows(documentRowColumns),
	)
	mock.ExpectRollback()

	_, err := repo.Update(context.Background(), id, func(context.Context, *entity.SignatureRequest) error {
		return entity.PreconditionError("request is not in draft")
	})
	require.Error(t, err)
	assert.True(t, entity.IsKind(err, entity.KindPrecondition))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_MissingRowIsNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM signature_requests WHERE id = $1 FOR UPDATE")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(requestRowColumns))
	mock.ExpectRollback()

	called := false
	_, err := repo.Update(context.Background(), id, func(context.Context, *entity.SignatureRequest) error {
		called = true
		return nil
	})
	assert.True(t, entity.IsKind(err, entity.KindNotFound))
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_DuplicateNameIsPrecondition(t *testing.T) {
	repo, mock := newMockRepository(t)
	id := uuid.New()

	mock.ExpectBegin()
	expectLockedLoad(mock, id,
		sqlmock.NewRows(recipientRowColumns),
		sqlmock.NewRows(documentRowColumns),
	)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE signature_requests SET")).
		WillReturnError(&pq.Error{Code: uniqueViolation})
	mock.ExpectRollback()

	_, err := repo.Update(context.Background(), id, func(_ context.Context, req *entity.SignatureRequest) error {
		req.Name = "taken"
		return nil
	})
	assert.True(t, entity.IsKind(err, entity.KindPrecondition))
	assert.Contains(t, err.Error(), `"taken"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}
