package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"flujos-esign/internal/domain/entity"
	"flujos-esign/internal/domain/repository"
	"flujos-esign/internal/infrastructure/database"
)

const uniqueViolation = "23505"

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type signatureRequestRepository struct {
	db     *database.Database
	logger *zap.Logger
}

func NewSignatureRequestRepository(db *database.Database, logger *zap.Logger) repository.SignatureRequestRepository {
	return &signatureRequestRepository{
		db:     db,
		logger: logger,
	}
}

const requestColumns = `id, name, creator, document_source, state, notes, opaque_background,
	sign_all_pages, repository_folder, rejection_notes, created_at, sent_at, signed_at,
	completed_at, rejection_at`

func (r *signatureRequestRepository) Create(ctx context.Context, req *entity.SignatureRequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}

	return r.inTx(ctx, func(tx *sql.Tx) error {
		query := `INSERT INTO signature_requests (` + requestColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

		_, err := tx.ExecContext(ctx, query,
			req.ID,
			req.Name,
			req.Creator,
			req.DocumentSource,
			req.State,
			req.Notes,
			req.OpaqueBackground,
			req.SignAllPages,
			req.RepositoryFolder,
			req.RejectionNotes,
			req.CreatedAt,
			nullTime(req.SentAt),
			nullTime(req.SignedAt),
			nullTime(req.CompletedAt),
			nullTime(req.RejectionAt),
		)
		if err != nil {
			return mapWriteError(err, req.Name)
		}

		if err := saveRecipients(ctx, tx, req); err != nil {
			return err
		}
		return saveDocuments(ctx, tx, req)
	})
}

func (r *signatureRequestRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.SignatureRequest, error) {
	return loadRequest(ctx, r.db.DB, id, false)
}

func (r *signatureRequestRepository) List(ctx context.Context, filter entity.RequestFilter) ([]*entity.SignatureRequest, error) {
	query, args := buildListQuery(filter)

	rows, err := r.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list signature requests: %w", err)
	}
	defer rows.Close()

	var requests []*entity.SignatureRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list signature requests: %w", err)
	}

	for _, req := range requests {
		if err := loadRecipients(ctx, r.db.DB, req); err != nil {
			return nil, err
		}
		if err := loadDocuments(ctx, r.db.DB, req, false); err != nil {
			return nil, err
		}
	}
	return requests, nil
}

// buildListQuery renders the listing query for filter
func buildListQuery(filter entity.RequestFilter) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if filter.State != "" {
		args = append(args, filter.State)
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}
	if filter.Creator != "" {
		args = append(args, filter.Creator)
		where = append(where, fmt.Sprintf("creator = $%d", len(args)))
	}
	if filter.Recipient != "" {
		args = append(args, filter.Recipient)
		where = append(where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM signature_recipients sr WHERE sr.request_id = signature_requests.id AND sr.user_login = $%d)",
			len(args)))
	}

	query := "SELECT " + requestColumns + " FROM signature_requests"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

// Update holds a row lock on the request for the whole of fn
func (r *signatureRequestRepository) Update(ctx context.Context, id uuid.UUID, fn repository.UpdateFunc) (*entity.SignatureRequest, error) {
	var updated *entity.SignatureRequest

	err := r.inTx(ctx, func(tx *sql.Tx) error {
		req, err := loadRequest(ctx, tx, id, true)
		if err != nil {
			return err
		}

		if err := fn(ctx, req); err != nil {
			return err
		}

		query := `UPDATE signature_requests SET
				name = $2, document_source = $3, state = $4, notes = $5, opaque_background = $6,
				sign_all_pages = $7, repository_folder = $8, rejection_notes = $9, sent_at = $10,
				signed_at = $11, completed_at = $12, rejection_at = $13
			WHERE id = $1`

		_, err = tx.ExecContext(ctx, query,
			req.ID,
			req.Name,
			req.DocumentSource,
			req.State,
			req.Notes,
			req.OpaqueBackground,
			req.SignAllPages,
			req.RepositoryFolder,
			req.RejectionNotes,
			nullTime(req.SentAt),
			nullTime(req.SignedAt),
			nullTime(req.CompletedAt),
			nullTime(req.RejectionAt),
		)
		if err != nil {
			return mapWriteError(err, req.Name)
		}

		if err := saveRecipients(ctx, tx, req); err != nil {
			return err
		}
		if err := saveDocuments(ctx, tx, req); err != nil {
			return err
		}

		updated = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (r *signatureRequestRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.DB.ExecContext(ctx, `DELETE FROM signature_requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete signature request: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return entity.NotFoundError("signature request %s not found", id)
	}
	return nil
}

func (r *signatureRequestRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := r.db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				r.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func loadRequest(ctx context.Context, q querier, id uuid.UUID, lock bool) (*entity.SignatureRequest, error) {
	query := "SELECT " + requestColumns + " FROM signature_requests WHERE id = $1"
	if lock {
		query += " FOR UPDATE"
	}

	req, err := scanRequest(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.NotFoundError("signature request %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	if err := loadRecipients(ctx, q, req); err != nil {
		return nil, err
	}
	if err := loadDocuments(ctx, q, req, true); err != nil {
		return nil, err
	}
	return req, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row scanner) (*entity.SignatureRequest, error) {
	var (
		req                                  entity.SignatureRequest
		sentAt, signedAt, completedAt, rejAt sql.NullTime
	)
	err := row.Scan(
		&req.ID,
		&req.Name,
		&req.Creator,
		&req.DocumentSource,
		&req.State,
		&req.Notes,
		&req.OpaqueBackground,
		&req.SignAllPages,
		&req.RepositoryFolder,
		&req.RejectionNotes,
		&req.CreatedAt,
		&sentAt,
		&signedAt,
		&completedAt,
		&rejAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan signature request: %w", err)
	}

	req.SentAt = timePtr(sentAt)
	req.SignedAt = timePtr(signedAt)
	req.CompletedAt = timePtr(completedAt)
	req.RejectionAt = timePtr(rejAt)
	return &req, nil
}

func loadRecipients(ctx context.Context, q querier, req *entity.SignatureRequest) error {
	rows, err := q.QueryContext(ctx,
		`SELECT slot, user_login, role, position, signed, signed_at
		FROM signature_recipients WHERE request_id = $1 ORDER BY slot`, req.ID)
	if err != nil {
		return fmt.Errorf("failed to load recipients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			s        entity.RecipientSlot
			signedAt sql.NullTime
		)
		if err := rows.Scan(&s.Slot, &s.User, &s.Role, &s.Position, &s.Signed, &signedAt); err != nil {
			return fmt.Errorf("failed to scan recipient: %w", err)
		}
		s.SignedAt = timePtr(signedAt)
		if slot := req.Recipient(s.Slot); slot != nil {
			*slot = s
		}
	}
	return rows.Err()
}

func saveRecipients(ctx context.Context, q querier, req *entity.SignatureRequest) error {
	query := `INSERT INTO signature_recipients (request_id, slot, user_login, role, position, signed, signed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (request_id, slot) DO UPDATE SET
			user_login = EXCLUDED.user_login, role = EXCLUDED.role, position = EXCLUDED.position,
			signed = EXCLUDED.signed, signed_at = EXCLUDED.signed_at`

	for i, s := range req.Recipients {
		_, err := q.ExecContext(ctx, query,
			req.ID, i+1, s.User, s.Role, s.Position, s.Signed, nullTime(s.SignedAt))
		if err != nil {
			return fmt.Errorf("failed to save recipient %d: %w", i+1, err)
		}
	}
	return nil
}

func loadDocuments(ctx context.Context, q querier, req *entity.SignatureRequest, withBytes bool) error {
	bytesColumn := "NULL::bytea"
	if withBytes {
		bytesColumn = "pdf_bytes"
	}
	rows, err := q.QueryContext(ctx,
		`SELECT id, seq, name, `+bytesColumn+`, node_id, node_name, mime_type, size_bytes,
			modified_at, signed, signed_at, download_url, missing_signatures
		FROM workflow_documents WHERE request_id = $1 ORDER BY seq`, req.ID)
	if err != nil {
		return fmt.Errorf("failed to load documents: %w", err)
	}
	defer rows.Close()

	req.Documents = req.Documents[:0]
	for rows.Next() {
		var (
			d                    entity.WorkflowDocument
			nodeID, nodeName     string
			mime                 string
			modifiedAt, signedAt sql.NullTime
		)
		err := rows.Scan(&d.ID, &d.Seq, &d.Name, &d.PDFBytes, &nodeID, &nodeName, &mime, &d.Size,
			&modifiedAt, &d.Signed, &signedAt, &d.DownloadURL, pq.Array(&d.MissingSignatures))
		if err != nil {
			return fmt.Errorf("failed to scan document: %w", err)
		}
		d.ModifiedAt = timePtr(modifiedAt)
		d.SignedAt = timePtr(signedAt)
		if nodeID != "" {
			d.RepoNode = &entity.RepoNode{NodeID: nodeID, Name: nodeName, MimeType: mime, Size: d.Size}
			if d.ModifiedAt != nil {
				d.RepoNode.ModifiedAt = *d.ModifiedAt
			}
		}
		req.Documents = append(req.Documents, d)
	}
	return rows.Err()
}

// saveDocuments upserts the documents in slice order and drops the ones no
// longer on the request
func saveDocuments(ctx context.Context, q querier, req *entity.SignatureRequest) error {
	query := `INSERT INTO workflow_documents (id, request_id, seq, name, pdf_bytes, node_id, node_name,
			mime_type, size_bytes, modified_at, signed, signed_at, download_url, missing_signatures)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			seq = EXCLUDED.seq, name = EXCLUDED.name, pdf_bytes = EXCLUDED.pdf_bytes,
			node_id = EXCLUDED.node_id, node_name = EXCLUDED.node_name, mime_type = EXCLUDED.mime_type,
			size_bytes = EXCLUDED.size_bytes, modified_at = EXCLUDED.modified_at, signed = EXCLUDED.signed,
			signed_at = EXCLUDED.signed_at, download_url = EXCLUDED.download_url,
			missing_signatures = EXCLUDED.missing_signatures`

	ids := make([]string, 0, len(req.Documents))
	for i := range req.Documents {
		d := &req.Documents[i]
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
		}
		d.Seq = i + 1

		var nodeID, nodeName, mime string
		if d.RepoNode != nil {
			nodeID, nodeName, mime = d.RepoNode.NodeID, d.RepoNode.Name, d.RepoNode.MimeType
		}

		_, err := q.ExecContext(ctx, query,
			d.ID, req.ID, d.Seq, d.Name, d.PDFBytes, nodeID, nodeName, mime, d.Size,
			nullTime(d.ModifiedAt), d.Signed, nullTime(d.SignedAt), d.DownloadURL,
			pq.Array(nonNil(d.MissingSignatures)))
		if err != nil {
			return fmt.Errorf("failed to save document %s: %w", d.Name, err)
		}
		ids = append(ids, d.ID.String())
	}

	_, err := q.ExecContext(ctx,
		`DELETE FROM workflow_documents WHERE request_id = $1 AND NOT (id::text = ANY($2))`,
		req.ID, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to prune documents: %w", err)
	}
	return nil
}

func mapWriteError(err error, name string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return entity.PreconditionError("a signature request named %q already exists", name)
	}
	return fmt.Errorf("failed to save signature request: %w", err)
}

// nonNil keeps pq from writing NULL into a NOT NULL array column
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
