package repository

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"flujos-esign/internal/domain/entity"
	"flujos-esign/internal/domain/repository"
	"flujos-esign/internal/infrastructure/database"
)

const defaultLogLimit = 100

type apiLogRepository struct {
	db     *database.Database
	logger *zap.Logger
}

// NewAPILogRepository creates a new API log repository
func NewAPILogRepository(db *database.Database, logger *zap.Logger) repository.APILogRepository {
	return &apiLogRepository{
		db:     db,
		logger: logger,
	}
}

// Save saves an API log entry to the database
func (r *apiLogRepository) Save(ctx context.Context, log *entity.APILog) error {
	query := `
		INSERT INTO api_logs (endpoint, method, request_body, response_body, status_code, duration_ms, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.DB.ExecContext(ctx, query,
		log.Endpoint,
		log.Method,
		log.RequestBody,
		log.ResponseBody,
		log.StatusCode,
		log.Duration,
		log.Actor,
		log.CreatedAt,
	)

	if err != nil {
		r.logger.Error("Failed to save API log",
			zap.String("endpoint", log.Endpoint),
			zap.Error(err),
		)
		return fmt.Errorf("failed to save API log: %w", err)
	}

	return nil
}

// FindAll returns the newest entries first
func (r *apiLogRepository) FindAll(ctx context.Context, limit int) ([]*entity.APILog, error) {
	query := `SELECT id, endpoint, method, request_body, response_body, status_code, duration_ms, actor, created_at
		FROM api_logs ORDER BY created_at DESC LIMIT $1`
	return r.query(ctx, query, clampLimit(limit))
}

// Search matches term against the endpoint, actor and bodies
func (r *apiLogRepository) Search(ctx context.Context, term string, limit int) ([]*entity.APILog, error) {
	query := `SELECT id, endpoint, method, request_body, response_body, status_code, duration_ms, actor, created_at
		FROM api_logs
		WHERE endpoint ILIKE $1 OR actor ILIKE $1 OR request_body ILIKE $1 OR response_body ILIKE $1
		ORDER BY created_at DESC LIMIT $2`
	return r.query(ctx, query, "%"+term+"%", clampLimit(limit))
}

func (r *apiLogRepository) query(ctx context.Context, query string, args ...interface{}) ([]*entity.APILog, error) {
	rows, err := r.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query API logs: %w", err)
	}
	defer rows.Close()

	logs := []*entity.APILog{}
	for rows.Next() {
		var l entity.APILog
		err := rows.Scan(&l.ID, &l.Endpoint, &l.Method, &l.RequestBody, &l.ResponseBody,
			&l.StatusCode, &l.Duration, &l.Actor, &l.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan API log: %w", err)
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultLogLimit
	}
	return limit
}
