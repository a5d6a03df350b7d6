package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"flujos-esign/internal/domain/entity"
	"flujos-esign/internal/domain/repository"
	"flujos-esign/internal/infrastructure/database"
)

type signatureProfileRepository struct {
	db     *database.Database
	logger *zap.Logger
}

func NewSignatureProfileRepository(db *database.Database, logger *zap.Logger) repository.SignatureProfileRepository {
	return &signatureProfileRepository{
		db:     db,
		logger: logger,
	}
}

func (r *signatureProfileRepository) FindByLogin(ctx context.Context, login string) (*entity.SignatureProfile, error) {
	query := `SELECT login, name, email, pkcs12, passphrase, signature_image, updated_at
		FROM user_signature_profiles WHERE login = $1`

	var p entity.SignatureProfile
	err := r.db.DB.QueryRowContext(ctx, query, login).Scan(
		&p.Login,
		&p.Name,
		&p.Email,
		&p.PKCS12,
		&p.Passphrase,
		&p.SignatureImage,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.NotFoundError("no signature profile for user %s", login)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load signature profile: %w", err)
	}

	return &p, nil
}

func (r *signatureProfileRepository) Upsert(ctx context.Context, p *entity.SignatureProfile) error {
	p.UpdatedAt = time.Now()

	query := `INSERT INTO user_signature_profiles (login, name, email, pkcs12, passphrase, signature_image, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (login) DO UPDATE SET
			name = EXCLUDED.name, email = EXCLUDED.email, pkcs12 = EXCLUDED.pkcs12,
			passphrase = EXCLUDED.passphrase, signature_image = EXCLUDED.signature_image,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.DB.ExecContext(ctx, query,
		p.Login,
		p.Name,
		p.Email,
		p.PKCS12,
		p.Passphrase,
		p.SignatureImage,
		p.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to save signature profile",
			zap.String("login", p.Login),
			zap.Error(err),
		)
		return fmt.Errorf("failed to save signature profile: %w", err)
	}

	return nil
}
