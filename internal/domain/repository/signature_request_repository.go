package repository

import (
	"context"

	"github.com/google/uuid"

	"flujos-esign/internal/domain/entity"
)

// UpdateFunc mutates a locked request. Returning an error rolls back.
type UpdateFunc func(ctx context.Context, req *entity.SignatureRequest) error

type SignatureRequestRepository interface {
	// Create inserts a new request with its recipients and documents
	Create(ctx context.Context, req *entity.SignatureRequest) error

	// FindByID loads the aggregate without locking
	FindByID(ctx context.Context, id uuid.UUID) (*entity.SignatureRequest, error)

	// List returns requests matching filter, newest first, without document bytes
	List(ctx context.Context, filter entity.RequestFilter) ([]*entity.SignatureRequest, error)

	// Update loads the request under a row lock, applies fn and persists the
	// result in the same transaction
	Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (*entity.SignatureRequest, error)

	// Delete removes the request and everything it owns
	Delete(ctx context.Context, id uuid.UUID) error
}

type SignatureProfileRepository interface {
	FindByLogin(ctx context.Context, login string) (*entity.SignatureProfile, error)
	Upsert(ctx context.Context, profile *entity.SignatureProfile) error
}

type APILogRepository interface {
	Save(ctx context.Context, log *entity.APILog) error
	FindAll(ctx context.Context, limit int) ([]*entity.APILog, error)
	Search(ctx context.Context, term string, limit int) ([]*entity.APILog, error)
}
