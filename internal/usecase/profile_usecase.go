package usecase

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"flujos-esign/internal/domain/entity"
	"flujos-esign/internal/domain/repository"
	"flujos-esign/internal/infrastructure/identity"
)

// ProfileInput replaces a user's signing material. Empty fields keep the
// stored value.
type ProfileInput struct {
	Name           string
	Email          string
	PKCS12         []byte
	Passphrase     string
	SignatureImage []byte
}

type ProfileUsecase interface {
	Get(ctx context.Context, login string, actor entity.Actor) (*entity.ProfileSummary, error)
	Save(ctx context.Context, login string, actor entity.Actor, in *ProfileInput) (*entity.ProfileSummary, error)
}

type profileUsecase struct {
	repo   repository.SignatureProfileRepository
	loader identity.Loader
	logger *zap.Logger
	now    func() time.Time
}

func NewProfileUsecase(repo repository.SignatureProfileRepository, loader identity.Loader, logger *zap.Logger) ProfileUsecase {
	return &profileUsecase{
		repo:   repo,
		loader: loader,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func canEditProfile(login string, actor entity.Actor) bool {
	return actor.Admin || actor.Login == login
}

func (u *profileUsecase) Get(ctx context.Context, login string, actor entity.Actor) (*entity.ProfileSummary, error) {
	if !canEditProfile(login, actor) {
		return nil, entity.ForbiddenError("%s cannot read the profile of %s", actor.Login, login)
	}

	profile, err := u.repo.FindByLogin(ctx, login)
	if err != nil {
		return nil, err
	}
	summary := profile.Summary()
	return &summary, nil
}

func (u *profileUsecase) Save(ctx context.Context, login string, actor entity.Actor, in *ProfileInput) (*entity.ProfileSummary, error) {
	if !canEditProfile(login, actor) {
		return nil, entity.ForbiddenError("%s cannot edit the profile of %s", actor.Login, login)
	}
	if strings.TrimSpace(login) == "" {
		return nil, entity.PreconditionError("login is required")
	}

	profile, err := u.repo.FindByLogin(ctx, login)
	if err != nil {
		if !entity.IsKind(err, entity.KindNotFound) {
			return nil, err
		}
		profile = &entity.SignatureProfile{Login: login}
	}

	if in.Name != "" {
		profile.Name = in.Name
	}
	if in.Email != "" {
		profile.Email = in.Email
	}
	if len(in.PKCS12) > 0 {
		profile.PKCS12 = in.PKCS12
		profile.Passphrase = in.Passphrase
	}
	if len(in.SignatureImage) > 0 {
		if _, err := imaging.Decode(bytes.NewReader(in.SignatureImage)); err != nil {
			return nil, entity.NewError(entity.KindPrecondition, err, "the signature image cannot be decoded")
		}
		profile.SignatureImage = in.SignatureImage
	}

	// the stored bundle must open with the stored passphrase
	if len(profile.PKCS12) > 0 {
		if _, err := u.loader.Load(profile.PKCS12, profile.Passphrase); err != nil {
			return nil, entity.NewError(entity.KindIdentity, err, "bad certificate")
		}
	}

	profile.UpdatedAt = u.now()
	if err := u.repo.Upsert(ctx, profile); err != nil {
		return nil, err
	}

	u.logger.Info("Signature profile saved",
		zap.String("login", login),
		zap.Bool("has_certificate", len(profile.PKCS12) > 0),
		zap.Bool("has_signature_image", len(profile.SignatureImage) > 0),
	)
	summary := profile.Summary()
	return &summary, nil
}
