package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"flujos-esign/internal/config"
	"flujos-esign/internal/domain/entity"
	"flujos-esign/internal/domain/repository"
	"flujos-esign/internal/infrastructure/identity"
	"flujos-esign/internal/infrastructure/pdfsign"
	"flujos-esign/internal/infrastructure/sigimage"
	"flujos-esign/internal/infrastructure/workspace"
)

// SessionFactory opens signing sessions for recipients
type SessionFactory struct {
	config    *config.Config
	profiles  repository.SignatureProfileRepository
	loader    identity.Loader
	composer  *sigimage.Composer
	signer    *pdfsign.Signer
	workspace workspace.Manager
	logger    *zap.Logger
}

// signingSession holds what one recipient needs to sign: the identity, the
// composed image and a private workspace. It never outlives the action.
type signingSession struct {
	profile  *entity.SignatureProfile
	identity *identity.SigningIdentity
	slot     entity.RecipientSlot
	image    *sigimage.Result
	ws       *workspace.Session
	signer   *pdfsign.Signer
	location string
	now      time.Time
}

func NewSessionFactory(
	cfg *config.Config,
	profiles repository.SignatureProfileRepository,
	loader identity.Loader,
	composer *sigimage.Composer,
	signer *pdfsign.Signer,
	ws workspace.Manager,
	logger *zap.Logger,
) *SessionFactory {
	return &SessionFactory{
		config:    cfg,
		profiles:  profiles,
		loader:    loader,
		composer:  composer,
		signer:    signer,
		workspace: ws,
		logger:    logger,
	}
}

func (f *SessionFactory) open(ctx context.Context, login string, slot entity.RecipientSlot, opaque bool, now time.Time) (*signingSession, error) {
	profile, err := f.profiles.FindByLogin(ctx, login)
	if err != nil {
		if entity.IsKind(err, entity.KindNotFound) {
			return nil, entity.NewError(entity.KindIdentity, err, "no signature profile is stored for %s", login)
		}
		return nil, err
	}
	if len(profile.PKCS12) == 0 {
		return nil, entity.NewError(entity.KindIdentity, nil, "no certificate is stored for %s", login)
	}
	if len(profile.SignatureImage) == 0 {
		return nil, entity.PreconditionError("no signature image is stored for %s", login)
	}

	id, err := f.loader.Load(profile.PKCS12, profile.Passphrase)
	if err != nil {
		return nil, entity.NewError(entity.KindIdentity, err, "bad certificate")
	}

	ws, err := f.workspace.Open(login)
	if err != nil {
		return nil, entity.NewError(entity.KindInternal, err, "could not open a signing workspace")
	}

	img, err := f.composer.Compose(profile.SignatureImage, slot.Role, opaque, ws.Dir())
	if err != nil {
		ws.Close()
		return nil, entity.NewError(entity.KindPrecondition, err, "the stored signature image of %s cannot be used", login)
	}

	f.logger.Debug("Signing session opened",
		zap.String("login", login),
		zap.Int("slot", slot.Slot),
		zap.Int("image_width", img.Width),
		zap.Int("image_height", img.Height),
	)

	return &signingSession{
		profile:  profile,
		identity: id,
		slot:     slot,
		image:    img,
		ws:       ws,
		signer:   f.signer,
		location: f.config.Signature.Location,
		now:      now,
	}, nil
}

// sign applies the recipient's signature to one document
func (s *signingSession) sign(pdf []byte, doc *entity.WorkflowDocument, signAllPages bool) ([]byte, error) {
	out, err := s.signer.Sign(pdf, s.identity, pdfsign.Params{
		ImagePath:    s.image.Path,
		Position:     s.slot.Position,
		SignAllPages: signAllPages,
		Role:         s.slot.Role,
		SignerName:   s.profile.DisplayName(),
		ContactInfo:  s.profile.Email,
		Location:     s.location,
		DocumentID:   doc.ID.String(),
		SigningTime:  s.now,
	})
	if err != nil {
		if errors.Is(err, pdfsign.ErrPDFParse) {
			return nil, entity.NewError(entity.KindSign, err, "%q is not a readable PDF", doc.Name)
		}
		return nil, entity.NewError(entity.KindSign, err, "could not sign %q", doc.Name)
	}
	return out, nil
}

func (s *signingSession) close() {
	s.identity = nil
	s.ws.Close()
}
