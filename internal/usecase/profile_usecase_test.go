package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flujos-esign/internal/domain/entity"
	"flujos-esign/internal/infrastructure/identity"
	"flujos-esign/internal/infrastructure/identity/identitytest"
	"flujos-esign/internal/infrastructure/pdfsign/pdfsigntest"
)

func newProfileUsecase() (*profileUsecase, *memProfiles) {
	repo := &memProfiles{rows: map[string]entity.SignatureProfile{}}
	u := NewProfileUsecase(repo, identity.NewLoader(zap.NewNop()), zap.NewNop()).(*profileUsecase)
	u.now = func() time.Time { return testNow }
	return u, repo
}

func TestProfileUsecase_Save(t *testing.T) {
	u, repo := newProfileUsecase()
	ctx := context.Background()
	b := identitytest.New(t, "Luis", identitytest.RSA)

	summary, err := u.Save(ctx, "luis", actor("luis"), &ProfileInput{
		Name:           "Luis Pérez",
		Email:          "luis@example.com",
		PKCS12:         b.PKCS12,
		Passphrase:     b.Passphrase,
		SignatureImage: pdfsigntest.SignatureImagePNG(t, 120, 40),
	})
	require.NoError(t, err)
	assert.True(t, summary.HasCertificate)
	assert.True(t, summary.HasSignatureImage)
	assert.Equal(t, testNow, summary.UpdatedAt)

	// a partial update keeps the stored material
	summary, err = u.Save(ctx, "luis", actor("luis"), &ProfileInput{Email: "lp@example.com"})
	require.NoError(t, err)
	assert.True(t, summary.HasCertificate)

	stored, err := repo.FindByLogin(ctx, "luis")
	require.NoError(t, err)
	assert.Equal(t, "lp@example.com", stored.Email)
	assert.Equal(t, "Luis Pérez", stored.Name)
	assert.Equal(t, b.Passphrase, stored.Passphrase)

	got, err := u.Get(ctx, "luis", actor("luis"))
	require.NoError(t, err)
	assert.Equal(t, "Luis Pérez", got.Name)
}

func TestProfileUsecase_Rejects(t *testing.T) {
	u, repo := newProfileUsecase()
	ctx := context.Background()
	b := identitytest.New(t, "Luis", identitytest.ECDSA)

	_, err := u.Save(ctx, "luis", actor("luis"), &ProfileInput{PKCS12: b.PKCS12, Passphrase: "nope"})
	require.Error(t, err)
	assert.True(t, entity.IsKind(err, entity.KindIdentity))
	assert.NotContains(t, err.Error(), "nope")

	_, err = u.Save(ctx, "luis", actor("luis"), &ProfileInput{SignatureImage: []byte("not an image")})
	assert.True(t, entity.IsKind(err, entity.KindPrecondition))

	_, err = u.Save(ctx, "luis", actor("marta"), &ProfileInput{Name: "x"})
	assert.True(t, entity.IsKind(err, entity.KindForbidden))

	_, err = u.Get(ctx, "luis", actor("marta"))
	assert.True(t, entity.IsKind(err, entity.KindForbidden))

	_, err = u.Get(ctx, "luis", entity.Actor{Login: "admin", Admin: true})
	assert.True(t, entity.IsKind(err, entity.KindNotFound))
	assert.Empty(t, repo.rows)
}
