package pdfsign

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"flujos-esign/internal/domain/entity"
	"flujos-esign/internal/infrastructure/identity"
	"flujos-esign/internal/infrastructure/identity/identitytest"
	"flujos-esign/internal/infrastructure/pdfsign/pdfsigntest"
)

func loadIdentity(t *testing.T, cn string, kt identitytest.KeyType) *identity.SigningIdentity {
	t.Helper()
	b := identitytest.New(t, cn, kt)
	id, err := identity.Load(b.PKCS12, b.Passphrase)
	require.NoError(t, err)
	return id
}

func testParams(t *testing.T, role string) Params {
	return Params{
		ImagePath:   pdfsigntest.SignatureImage(t, 205, 80),
		Position:    entity.PositionRight,
		Role:        role,
		SignerName:  "Ana Pérez",
		ContactInfo: "ana@example.com",
		Location:    "Madrid",
		DocumentID:  "4f1c9a2e-0000-0000-0000-000000000001",
		SigningTime: time.Now().Truncate(time.Second),
	}
}

func signatureFields(t *testing.T, pdf []byte) []Dict {
	t.Helper()
	r, err := NewReader(pdf)
	require.NoError(t, err)
	_, catalog, err := r.Catalog()
	require.NoError(t, err)
	form, err := r.ResolveDict(catalog["AcroForm"])
	require.NoError(t, err)
	assert.Equal(t, int64(3), form["SigFlags"])

	fields, err := r.ResolveArray(form["Fields"])
	require.NoError(t, err)
	var out []Dict
	for _, f := range fields {
		d, err := r.ResolveDict(f)
		require.NoError(t, err)
		out = append(out, d)
	}
	return out
}

func TestSign_LastPageOnly(t *testing.T) {
	for name, opts := range map[string]pdfsigntest.Options{
		"classic xref": {Pages: 3},
		"xref stream":  {Pages: 3, XRefStream: true},
	} {
		t.Run(name, func(t *testing.T) {
			base := pdfsigntest.Build(t, opts)
			id := loadIdentity(t, "Ana Pérez", identitytest.RSA)

			out, err := Sign(base, id, testParams(t, "Customer"))
			require.NoError(t, err)

			// incremental update: the original bytes are untouched
			require.True(t, bytes.HasPrefix(out, base))

			sigs := pdfsigntest.Extract(t, out)
			require.Len(t, sigs, 1)
			assert.Equal(t, len(out), sigs[0].ByteRange[2]+sigs[0].ByteRange[3])
			p7 := pdfsigntest.Verify(t, sigs[0])
			assert.Equal(t, "Ana Pérez", p7.GetOnlySigner().Subject.CommonName)

			fields := signatureFields(t, out)
			require.Len(t, fields, 1)
			assert.Equal(t, Name("Sig"), fields[0]["FT"])

			r, err := NewReader(out)
			require.NoError(t, err)
			assert.Equal(t, opts.XRefStream, r.xrefStream)
			pages, err := r.Pages()
			require.NoError(t, err)
			require.Len(t, pages, 3)
			assert.Equal(t, pages[2].Ref, fields[0]["P"])
			annots, err := r.ResolveArray(pages[2].Dict["Annots"])
			require.NoError(t, err)
			assert.Len(t, annots, 1)
			_, hasAnnots := pages[0].Dict["Annots"]
			assert.False(t, hasAnnots)

			sig, err := r.ResolveDict(fields[0]["V"])
			require.NoError(t, err)
			assert.Equal(t, Name("adbe.pkcs7.detached"), sig["SubFilter"])
			assert.Equal(t, String("Digital Signature - Customer"), sig["Reason"])
			assert.Equal(t, String("Madrid"), sig["Location"])
		})
	}
}

func TestSign_AllPages(t *testing.T) {
	base := pdfsigntest.Build(t, pdfsigntest.Options{Pages: 3})
	id := loadIdentity(t, "Ana Pérez", identitytest.RSA)
	p := testParams(t, "Customer")
	p.SignAllPages = true

	out, err := Sign(base, id, p)
	require.NoError(t, err)

	sigs := pdfsigntest.Extract(t, out)
	require.Len(t, sigs, 3)
	for _, sig := range sigs {
		pdfsigntest.Verify(t, sig)
	}
	// only the newest revision covers the whole file
	assert.Equal(t, len(out), sigs[2].ByteRange[2]+sigs[2].ByteRange[3])
	assert.Less(t, sigs[0].ByteRange[2]+sigs[0].ByteRange[3], len(out))

	fields := signatureFields(t, out)
	require.Len(t, fields, 3)
	names := map[string]bool{}
	for _, f := range fields {
		names[string(f["T"].(String))] = true
	}
	assert.Len(t, names, 3)
}

func TestSign_SecondSignerKeepsFirstValid(t *testing.T) {
	base := pdfsigntest.Build(t, pdfsigntest.Options{Pages: 2, XRefStream: true})

	first, err := Sign(base, loadIdentity(t, "Ana", identitytest.RSA), testParams(t, "Customer"))
	require.NoError(t, err)

	p := testParams(t, "Supplier")
	p.Position = entity.PositionLeft
	p.SignerName = "Luis"
	second, err := Sign(first, loadIdentity(t, "Luis", identitytest.ECDSA), p)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(second, first))

	sigs := pdfsigntest.Extract(t, second)
	require.Len(t, sigs, 2)
	assert.Equal(t, "Ana", pdfsigntest.Verify(t, sigs[0]).GetOnlySigner().Subject.CommonName)
	assert.Equal(t, "Luis", pdfsigntest.Verify(t, sigs[1]).GetOnlySigner().Subject.CommonName)

	fields := signatureFields(t, second)
	require.Len(t, fields, 2)
	assert.NotEqual(t, fields[0]["T"], fields[1]["T"])
}

func TestSign_SameRoleTwiceGetsUniqueFieldNames(t *testing.T) {
	base := pdfsigntest.Build(t, pdfsigntest.Options{})
	id := loadIdentity(t, "Ana", identitytest.RSA)

	once, err := Sign(base, id, testParams(t, "Customer"))
	require.NoError(t, err)
	twice, err := Sign(once, id, testParams(t, "Customer"))
	require.NoError(t, err)

	fields := signatureFields(t, twice)
	require.Len(t, fields, 2)
	assert.Equal(t, String("Signature_4f1c9a2e_p1_Customer"), fields[0]["T"])
	assert.Equal(t, String("Signature_4f1c9a2e_p1_Customer_2"), fields[1]["T"])
}

func TestSign_PSSIdentity(t *testing.T) {
	base := pdfsigntest.Build(t, pdfsigntest.Options{})
	id := loadIdentity(t, "Ana", identitytest.RSAPSS)
	require.True(t, id.IsPSS())
	p := testParams(t, "Customer")

	out, err := Sign(base, id, p)
	require.NoError(t, err)

	sigs := pdfsigntest.Extract(t, out)
	require.Len(t, sigs, 1)

	// walk SignedData down to the SignerInfo signature algorithm and value
	var contentInfo, content, signedData, skip, signerInfos, signerInfo cryptobyte.String
	input := cryptobyte.String(sigs[0].DER)
	require.True(t, input.ReadASN1(&contentInfo, asn1.SEQUENCE))
	require.True(t, contentInfo.SkipASN1(asn1.OBJECT_IDENTIFIER))
	require.True(t, contentInfo.ReadASN1(&content, asn1.Tag(0).ContextSpecific().Constructed()))
	require.True(t, content.ReadASN1(&signedData, asn1.SEQUENCE))
	require.True(t, signedData.SkipASN1(asn1.INTEGER))
	require.True(t, signedData.SkipASN1(asn1.SET))
	require.True(t, signedData.SkipASN1(asn1.SEQUENCE))
	require.True(t, signedData.SkipASN1(asn1.Tag(0).ContextSpecific().Constructed()))
	require.True(t, signedData.ReadASN1(&signerInfos, asn1.SET))
	require.True(t, signerInfos.ReadASN1(&signerInfo, asn1.SEQUENCE))
	require.True(t, signerInfo.SkipASN1(asn1.INTEGER))
	require.True(t, signerInfo.SkipASN1(asn1.SEQUENCE))
	require.True(t, signerInfo.SkipASN1(asn1.SEQUENCE))
	require.True(t, signerInfo.ReadASN1(&skip, asn1.Tag(0).ContextSpecific().Constructed()))

	var algorithm, oid cryptobyte.String
	var signature []byte
	require.True(t, signerInfo.ReadASN1(&algorithm, asn1.SEQUENCE))
	require.True(t, algorithm.ReadASN1(&oid, asn1.OBJECT_IDENTIFIER))
	require.True(t, signerInfo.ReadASN1Bytes(&signature, asn1.OCTET_STRING))

	var gotOID []byte = oid
	wantOID := []byte{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x0d, 0x01, 0x01, 0x0a}
	assert.Equal(t, wantOID, gotOID)

	digest := sha256.Sum256(sigs[0].Signed)
	attrs, err := signedAttributes(id, digest[:], p.SigningTime)
	require.NoError(t, err)
	var set cryptobyte.Builder
	set.AddASN1(asn1.SET, func(b *cryptobyte.Builder) {
		for _, a := range attrs {
			b.AddBytes(a)
		}
	})
	setDER, err := set.Bytes()
	require.NoError(t, err)
	attrDigest := sha256.Sum256(setDER)

	pub := id.Certificate.PublicKey.(*rsa.PublicKey)
	assert.NoError(t, rsa.VerifyPSS(pub, crypto.SHA256, attrDigest[:], signature,
		&rsa.PSSOptions{SaltLength: pssSaltLength, Hash: crypto.SHA256}))
}

func TestSign_WidgetRectHonoursMediaBoxOrigin(t *testing.T) {
	base := pdfsigntest.Build(t, pdfsigntest.Options{MediaBox: "[10 20 622 812]"})
	out, err := Sign(base, loadIdentity(t, "Ana", identitytest.RSA), testParams(t, "Customer"))
	require.NoError(t, err)

	fields := signatureFields(t, out)
	require.Len(t, fields, 1)
	rect := fields[0]["Rect"].(Array)
	x1, _ := toFloat(rect[0])
	y1, _ := toFloat(rect[1])
	x2, _ := toFloat(rect[2])
	assert.InDelta(t, 476.0, x1, 1e-3)
	assert.InDelta(t, 45.0, y1, 1e-3)
	assert.InDelta(t, 609.0, x2, 1e-3)
}

func TestSign_ReconstructedBase(t *testing.T) {
	pdf := pdfsigntest.Build(t, pdfsigntest.Options{Pages: 2})
	i := bytes.LastIndex(pdf, []byte("startxref\n"))
	broken := append(append([]byte{}, pdf[:i]...), []byte("startxref\n12\n%%EOF\n")...)

	out, err := Sign(broken, loadIdentity(t, "Ana", identitytest.RSA), testParams(t, "Customer"))
	require.NoError(t, err)

	r, err := NewReader(out)
	require.NoError(t, err)
	assert.NotZero(t, r.startxref)
	pages, err := r.Pages()
	require.NoError(t, err)
	assert.Len(t, pages, 2)
	require.Len(t, pdfsigntest.Extract(t, out), 1)
}

func TestSign_Errors(t *testing.T) {
	id := loadIdentity(t, "Ana", identitytest.RSA)

	_, err := Sign([]byte("not a pdf"), id, testParams(t, "Customer"))
	assert.ErrorIs(t, err, ErrPDFParse)

	p := testParams(t, "Customer")
	p.ImagePath = "/does/not/exist.png"
	_, err = Sign(pdfsigntest.Build(t, pdfsigntest.Options{}), id, p)
	assert.ErrorIs(t, err, ErrSign)

	_, err = Sign(pdfsigntest.Build(t, pdfsigntest.Options{}), &identity.SigningIdentity{}, testParams(t, "Customer"))
	assert.ErrorIs(t, err, ErrSign)
}

func TestSigner_LogsAndSigns(t *testing.T) {
	s := NewSigner(zap.NewNop())
	out, err := s.Sign(pdfsigntest.Build(t, pdfsigntest.Options{}), loadIdentity(t, "Ana", identitytest.RSA), testParams(t, "Customer"))
	require.NoError(t, err)
	assert.Len(t, pdfsigntest.Extract(t, out), 1)
}
