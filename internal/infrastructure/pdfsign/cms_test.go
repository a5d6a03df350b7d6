package pdfsign

import (
	"bytes"
	"crypto/sha256"
	encasn1 "encoding/asn1"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"flujos-esign/internal/infrastructure/identity/identitytest"
)

func TestSignedAttributes_BindSigningCertificate(t *testing.T) {
	for _, kt := range []identitytest.KeyType{identitytest.RSA, identitytest.ECDSA, identitytest.RSAPSS} {
		id := loadIdentity(t, "Luis", kt)
		digest := sha256.Sum256([]byte("%PDF-1.7 signed range"))

		attrs, err := signedAttributes(id, digest[:], time.Now())
		require.NoError(t, err)
		require.Len(t, attrs, 4)
		for i := 1; i < len(attrs); i++ {
			assert.True(t, bytes.Compare(attrs[i-1], attrs[i]) < 0, "attributes must be in DER SET OF order")
		}

		values := map[string]cryptobyte.String{}
		for _, attr := range attrs {
			var seq, set cryptobyte.String
			var oid encasn1.ObjectIdentifier
			input := cryptobyte.String(attr)
			require.True(t, input.ReadASN1(&seq, asn1.SEQUENCE))
			require.True(t, seq.ReadASN1ObjectIdentifier(&oid))
			require.True(t, seq.ReadASN1(&set, asn1.SET))
			values[oid.String()] = set
		}

		var messageDigest []byte
		md := values[oidMessageDigest.String()]
		require.True(t, md.ReadASN1Bytes(&messageDigest, asn1.OCTET_STRING))
		assert.Equal(t, digest[:], messageDigest)

		// SigningCertificateV2 -> certs -> ESSCertIDv2 -> certHash
		scv2, ok := values[oidSigningCertificateV2.String()]
		require.True(t, ok, "signingCertificateV2 missing")
		var outer, certs, certID, issuerSerial cryptobyte.String
		var certHash []byte
		require.True(t, scv2.ReadASN1(&outer, asn1.SEQUENCE))
		require.True(t, outer.ReadASN1(&certs, asn1.SEQUENCE))
		require.True(t, certs.ReadASN1(&certID, asn1.SEQUENCE))
		require.True(t, certID.ReadASN1Bytes(&certHash, asn1.OCTET_STRING))
		want := sha256.Sum256(id.Certificate.Raw)
		assert.Equal(t, want[:], certHash)

		require.True(t, certID.ReadASN1(&issuerSerial, asn1.SEQUENCE))
		var generalNames, dirName cryptobyte.String
		require.True(t, issuerSerial.ReadASN1(&generalNames, asn1.SEQUENCE))
		require.True(t, generalNames.ReadASN1(&dirName, tagDirName))
		assert.Equal(t, id.Certificate.RawIssuer, []byte(dirName))
	}
}
