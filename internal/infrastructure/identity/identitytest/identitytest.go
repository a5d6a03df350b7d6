// Package identitytest builds throwaway signing certificates for tests.
package identitytest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"
)

// KeyType selects the key algorithm of a generated identity
type KeyType int

const (
	RSA KeyType = iota
	RSAPSS
	ECDSA
)

// Bundle is a generated CA, leaf certificate and its PKCS#12 encoding
type Bundle struct {
	Key        crypto.Signer
	Cert       *x509.Certificate
	CA         *x509.Certificate
	PKCS12     []byte
	Passphrase string
}

func newKey(t testing.TB, kt KeyType) crypto.Signer {
	t.Helper()
	if kt == ECDSA {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		return key
	}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

// New creates a CA-issued leaf for commonName with the given key type
func New(t testing.TB, commonName string, kt KeyType) *Bundle {
	t.Helper()

	caKey := newKey(t, RSA)
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Flujos Test CA", Organization: []string{"Flujos"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, caKey.Public(), caKey)
	require.NoError(t, err)
	ca, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	key := newKey(t, kt)
	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: commonName, Organization: []string{"Flujos"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
	}
	if kt == RSAPSS {
		leafTemplate.SignatureAlgorithm = x509.SHA256WithRSAPSS
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, ca, key.Public(), caKey)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(leafDER)
	require.NoError(t, err)

	const passphrase = "s3cr3t-pass"
	pfx, err := pkcs12.Modern.Encode(key, leaf, []*x509.Certificate{ca}, passphrase)
	require.NoError(t, err)

	return &Bundle{
		Key:        key,
		Cert:       leaf,
		CA:         ca,
		PKCS12:     pfx,
		Passphrase: passphrase,
	}
}
