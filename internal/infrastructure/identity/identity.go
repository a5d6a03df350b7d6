package identity

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"software.sslmate.com/src/go-pkcs12"
)

// ErrBadPKCS12 is returned when a bundle cannot be opened with its passphrase
var ErrBadPKCS12 = errors.New("bad certificate")

// SigningIdentity is the key, certificate and chain of one signer. It lives
// for a single signing session.
type SigningIdentity struct {
	Key         crypto.Signer
	Certificate *x509.Certificate
	Chain       []*x509.Certificate
}

// Loader opens PKCS#12 bundles
type Loader interface {
	Load(pkcs12Data []byte, passphrase string) (*SigningIdentity, error)
}

type loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) Loader {
	return &loader{logger: logger}
}

func (l *loader) Load(pkcs12Data []byte, passphrase string) (*SigningIdentity, error) {
	id, err := Load(pkcs12Data, passphrase)
	if err != nil {
		l.logger.Warn("Failed to open signing certificate", zap.Int("bundle_size", len(pkcs12Data)))
		return nil, err
	}

	l.logger.Debug("Signing certificate loaded",
		zap.String("subject", id.Certificate.Subject.CommonName),
		zap.String("serial", id.Certificate.SerialNumber.String()),
		zap.Int("chain_length", len(id.Chain)),
	)
	return id, nil
}

// Load decodes a PKCS#12 bundle. RSA and ECDSA keys are accepted.
func Load(pkcs12Data []byte, passphrase string) (*SigningIdentity, error) {
	if len(pkcs12Data) == 0 {
		return nil, fmt.Errorf("%w: empty bundle", ErrBadPKCS12)
	}

	key, cert, chain, err := pkcs12.DecodeChain(pkcs12Data, passphrase)
	if err != nil {
		// the decoder error never carries the passphrase
		return nil, fmt.Errorf("%w: %v", ErrBadPKCS12, err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported private key type %T", ErrBadPKCS12, key)
	}

	switch pub := signer.Public().(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
		if !publicKeysMatch(pub, cert.PublicKey) {
			return nil, fmt.Errorf("%w: private key does not match certificate", ErrBadPKCS12)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported public key type %T", ErrBadPKCS12, pub)
	}

	return &SigningIdentity{
		Key:         signer,
		Certificate: cert,
		Chain:       chain,
	}, nil
}

func publicKeysMatch(a crypto.PublicKey, b crypto.PublicKey) bool {
	type equaler interface {
		Equal(crypto.PublicKey) bool
	}
	e, ok := a.(equaler)
	return ok && e.Equal(b)
}

// IsPSS reports whether the certificate was issued with RSASSA-PSS
func (id *SigningIdentity) IsPSS() bool {
	switch id.Certificate.SignatureAlgorithm {
	case x509.SHA256WithRSAPSS, x509.SHA384WithRSAPSS, x509.SHA512WithRSAPSS:
		return true
	}
	return false
}

// Certificates returns the signer certificate followed by the chain
func (id *SigningIdentity) Certificates() []*x509.Certificate {
	return append([]*x509.Certificate{id.Certificate}, id.Chain...)
}
