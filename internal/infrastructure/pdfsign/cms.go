package pdfsign

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	encasn1 "encoding/asn1"
	"sort"
	"time"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"flujos-esign/internal/infrastructure/identity"
)

var (
	oidData                 = encasn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	oidSignedData           = encasn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	oidContentType          = encasn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	oidMessageDigest        = encasn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	oidSigningTime          = encasn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}
	oidSigningCertificateV2 = encasn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}
	oidSHA256               = encasn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidRSAEncryption        = encasn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	oidRSAPSS               = encasn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 10}
	oidMGF1                 = encasn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 8}
	oidECDSAWithSHA256      = encasn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
)

const pssSaltLength = 32

var (
	tagExplicit0 = asn1.Tag(0).ContextSpecific().Constructed()
	tagExplicit1 = asn1.Tag(1).ContextSpecific().Constructed()
	tagExplicit2 = asn1.Tag(2).ContextSpecific().Constructed()
	tagDirName   = asn1.Tag(4).ContextSpecific().Constructed()
)

func addSHA256AlgorithmID(b *cryptobyte.Builder) {
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(oidSHA256)
	})
}

// signatureAlgorithm describes how the signer key signs the attribute digest
type signatureAlgorithm struct {
	addID func(b *cryptobyte.Builder)
	opts  crypto.SignerOpts
}

func algorithmFor(id *identity.SigningIdentity) (signatureAlgorithm, error) {
	switch id.Key.Public().(type) {
	case *rsa.PublicKey:
		if id.IsPSS() {
			return signatureAlgorithm{
				addID: func(b *cryptobyte.Builder) {
					b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
						b.AddASN1ObjectIdentifier(oidRSAPSS)
						b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
							b.AddASN1(tagExplicit0, addSHA256AlgorithmID)
							b.AddASN1(tagExplicit1, func(b *cryptobyte.Builder) {
								b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
									b.AddASN1ObjectIdentifier(oidMGF1)
									addSHA256AlgorithmID(b)
								})
							})
							b.AddASN1(tagExplicit2, func(b *cryptobyte.Builder) {
								b.AddASN1Int64(pssSaltLength)
							})
						})
					})
				},
				opts: &rsa.PSSOptions{SaltLength: pssSaltLength, Hash: crypto.SHA256},
			}, nil
		}
		return signatureAlgorithm{
			addID: func(b *cryptobyte.Builder) {
				b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
					b.AddASN1ObjectIdentifier(oidRSAEncryption)
					b.AddASN1NULL()
				})
			},
			opts: crypto.SHA256,
		}, nil
	case *ecdsa.PublicKey:
		return signatureAlgorithm{
			addID: func(b *cryptobyte.Builder) {
				b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
					b.AddASN1ObjectIdentifier(oidECDSAWithSHA256)
				})
			},
			opts: crypto.SHA256,
		}, nil
	}
	return signatureAlgorithm{}, signErr("unsupported key type %T", id.Key.Public())
}

// signedAttributes returns the DER encoded attributes in SET OF order
func signedAttributes(id *identity.SigningIdentity, digest []byte, signingTime time.Time) ([][]byte, error) {
	certHash := sha256.Sum256(id.Certificate.Raw)

	attrs := []func(b *cryptobyte.Builder){
		func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(oidContentType)
			b.AddASN1(asn1.SET, func(b *cryptobyte.Builder) {
				b.AddASN1ObjectIdentifier(oidData)
			})
		},
		func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(oidSigningTime)
			b.AddASN1(asn1.SET, func(b *cryptobyte.Builder) {
				b.AddASN1UTCTime(signingTime.UTC())
			})
		},
		func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(oidMessageDigest)
			b.AddASN1(asn1.SET, func(b *cryptobyte.Builder) {
				b.AddASN1OctetString(digest)
			})
		},
		func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(oidSigningCertificateV2)
			b.AddASN1(asn1.SET, func(b *cryptobyte.Builder) {
				// SigningCertificateV2 { certs SEQUENCE OF ESSCertIDv2 }
				b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
					b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
						// ESSCertIDv2, hashAlgorithm omitted as sha256 is the default
						b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
							b.AddASN1OctetString(certHash[:])
							b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
								b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
									b.AddASN1(tagDirName, func(b *cryptobyte.Builder) {
										b.AddBytes(id.Certificate.RawIssuer)
									})
								})
								b.AddASN1BigInt(id.Certificate.SerialNumber)
							})
						})
					})
				})
			})
		},
	}

	encoded := make([][]byte, 0, len(attrs))
	for _, attr := range attrs {
		var b cryptobyte.Builder
		b.AddASN1(asn1.SEQUENCE, attr)
		der, err := b.Bytes()
		if err != nil {
			return nil, signErr("encode signed attribute: %v", err)
		}
		encoded = append(encoded, der)
	}
	sort.Slice(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	})
	return encoded, nil
}

// buildCMS returns a detached CMS SignedData over content digest
func buildCMS(id *identity.SigningIdentity, digest []byte, signingTime time.Time) ([]byte, error) {
	alg, err := algorithmFor(id)
	if err != nil {
		return nil, err
	}

	attrs, err := signedAttributes(id, digest, signingTime)
	if err != nil {
		return nil, err
	}

	// the signature covers the attributes encoded as a SET
	var set cryptobyte.Builder
	set.AddASN1(asn1.SET, func(b *cryptobyte.Builder) {
		for _, a := range attrs {
			b.AddBytes(a)
		}
	})
	setDER, err := set.Bytes()
	if err != nil {
		return nil, signErr("encode signed attributes: %v", err)
	}
	attrDigest := sha256.Sum256(setDER)

	signature, err := id.Key.Sign(rand.Reader, attrDigest[:], alg.opts)
	if err != nil {
		return nil, signErr("sign attributes: %v", err)
	}

	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(oidSignedData)
		b.AddASN1(tagExplicit0, func(b *cryptobyte.Builder) {
			b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1Int64(1)
				b.AddASN1(asn1.SET, addSHA256AlgorithmID)
				b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
					b.AddASN1ObjectIdentifier(oidData)
				})
				b.AddASN1(tagExplicit0, func(b *cryptobyte.Builder) {
					for _, cert := range id.Certificates() {
						b.AddBytes(cert.Raw)
					}
				})
				b.AddASN1(asn1.SET, func(b *cryptobyte.Builder) {
					b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
						b.AddASN1Int64(1)
						b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
							b.AddBytes(id.Certificate.RawIssuer)
							b.AddASN1BigInt(id.Certificate.SerialNumber)
						})
						addSHA256AlgorithmID(b)
						b.AddASN1(tagExplicit0, func(b *cryptobyte.Builder) {
							for _, a := range attrs {
								b.AddBytes(a)
							}
						})
						alg.addID(b)
						b.AddASN1OctetString(signature)
					})
				})
			})
		})
	})

	der, err := b.Bytes()
	if err != nil {
		return nil, signErr("encode signed data: %v", err)
	}
	return der, nil
}

// reservedSize is the byte capacity of the /Contents placeholder
func reservedSize(id *identity.SigningIdentity) int {
	size := 8192
	for _, cert := range id.Certificates() {
		size += 2 * len(cert.Raw)
	}
	return size
}
