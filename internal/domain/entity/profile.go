package entity

import "time"

// SignatureProfile is the per-user signing material. The secret fields never
// leave the profile store except into a signing session.
type SignatureProfile struct {
	Login          string    `json:"login"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	PKCS12         []byte    `json:"-"`
	Passphrase     string    `json:"-"`
	SignatureImage []byte    `json:"-"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ProfileSummary is what the API returns about a stored profile
type ProfileSummary struct {
	Login             string    `json:"login"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	HasCertificate    bool      `json:"has_certificate"`
	HasSignatureImage bool      `json:"has_signature_image"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (p *SignatureProfile) Summary() ProfileSummary {
	return ProfileSummary{
		Login:             p.Login,
		Name:              p.Name,
		Email:             p.Email,
		HasCertificate:    len(p.PKCS12) > 0,
		HasSignatureImage: len(p.SignatureImage) > 0,
		UpdatedAt:         p.UpdatedAt,
	}
}

// DisplayName is the name written into signature metadata
func (p *SignatureProfile) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Login
}
