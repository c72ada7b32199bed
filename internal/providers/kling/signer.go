package kling

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/golang-jwt/jwt/v5"

	"tryon/internal/domain"
)

const (
	// DefaultTokenTTL is how long a signed token stays valid.
	DefaultTokenTTL = 30 * time.Minute
	notBeforeSkew   = 5 * time.Second
)

// Signer derives HS256 bearer tokens from an access/secret key pair.
type Signer struct {
	credential domain.Credential
	ttl        time.Duration
}

// NewSigner validates cred and returns a Signer issuing tokens valid for ttl.
func NewSigner(cred domain.Credential, ttl time.Duration) (*Signer, error) {
	if err := validateCredential(cred); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Signer{credential: cred, ttl: ttl}, nil
}

// Sign issues a token at now. It is a pure function of the credential and now.
func (s *Signer) Sign(now time.Time) (domain.SignedToken, error) {
	return Sign(s.credential, now, s.ttl)
}

// Sign issues a token for cred: iss is the access key id, iat is now, nbf is
// a few seconds earlier to absorb clock skew, exp is now+ttl.
func Sign(cred domain.Credential, now time.Time, ttl time.Duration) (domain.SignedToken, error) {
	if err := validateCredential(cred); err != nil {
		return domain.SignedToken{}, err
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	issued := now.UTC().Truncate(time.Second)
	expires := issued.Add(ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    cred.AccessKeyID,
		IssuedAt:  jwt.NewNumericDate(issued),
		NotBefore: jwt.NewNumericDate(issued.Add(-notBeforeSkew)),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	value, err := token.SignedString([]byte(cred.SecretKey))
	if err != nil {
		return domain.SignedToken{}, fmt.Errorf("%w: %v", domain.ErrInvalidCredential, err)
	}
	return domain.SignedToken{Value: value, IssuedAt: issued, ExpiresAt: expires}, nil
}

func validateCredential(cred domain.Credential) error {
	if strings.TrimSpace(cred.AccessKeyID) == "" {
		return fmt.Errorf("%w: access key id is required", domain.ErrInvalidCredential)
	}
	if cred.SecretKey == "" {
		return fmt.Errorf("%w: secret key is required", domain.ErrInvalidCredential)
	}
	for _, r := range cred.SecretKey {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: secret key contains whitespace or control characters", domain.ErrInvalidCredential)
		}
	}
	return nil
}
