// Package token issues and verifies session tokens and verifies Google ID tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/caregate/internal/errs"
	"github.com/and161185/caregate/internal/model"
)

const (
	// DefaultTTL is the session lifetime when none is configured.
	DefaultTTL = 720 * time.Hour
	// DefaultIssuer is the iss claim of session tokens.
	DefaultIssuer = "caregate"
	// MinSecretLen is the minimum HS256 signing secret length in bytes.
	MinSecretLen = 32
)

// ErrWeakSecret is returned by NewIssuer for secrets shorter than MinSecretLen.
var ErrWeakSecret = errors.New("session signing secret is too short")

type sessionClaims struct {
	Role       string `json:"role"`
	Email      string `json:"email,omitempty"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// Option customizes an Issuer.
type Option func(*Issuer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// WithIssuer overrides the iss claim.
func WithIssuer(iss string) Option {
	return func(i *Issuer) {
		if iss != "" {
			i.issuer = iss
		}
	}
}

// NewIssuer constructs an Issuer. A zero ttl means DefaultTTL.
func NewIssuer(secret []byte, ttl time.Duration, opts ...Option) (*Issuer, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrWeakSecret
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	i := &Issuer{
		secret: append([]byte(nil), secret...),
		ttl:    ttl,
		issuer: DefaultIssuer,
		now:    time.Now,
	}
	for _, o := range opts {
		o(i)
	}
	return i, nil
}

// TTL returns the configured session lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue signs a session token for id. Output is deterministic for a fixed clock.
func (i *Issuer) Issue(id model.Identity) (string, model.Claims, error) {
	if id.ID == uuid.Nil || !id.Role.Valid() {
		return "", model.Claims{}, fmt.Errorf("%w: identity cannot hold a session", errs.ErrValidation)
	}
	iat := i.now().UTC().Truncate(time.Second)
	exp := iat.Add(i.ttl)

	sc := sessionClaims{
		Role:       string(id.Role),
		Email:      id.Email,
		GivenName:  id.GivenName,
		FamilyName: id.FamilyName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   id.ID.String(),
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, sc).SignedString(i.secret)
	if err != nil {
		return "", model.Claims{}, err
	}
	return signed, model.Claims{
		IdentityID: id.ID,
		Role:       id.Role,
		Email:      id.Email,
		GivenName:  id.GivenName,
		FamilyName: id.FamilyName,
		IssuedAt:   iat,
		ExpiresAt:  exp,
	}, nil
}

// Verify checks signature, algorithm, issuer and expiry of raw. Every failure
// is reported as errs.ErrUnauthenticated.
func (i *Issuer) Verify(raw string) (model.Claims, error) {
	if raw == "" {
		return model.Claims{}, errs.ErrUnauthenticated
	}
	p := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	var sc sessionClaims
	tok, err := p.ParseWithClaims(raw, &sc, func(*jwt.Token) (any, error) { return i.secret, nil })
	if err != nil || !tok.Valid {
		return model.Claims{}, errs.ErrUnauthenticated
	}
	id, err := uuid.FromString(sc.Subject)
	if err != nil || id == uuid.Nil {
		return model.Claims{}, errs.ErrUnauthenticated
	}
	role, ok := model.ParseRole(sc.Role)
	if !ok {
		return model.Claims{}, errs.ErrUnauthenticated
	}
	c := model.Claims{
		IdentityID: id,
		Role:       role,
		Email:      sc.Email,
		GivenName:  sc.GivenName,
		FamilyName: sc.FamilyName,
		ExpiresAt:  sc.ExpiresAt.Time.UTC(),
	}
	if sc.IssuedAt != nil {
		c.IssuedAt = sc.IssuedAt.Time.UTC()
	}
	return c, nil
}
