package token

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/and161185/caregate/internal/errs"
	"github.com/and161185/caregate/internal/model"
)

// GoogleJWKSURL is Google's published signing key set.
const GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

var googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// FederatedVerifier verifies an identity-provider token.
type FederatedVerifier interface {
	Verify(ctx context.Context, idToken string) (model.FederatedIdentity, error)
}

// flexBool accepts both true and "true"; Google has emitted either form.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = flexBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*b = flexBool(strings.EqualFold(s, "true"))
	return nil
}

type googleClaims struct {
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
	GivenName     string   `json:"given_name"`
	FamilyName    string   `json:"family_name"`
	jwt.RegisteredClaims
}

// GoogleVerifier validates Google ID tokens against a JWKS.
type GoogleVerifier struct {
	clientID string
	keys     jwt.Keyfunc
	jwks     *keyfunc.JWKS
	now      func() time.Time
}

// NewGoogleVerifier fetches the key set at jwksURL (GoogleJWKSURL when empty)
// and keeps it refreshed in the background until Close.
func NewGoogleVerifier(ctx context.Context, clientID, jwksURL string, log *zap.Logger) (*GoogleVerifier, error) {
	if clientID == "" {
		return nil, fmt.Errorf("google client id is required")
	}
	if jwksURL == "" {
		jwksURL = GoogleJWKSURL
	}
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		Ctx: ctx,
		RefreshErrorHandler: func(err error) {
			log.Warn("jwks refresh failed", zap.String("url", jwksURL), zap.Error(err))
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, fmt.Errorf("load google jwks: %w", err)
	}
	return &GoogleVerifier{clientID: clientID, keys: jwks.Keyfunc, jwks: jwks, now: time.Now}, nil
}

// NewGoogleVerifierWithKeys builds a verifier over a fixed key lookup.
func NewGoogleVerifierWithKeys(clientID string, keys jwt.Keyfunc, now func() time.Time) *GoogleVerifier {
	if now == nil {
		now = time.Now
	}
	return &GoogleVerifier{clientID: clientID, keys: keys, now: now}
}

// Close stops the background key refresh.
func (v *GoogleVerifier) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}

// Verify checks an RS256 Google ID token. Any failure yields errs.ErrInvalidFederatedToken.
func (v *GoogleVerifier) Verify(_ context.Context, idToken string) (model.FederatedIdentity, error) {
	if idToken == "" {
		return model.FederatedIdentity{}, errs.ErrInvalidFederatedToken
	}
	p := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	var gc googleClaims
	tok, err := p.ParseWithClaims(idToken, &gc, v.keys)
	if err != nil || !tok.Valid {
		return model.FederatedIdentity{}, errs.ErrInvalidFederatedToken
	}
	if !validGoogleIssuer(gc.Issuer) || gc.Subject == "" {
		return model.FederatedIdentity{}, errs.ErrInvalidFederatedToken
	}
	return model.FederatedIdentity{
		Provider:      "google",
		Subject:       gc.Subject,
		Email:         model.NormalizeEmail(gc.Email),
		EmailVerified: bool(gc.EmailVerified),
		GivenName:     gc.GivenName,
		FamilyName:    gc.FamilyName,
	}, nil
}

func validGoogleIssuer(iss string) bool {
	for _, s := range googleIssuers {
		if iss == s {
			return true
		}
	}
	return false
}
