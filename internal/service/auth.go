// Package service contains application services for authentication and
// caregiver onboarding.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/caregate/internal/crypto"
	"github.com/and161185/caregate/internal/errs"
	"github.com/and161185/caregate/internal/limiter"
	"github.com/and161185/caregate/internal/model"
	"github.com/and161185/caregate/internal/policy"
	"github.com/and161185/caregate/internal/repository"
)

const (
	minPasswordLen = 8
	maxPasswordLen = 128
)

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(id model.Identity) (string, model.Claims, error)
}

// RegisterInput is a self-registration request.
type RegisterInput struct {
	Email      string
	Password   string
	Role       model.Role
	GivenName  string
	FamilyName string
}

// AuthService defines authentication and identity administration operations.
type AuthService interface {
	// Register creates a password identity and signs it in.
	Register(ctx context.Context, in RegisterInput) (model.Session, error)
	// Login applies rate-limiting and authenticates with email and password.
	Login(ctx context.Context, email, password, ip string) (model.Session, error)
	// LoginFederated authenticates with a Google ID token, creating or linking the identity.
	LoginFederated(ctx context.Context, idToken string, requested model.Role) (model.Session, error)
	// ChangePassword replaces (or for federated-only accounts, sets) the password.
	ChangePassword(ctx context.Context, identityID uuid.UUID, oldPassword, newPassword string) error
	// SetIdentityStatus lets an admin block or re-activate an identity.
	SetIdentityStatus(ctx context.Context, admin model.Principal, identityID uuid.UUID, status model.IdentityStatus) (model.Identity, error)
	// EnsureAdmin creates the bootstrap admin if it does not exist yet.
	EnsureAdmin(ctx context.Context, email, password string) (model.Identity, error)
}

type AuthServiceImpl struct {
	identities repository.IdentityRepository
	tokens     TokenIssuer
	hasher     *pkgcrypto.Hasher
	lim        limiter.Limiter
	dummyHash  string
	options
}

var _ AuthService = (*AuthServiceImpl)(nil)

// NewAuthService constructs AuthService with required dependencies.
// A nil limiter disables login throttling.
func NewAuthService(
	identities repository.IdentityRepository, tokens TokenIssuer, hasher *pkgcrypto.Hasher, lim limiter.Limiter, opts ...Option,
) (*AuthServiceImpl, error) {
	if lim == nil {
		lim = limiter.Noop{}
	}
	// unknown emails are checked against this hash so both paths cost the same
	dummy, err := hasher.Hash("caregate-timing-equalizer")
	if err != nil {
		return nil, err
	}
	return &AuthServiceImpl{
		identities: identities,
		tokens:     tokens,
		hasher:     hasher,
		lim:        lim,
		dummyHash:  dummy,
		options:    buildOptions(opts),
	}, nil
}

// Register validates input, hashes the password and stores a new identity.
func (s *AuthServiceImpl) Register(ctx context.Context, in RegisterInput) (model.Session, error) {
	in.Email = model.NormalizeEmail(in.Email)
	in.GivenName = strings.TrimSpace(in.GivenName)
	in.FamilyName = strings.TrimSpace(in.FamilyName)

	role, err := selfServiceRole(in.Role)
	if err != nil {
		return model.Session{}, err
	}
	if err := validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, is.EmailFormat, validation.Length(3, 254)),
		validation.Field(&in.Password, validation.Required, validation.Length(minPasswordLen, maxPasswordLen)),
		validation.Field(&in.GivenName, validation.Length(0, 100)),
		validation.Field(&in.FamilyName, validation.Length(0, 100)),
	); err != nil {
		return model.Session{}, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return model.Session{}, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return model.Session{}, err
	}
	now := s.now().UTC()
	ident := &model.Identity{
		ID:           id,
		Email:        in.Email,
		PasswordHash: hash,
		GivenName:    in.GivenName,
		FamilyName:   in.FamilyName,
		Role:         role,
		Status:       model.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.identities.Create(ctx, ident); err != nil {
		s.rec.RecordAuth("register", outcome(err))
		return model.Session{}, err
	}
	s.rec.RecordAuth("register", "ok")
	s.log.Info("identity registered", zap.String("identity_id", id.String()), zap.String("role", string(role)))
	return s.session(*ident)
}

// Login authenticates with rate limiting by (email, ip). Every credential
// failure yields the same errs.ErrInvalidCredentials.
func (s *AuthServiceImpl) Login(ctx context.Context, email, password, ip string) (model.Session, error) {
	email = model.NormalizeEmail(email)
	ipHash := limiter.HashIP(ip)

	allowed, retry, err := s.lim.Allow(ctx, email, ipHash)
	if err != nil {
		return model.Session{}, fmt.Errorf("login limiter: %w: %w", errs.ErrStorageUnavailable, err)
	}
	if !allowed {
		s.rec.RecordAuth("password", "rate_limited")
		return model.Session{}, fmt.Errorf("%w: retry in %s", errs.ErrRateLimited, retry.Round(1e9))
	}

	ident, err := s.identities.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Session{}, err
	}

	if !s.checkPassword(ident, password) {
		if blocked, _, ferr := s.lim.Failure(ctx, email, ipHash); ferr != nil {
			s.log.Warn("record login failure", zap.Error(ferr))
		} else if blocked {
			s.rec.RecordAuth("password", "rate_limited")
			return model.Session{}, errs.ErrRateLimited
		}
		s.rec.RecordAuth("password", "invalid_credentials")
		return model.Session{}, errs.ErrInvalidCredentials
	}

	if err := s.lim.Success(ctx, email, ipHash); err != nil {
		s.log.Warn("reset login limiter", zap.Error(err))
	}
	s.upgradeHash(ctx, ident, password)
	s.rec.RecordAuth("password", "ok")
	return s.session(*ident)
}

// checkPassword verifies against the stored hash, or against a dummy hash when
// there is no usable one. Blocked identities never pass.
func (s *AuthServiceImpl) checkPassword(ident *model.Identity, password string) bool {
	if ident == nil || !ident.HasPassword() {
		_, _ = s.hasher.Verify(password, s.dummyHash)
		return false
	}
	ok, err := s.hasher.Verify(password, ident.PasswordHash)
	if err != nil {
		s.log.Error("verify password hash", zap.String("identity_id", ident.ID.String()), zap.Error(err))
		return false
	}
	return ok && ident.Status.CanAuthenticate()
}

// upgradeHash rewrites legacy or outdated hashes after a successful login.
func (s *AuthServiceImpl) upgradeHash(ctx context.Context, ident *model.Identity, password string) {
	if !s.hasher.NeedsRehash(ident.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.log.Warn("rehash password", zap.Error(err))
		return
	}
	ident.PasswordHash = hash
	ident.UpdatedAt = s.now().UTC()
	if err := s.identities.Save(ctx, ident); err != nil {
		s.log.Warn("store upgraded hash", zap.String("identity_id", ident.ID.String()), zap.Error(err))
		return
	}
	s.log.Info("password hash upgraded", zap.String("identity_id", ident.ID.String()))
}

// LoginFederated verifies a Google ID token and signs in the matching identity.
// Unknown subjects get a new identity with the requested role; an existing
// password account is linked only when Google asserts the email is verified.
func (s *AuthServiceImpl) LoginFederated(ctx context.Context, idToken string, requested model.Role) (model.Session, error) {
	if s.federated == nil {
		return model.Session{}, fmt.Errorf("%w: federated login is not configured", errs.ErrInvalidFederatedToken)
	}
	role, err := selfServiceRole(requested)
	if err != nil {
		return model.Session{}, err
	}
	fi, err := s.federated.Verify(ctx, idToken)
	if err != nil {
		s.rec.RecordAuth("google", "invalid_token")
		return model.Session{}, errs.ErrInvalidFederatedToken
	}

	ident, err := s.identities.GetByFederatedID(ctx, fi.Subject)
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrNotFound):
		ident, err = s.linkOrCreate(ctx, fi, role)
		if err != nil {
			s.rec.RecordAuth("google", outcome(err))
			return model.Session{}, err
		}
	default:
		return model.Session{}, err
	}

	if !ident.Status.CanAuthenticate() {
		s.rec.RecordAuth("google", "invalid_credentials")
		return model.Session{}, errs.ErrInvalidCredentials
	}
	s.rec.RecordAuth("google", "ok")
	return s.session(*ident)
}

func (s *AuthServiceImpl) linkOrCreate(ctx context.Context, fi model.FederatedIdentity, role model.Role) (*model.Identity, error) {
	now := s.now().UTC()

	if fi.Email != "" {
		existing, err := s.identities.GetByEmail(ctx, fi.Email)
		switch {
		case err == nil:
			if !fi.EmailVerified || existing.FederatedID != "" {
				return nil, fmt.Errorf("%w: email is registered to another account", errs.ErrDuplicateIdentity)
			}
			existing.FederatedID = fi.Subject
			if existing.GivenName == "" {
				existing.GivenName = fi.GivenName
			}
			if existing.FamilyName == "" {
				existing.FamilyName = fi.FamilyName
			}
			existing.UpdatedAt = now
			if err := s.identities.Save(ctx, existing); err != nil {
				return nil, err
			}
			s.log.Info("federated identity linked", zap.String("identity_id", existing.ID.String()))
			return existing, nil
		case !errors.Is(err, errs.ErrNotFound):
			return nil, err
		}
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	ident := &model.Identity{
		ID:          id,
		FederatedID: fi.Subject,
		GivenName:   fi.GivenName,
		FamilyName:  fi.FamilyName,
		Role:        role,
		Status:      model.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	// an unverified address must not reserve the email for a later password signup
	if fi.EmailVerified {
		ident.Email = fi.Email
	}
	if err := s.identities.Create(ctx, ident); err != nil {
		return nil, err
	}
	s.log.Info("federated identity created", zap.String("identity_id", id.String()), zap.String("role", string(role)))
	return ident, nil
}

// ChangePassword verifies the old password (unless none is set) and stores a new hash.
func (s *AuthServiceImpl) ChangePassword(ctx context.Context, identityID uuid.UUID, oldPassword, newPassword string) error {
	if err := validation.Validate(newPassword, validation.Required, validation.Length(minPasswordLen, maxPasswordLen)); err != nil {
		return fmt.Errorf("%w: new password: %v", errs.ErrValidation, err)
	}
	ident, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return err
	}
	if ident.HasPassword() {
		ok, err := s.hasher.Verify(oldPassword, ident.PasswordHash)
		if err != nil || !ok {
			return errs.ErrInvalidCredentials
		}
	}
	if ident.Email == "" {
		return fmt.Errorf("%w: a password needs an email address on the account", errs.ErrValidation)
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	ident.PasswordHash = hash
	ident.UpdatedAt = s.now().UTC()
	if err := s.identities.Save(ctx, ident); err != nil {
		return err
	}
	s.log.Info("password changed", zap.String("identity_id", identityID.String()))
	return nil
}

// SetIdentityStatus changes the status of another identity. Admin only.
func (s *AuthServiceImpl) SetIdentityStatus(
	ctx context.Context, admin model.Principal, identityID uuid.UUID, status model.IdentityStatus,
) (model.Identity, error) {
	if err := policy.Authorize(&admin.Claims, policy.AdminOnly); err != nil {
		return model.Identity{}, err
	}
	if !status.Valid() {
		return model.Identity{}, fmt.Errorf("%w: unknown status %q", errs.ErrValidation, status)
	}
	if identityID == admin.Claims.IdentityID {
		return model.Identity{}, fmt.Errorf("%w: admins cannot change their own status", errs.ErrValidation)
	}
	ident, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return model.Identity{}, err
	}
	if ident.Status == status {
		return *ident, nil
	}
	ident.Status = status
	ident.UpdatedAt = s.now().UTC()
	if err := s.identities.Save(ctx, ident); err != nil {
		return model.Identity{}, err
	}
	s.log.Info("identity status changed",
		zap.String("identity_id", identityID.String()),
		zap.String("status", string(status)),
		zap.String("admin_id", admin.Claims.IdentityID.String()),
	)
	return *ident, nil
}

// EnsureAdmin creates an admin identity unless one with this email exists.
func (s *AuthServiceImpl) EnsureAdmin(ctx context.Context, email, password string) (model.Identity, error) {
	email = model.NormalizeEmail(email)
	if err := validation.Validate(email, validation.Required, is.EmailFormat); err != nil {
		return model.Identity{}, fmt.Errorf("%w: admin email: %v", errs.ErrValidation, err)
	}
	existing, err := s.identities.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.Role != model.RoleAdmin {
			return model.Identity{}, fmt.Errorf("%w: %s exists with role %s", errs.ErrDuplicateIdentity, email, existing.Role)
		}
		return *existing, nil
	case !errors.Is(err, errs.ErrNotFound):
		return model.Identity{}, err
	}

	if err := validation.Validate(password, validation.Required, validation.Length(minPasswordLen, maxPasswordLen)); err != nil {
		return model.Identity{}, fmt.Errorf("%w: admin password: %v", errs.ErrValidation, err)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return model.Identity{}, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return model.Identity{}, err
	}
	now := s.now().UTC()
	ident := &model.Identity{
		ID: id, Email: email, PasswordHash: hash,
		Role: model.RoleAdmin, Status: model.StatusActive,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.identities.Create(ctx, ident); err != nil {
		return model.Identity{}, err
	}
	s.log.Info("bootstrap admin created", zap.String("identity_id", id.String()))
	return *ident, nil
}

func (s *AuthServiceImpl) session(ident model.Identity) (model.Session, error) {
	raw, claims, err := s.tokens.Issue(ident)
	if err != nil {
		return model.Session{}, err
	}
	return model.Session{Identity: ident, Token: raw, ExpiresAt: claims.ExpiresAt}, nil
}

// selfServiceRole resolves the role a user may pick for themselves.
func selfServiceRole(r model.Role) (model.Role, error) {
	if r == "" {
		return model.RoleClient, nil
	}
	switch r {
	case model.RoleClient, model.RoleCaregiver:
		return r, nil
	case model.RoleAdmin:
		return "", fmt.Errorf("%w: admin accounts cannot be self-registered", errs.ErrForbidden)
	default:
		return "", fmt.Errorf("%w: unknown role %q", errs.ErrValidation, r)
	}
}

// outcome is a low-cardinality metrics label for err.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errs.ErrDuplicateIdentity):
		return "duplicate"
	case errors.Is(err, errs.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, errs.ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "error"
	}
}
