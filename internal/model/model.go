// Package model defines domain entities used by services and repositories.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/caregate/internal/errs"
)

// Role is the coarse access level of an identity.
type Role string

const (
	RoleClient    Role = "client"
	RoleCaregiver Role = "caregiver"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleCaregiver, RoleAdmin:
		return true
	default:
		return false
	}
}

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

// RoleSet is the set of roles allowed to perform an action. Empty means any
// authenticated identity.
type RoleSet []Role

// Contains reports whether r is a member of the set.
func (s RoleSet) Contains(r Role) bool {
	for _, x := range s {
		if x == r {
			return true
		}
	}
	return false
}

// IdentityStatus governs whether an identity may authenticate.
type IdentityStatus string

const (
	StatusActive  IdentityStatus = "active"
	StatusPending IdentityStatus = "pending"
	StatusBlocked IdentityStatus = "blocked"
)

// Valid reports whether s is one of the known statuses.
func (s IdentityStatus) Valid() bool {
	switch s {
	case StatusActive, StatusPending, StatusBlocked:
		return true
	default:
		return false
	}
}

// CanAuthenticate reports whether an identity in this status may log in or
// use a previously issued token.
func (s IdentityStatus) CanAuthenticate() bool {
	return s == StatusActive || s == StatusPending
}

// Identity is an authenticable account record.
type Identity struct {
	ID           uuid.UUID // PK, immutable
	Email        string    // unique, lower-cased
	PasswordHash string    // encoded hash; empty for federated-only accounts
	FederatedID  string    // Google subject; unique when set
	GivenName    string
	FamilyName   string
	Role         Role
	Status       IdentityStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPassword reports whether a local password is set.
func (i *Identity) HasPassword() bool { return i.PasswordHash != "" }

// Validate checks the record-level invariants.
func (i *Identity) Validate() error {
	if i.ID == uuid.Nil {
		return fmt.Errorf("%w: identity id is empty", errs.ErrValidation)
	}
	if i.PasswordHash == "" && i.FederatedID == "" {
		return fmt.Errorf("%w: identity needs a password or a federated id", errs.ErrValidation)
	}
	if i.Email == "" && i.PasswordHash != "" {
		return fmt.Errorf("%w: password identity needs an email", errs.ErrValidation)
	}
	if !i.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", errs.ErrValidation, i.Role)
	}
	if !i.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", errs.ErrValidation, i.Status)
	}
	return nil
}

// NormalizeEmail returns the canonical, case-insensitive form of an email.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FederatedIdentity is what a verified identity-provider token asserts.
type FederatedIdentity struct {
	Provider      string // "google"
	Subject       string // provider-scoped user id (sub)
	Email         string
	EmailVerified bool
	GivenName     string
	FamilyName    string
}

// Claims is the decoded, time-bounded payload of a session token.
type Claims struct {
	IdentityID uuid.UUID
	Role       Role
	Email      string
	GivenName  string
	FamilyName string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// ValidAt reports whether the claims are still valid at t (strictly before expiry).
func (c Claims) ValidAt(t time.Time) bool { return t.Before(c.ExpiresAt) }

// Session is the result of a successful authentication.
type Session struct {
	Identity  Identity
	Token     string
	ExpiresAt time.Time
}

// Actor identifies who triggered an operation.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// Principal is a verified request identity: token claims plus the stored record.
type Principal struct {
	Claims   Claims
	Identity Identity
}

// Actor returns the acting identity for state-machine commands.
func (p Principal) Actor() Actor {
	return Actor{ID: p.Claims.IdentityID, Role: p.Claims.Role}
}
