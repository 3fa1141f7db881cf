// Package policy decides whether verified claims satisfy a role requirement.
package policy

import (
	"github.com/and161185/caregate/internal/errs"
	"github.com/and161185/caregate/internal/model"
)

// Common requirements.
var (
	AdminOnly     = model.RoleSet{model.RoleAdmin}
	CaregiverOnly = model.RoleSet{model.RoleCaregiver}
)

// Any returns the empty requirement: every authenticated identity passes.
func Any() model.RoleSet { return nil }

// Roles builds a requirement from the given roles.
func Roles(rs ...model.Role) model.RoleSet { return model.RoleSet(rs) }

// Authorize returns nil when claims satisfy required.
// Missing claims yield errs.ErrUnauthenticated, a role outside the set errs.ErrForbidden.
func Authorize(claims *model.Claims, required model.RoleSet) error {
	if claims == nil {
		return errs.ErrUnauthenticated
	}
	if len(required) == 0 {
		return nil
	}
	if required.Contains(claims.Role) {
		return nil
	}
	return errs.ErrForbidden
}
