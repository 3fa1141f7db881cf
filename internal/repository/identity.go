// Package repository defines storage interfaces implemented by concrete backends.
//
// Implementations report a missing row as errs.ErrNotFound and any driver
// failure wrapped in errs.ErrStorageUnavailable.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/caregate/internal/model"
)

// IdentityRepository provides access to identity records.
type IdentityRepository interface {
	// Create inserts a new identity; a taken email or federated id yields errs.ErrDuplicateIdentity.
	Create(ctx context.Context, id *model.Identity) error
	// GetByID loads an identity by primary key.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Identity, error)
	// GetByEmail loads an identity by normalized email.
	GetByEmail(ctx context.Context, email string) (*model.Identity, error)
	// GetByFederatedID loads an identity by identity-provider subject.
	GetByFederatedID(ctx context.Context, subject string) (*model.Identity, error)
	// Save overwrites the mutable fields (password hash, federated id, names, status).
	Save(ctx context.Context, id *model.Identity) error
}
