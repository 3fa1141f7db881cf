package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/caregate/internal/errs"
	"github.com/and161185/caregate/internal/model"
)

// IdentityRepo implements IdentityRepository using PostgreSQL.
type IdentityRepo struct{ db *DB }

// NewIdentityRepo constructs an identity repository.
func NewIdentityRepo(db *DB) *IdentityRepo { return &IdentityRepo{db: db} }

const identityColumns = `id, email, password_hash, federated_id, given_name, family_name, role, status, created_at, updated_at`

// Create inserts a new identity row.
func (r *IdentityRepo) Create(ctx context.Context, id *model.Identity) error {
	const q = `
INSERT INTO identities (id, email, password_hash, federated_id, given_name, family_name, role, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.Pool.Exec(ctx, q,
		id.ID, id.Email, id.PasswordHash, id.FederatedID, id.GivenName, id.FamilyName,
		string(id.Role), string(id.Status), id.CreatedAt, id.UpdatedAt)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return errs.ErrDuplicateIdentity
	default:
		return unavailable("create identity", err)
	}
}

// GetByID selects an identity by ID.
func (r *IdentityRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Identity, error) {
	const q = `SELECT ` + identityColumns + ` FROM identities WHERE id=$1`
	return r.getOne(ctx, "get identity by id", q, id)
}

// GetByEmail selects an identity by normalized email.
func (r *IdentityRepo) GetByEmail(ctx context.Context, email string) (*model.Identity, error) {
	if email == "" {
		return nil, errs.ErrNotFound
	}
	const q = `SELECT ` + identityColumns + ` FROM identities WHERE email=$1`
	return r.getOne(ctx, "get identity by email", q, email)
}

// GetByFederatedID selects an identity by identity-provider subject.
func (r *IdentityRepo) GetByFederatedID(ctx context.Context, subject string) (*model.Identity, error) {
	if subject == "" {
		return nil, errs.ErrNotFound
	}
	const q = `SELECT ` + identityColumns + ` FROM identities WHERE federated_id=$1`
	return r.getOne(ctx, "get identity by federated id", q, subject)
}

// Save updates the mutable columns of an identity.
func (r *IdentityRepo) Save(ctx context.Context, id *model.Identity) error {
	const q = `
UPDATE identities
SET email=$2, password_hash=$3, federated_id=$4, given_name=$5, family_name=$6, role=$7, status=$8, updated_at=$9
WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q,
		id.ID, id.Email, id.PasswordHash, id.FederatedID, id.GivenName, id.FamilyName,
		string(id.Role), string(id.Status), id.UpdatedAt)
	switch {
	case err == nil && tag.RowsAffected() == 0:
		return errs.ErrNotFound
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return errs.ErrDuplicateIdentity
	default:
		return unavailable("save identity", err)
	}
}

func (r *IdentityRepo) getOne(ctx context.Context, op, q string, arg any) (*model.Identity, error) {
	var (
		out          model.Identity
		role, status string
	)
	err := r.db.Pool.QueryRow(ctx, q, arg).Scan(
		&out.ID, &out.Email, &out.PasswordHash, &out.FederatedID, &out.GivenName, &out.FamilyName,
		&role, &status, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, unavailable(op, err)
	}
	out.Role = model.Role(role)
	out.Status = model.IdentityStatus(status)
	return &out, nil
}
