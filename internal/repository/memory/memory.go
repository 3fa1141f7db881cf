// Package memory provides mutex-guarded in-process repositories for
// development runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/caregate/internal/errs"
	"github.com/and161185/caregate/internal/model"
	"github.com/and161185/caregate/internal/repository"
)

// Store holds identities, applications and events behind one lock.
type Store struct {
	mu         sync.RWMutex
	identities map[uuid.UUID]model.Identity
	apps       map[uuid.UUID]model.Application
	events     map[uuid.UUID][]model.TransitionEvent
	nextEvent  int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		identities: map[uuid.UUID]model.Identity{},
		apps:       map[uuid.UUID]model.Application{},
		events:     map[uuid.UUID][]model.TransitionEvent{},
	}
}

// Identities returns the identity repository view of the store.
func (s *Store) Identities() *IdentityRepo { return &IdentityRepo{s: s} }

// Applications returns the application repository view of the store.
func (s *Store) Applications() *ApplicationRepo { return &ApplicationRepo{s: s} }

// IdentityRepo implements repository.IdentityRepository in memory.
type IdentityRepo struct{ s *Store }

var _ repository.IdentityRepository = (*IdentityRepo)(nil)

// Create inserts a copy of id.
func (r *IdentityRepo) Create(_ context.Context, id *model.Identity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.identities[id.ID]; ok {
		return errs.ErrDuplicateIdentity
	}
	if r.s.conflictLocked(id) {
		return errs.ErrDuplicateIdentity
	}
	r.s.identities[id.ID] = *id
	return nil
}

// GetByID returns a copy of the identity.
func (r *IdentityRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Identity, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	v, ok := r.s.identities[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &v, nil
}

// GetByEmail scans for the email.
func (r *IdentityRepo) GetByEmail(_ context.Context, email string) (*model.Identity, error) {
	return r.find(func(i model.Identity) bool { return email != "" && i.Email == email })
}

// GetByFederatedID scans for the federated subject.
func (r *IdentityRepo) GetByFederatedID(_ context.Context, subject string) (*model.Identity, error) {
	return r.find(func(i model.Identity) bool { return subject != "" && i.FederatedID == subject })
}

// Save replaces the stored identity.
func (r *IdentityRepo) Save(_ context.Context, id *model.Identity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.identities[id.ID]; !ok {
		return errs.ErrNotFound
	}
	if r.s.conflictLocked(id) {
		return errs.ErrDuplicateIdentity
	}
	r.s.identities[id.ID] = *id
	return nil
}

func (r *IdentityRepo) find(match func(model.Identity) bool) (*model.Identity, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, v := range r.s.identities {
		if match(v) {
			return &v, nil
		}
	}
	return nil, errs.ErrNotFound
}

// conflictLocked reports whether another identity holds id's email or federated id.
func (s *Store) conflictLocked(id *model.Identity) bool {
	for _, v := range s.identities {
		if v.ID == id.ID {
			continue
		}
		if id.Email != "" && v.Email == id.Email {
			return true
		}
		if id.FederatedID != "" && v.FederatedID == id.FederatedID {
			return true
		}
	}
	return false
}

// ApplicationRepo implements repository.ApplicationRepository in memory.
type ApplicationRepo struct{ s *Store }

var _ repository.ApplicationRepository = (*ApplicationRepo)(nil)

// Create inserts the application and its first event.
func (r *ApplicationRepo) Create(_ context.Context, app *model.Application, ev model.TransitionEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.identities[app.OwnerID]; !ok {
		return fmt.Errorf("owner %s: %w", app.OwnerID, errs.ErrNotFound)
	}
	for _, v := range r.s.apps {
		if v.OwnerID == app.OwnerID || v.ID == app.ID {
			return errs.ErrDuplicateApplication
		}
	}
	r.s.apps[app.ID] = cloneApplication(*app)
	r.s.appendEventLocked(ev)
	return nil
}

// GetByID returns a copy of the application.
func (r *ApplicationRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Application, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	v, ok := r.s.apps[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := cloneApplication(v)
	return &c, nil
}

// GetByOwner returns the caregiver's application.
func (r *ApplicationRepo) GetByOwner(_ context.Context, ownerID uuid.UUID) (*model.Application, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, v := range r.s.apps {
		if v.OwnerID == ownerID {
			c := cloneApplication(v)
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

// List filters and pages applications, least recently updated first.
func (r *ApplicationRepo) List(_ context.Context, f model.ApplicationFilter) ([]model.Application, error) {
	r.s.mu.RLock()
	out := make([]model.Application, 0, len(r.s.apps))
	for _, v := range r.s.apps {
		if f.Stage != "" && v.Stage != f.Stage {
			continue
		}
		if f.Status != "" && v.StageStatus != f.Status {
			continue
		}
		out = append(out, cloneApplication(v))
	}
	r.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return []model.Application{}, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

// Transition swaps in next when the stored state still matches expect.
func (r *ApplicationRepo) Transition(
	_ context.Context, next *model.Application, expect repository.Expectation, ev model.TransitionEvent,
) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.apps[next.ID]
	if !ok {
		return errs.ErrNotFound
	}
	if cur.Stage != expect.Stage || cur.StageStatus != expect.Status || cur.Version != expect.Version {
		return fmt.Errorf("%w: application %s changed concurrently", errs.ErrInvalidTransition, next.ID)
	}
	r.s.apps[next.ID] = cloneApplication(*next)
	r.s.appendEventLocked(ev)
	return nil
}

// Events returns a copy of the audit trail.
func (r *ApplicationRepo) Events(_ context.Context, applicationID uuid.UUID) ([]model.TransitionEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return append([]model.TransitionEvent{}, r.s.events[applicationID]...), nil
}

func (s *Store) appendEventLocked(ev model.TransitionEvent) {
	s.nextEvent++
	ev.ID = s.nextEvent
	s.events[ev.ApplicationID] = append(s.events[ev.ApplicationID], ev)
}

func cloneApplication(a model.Application) model.Application {
	if a.Availability != nil {
		av := *a.Availability
		a.Availability = &av
	}
	return a
}
