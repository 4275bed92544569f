package permission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"unmgate.org/internal/cache"
	"unmgate.org/internal/storage"
)

const roleCacheTTL = 5 * time.Minute

// RoleService persists roles and keeps the evaluator's role registry in
// step with durable state. Every mutation clears the whole decision cache
// before returning: coarse, but role changes are rare and decisions are
// cheap to recompute.
type RoleService struct {
	store storage.Store[Role]
	cache cache.Cache
	eval  *Evaluator
	log   *zap.Logger
}

// NewRoleService constructs a RoleService bound to eval.
func NewRoleService(store storage.Store[Role], c cache.Cache, eval *Evaluator, log *zap.Logger) *RoleService {
	if c == nil {
		c = cache.Noop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RoleService{store: store, cache: c, eval: eval, log: log}
}

// Initialize loads persisted roles into the evaluator.
func (s *RoleService) Initialize(ctx context.Context) error {
	if err := s.store.Initialize(ctx); err != nil {
		return err
	}
	roles, err := s.store.GetMany(ctx, storage.QueryOptions{})
	if err != nil {
		return err
	}
	for _, r := range roles {
		s.eval.setRole(r)
	}
	s.log.Info("roles loaded", zap.Int("count", len(roles)))
	return nil
}

// Create persists a new role and registers it with the evaluator.
func (s *RoleService) Create(ctx context.Context, role Role) error {
	role.ID = strings.TrimSpace(role.ID)
	if role.ID == "" {
		return errors.New("permission: role id is required")
	}
	if err := s.store.Create(ctx, role.ID, role); err != nil {
		if errors.Is(err, storage.ErrExists) {
			return fmt.Errorf("%w: %s", ErrRoleExists, role.ID)
		}
		return err
	}
	s.eval.setRole(role)
	s.invalidate(ctx, role.ID)
	s.log.Info("role created", zap.String("role", role.ID), zap.String("name", role.Name))
	return nil
}

// Update applies a partial patch to a role.
func (s *RoleService) Update(ctx context.Context, id string, patch map[string]any) (Role, error) {
	updated, err := s.store.Update(ctx, id, patch)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Role{}, fmt.Errorf("%w: %s", ErrRoleNotFound, id)
		}
		return Role{}, err
	}
	s.eval.setRole(updated)
	s.invalidate(ctx, id)
	s.log.Info("role updated", zap.String("role", id))
	return updated, nil
}

// Delete removes a role. Existing credentials referencing it will be
// denied with "role not found" until reassigned.
func (s *RoleService) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRoleNotFound, id)
		}
		return err
	}
	s.eval.removeRole(id)
	s.invalidate(ctx, id)
	s.log.Info("role deleted", zap.String("role", id))
	return nil
}

// Get returns a role, serving from the role cache when fresh.
func (s *RoleService) Get(ctx context.Context, id string) (Role, error) {
	key := cache.Key("role", id)
	if raw, ok := s.cache.Get(ctx, key); ok {
		var r Role
		if err := json.Unmarshal(raw, &r); err == nil {
			return r, nil
		}
	}
	role, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Role{}, fmt.Errorf("%w: %s", ErrRoleNotFound, id)
		}
		return Role{}, err
	}
	if raw, err := json.Marshal(role); err == nil {
		s.cache.Set(ctx, key, raw, roleCacheTTL)
	}
	return role, nil
}

// List returns every persisted role.
func (s *RoleService) List(ctx context.Context) ([]Role, error) {
	return s.store.GetMany(ctx, storage.QueryOptions{})
}

// invalidate drops the role's cache entry and every memoized decision.
// Runs before the mutation is acknowledged to the caller.
func (s *RoleService) invalidate(ctx context.Context, id string) {
	s.cache.Delete(ctx, cache.Key("role", id))
	s.eval.clearDecisions(ctx)
}
