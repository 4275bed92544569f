package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"unmgate.org/internal/ids"
	"unmgate.org/internal/storage"
)

const defaultKeyTTL = 30 * 24 * time.Hour

// EventSink receives security events emitted by credential operations.
// Wired to the security monitor by the composition root.
type EventSink interface {
	Record(ctx context.Context, eventType, severity string, details map[string]any)
}

// Service manages credential issuance and verification. The in-memory
// index is authoritative for request-path lookups and is rebuilt from
// storage at startup; persistence is best effort on the write path.
type Service struct {
	store      storage.Store[Credential]
	now        func() time.Time
	defaultTTL time.Duration
	events     EventSink
	log        *zap.Logger

	mu    sync.RWMutex
	index map[string]Credential
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithDefaultTTL sets the lifetime applied when a create request carries none.
func WithDefaultTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

// WithEventSink attaches a security-event recipient.
func WithEventSink(sink EventSink) ServiceOption {
	return func(s *Service) { s.events = sink }
}

// WithLogger sets the service logger.
func WithLogger(log *zap.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService constructs Service over the given credential store.
func NewService(store storage.Store[Credential], opts ...ServiceOption) *Service {
	s := &Service{
		store:      store,
		now:        time.Now,
		defaultTTL: defaultKeyTTL,
		log:        zap.NewNop(),
		index:      make(map[string]Credential),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize loads every stored credential into the index.
func (s *Service) Initialize(ctx context.Context) error {
	if err := s.store.Initialize(ctx); err != nil {
		return err
	}
	all, err := s.store.GetMany(ctx, storage.QueryOptions{})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.index = make(map[string]Credential, len(all))
	for _, c := range all {
		s.index[c.ID] = c
	}
	s.mu.Unlock()
	s.log.Info("credential index loaded", zap.Int("count", len(all)))
	return nil
}

// Create issues a new credential and returns the raw key exactly once.
func (s *Service) Create(ctx context.Context, req CreateRequest) (CreateResponse, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.Domain = strings.TrimSpace(req.Domain)
	if req.Name == "" || req.ClientID == "" || req.Domain == "" {
		return CreateResponse{}, fmt.Errorf("%w: name, clientId and domain are required", ErrInvalidCredential)
	}
	if req.Level == "" {
		req.Level = LevelStandard
	}
	if !req.Level.Valid() {
		return CreateResponse{}, fmt.Errorf("%w: unknown permission level %q", ErrInvalidCredential, req.Level)
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	id := ids.New()
	secret := ids.NewSecret(32)
	now := s.now()
	cred := Credential{
		ID:         id,
		SecretHash: hashSecret(secret),
		Name:       req.Name,
		ClientID:   req.ClientID,
		Domain:     req.Domain,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		Status:     StatusActive,
		Level:      req.Level,
		Metadata:   req.Metadata,
	}

	s.mu.Lock()
	s.index[id] = cred
	s.mu.Unlock()

	if err := s.store.Create(ctx, id, cred); err != nil {
		s.log.Error("credential persist failed", zap.String("id", id), zap.Error(err))
	}
	s.emit(ctx, "api_key_created", "info", map[string]any{
		"keyId":    id,
		"clientId": cred.ClientID,
		"domain":   cred.Domain,
	})
	s.log.Info("credential created",
		zap.String("id", id),
		zap.String("clientId", cred.ClientID),
		zap.String("domain", cred.Domain))

	return CreateResponse{Key: id + "." + secret, Info: cred.sanitized()}, nil
}

// Validate checks a presented "id.secret" key and, when domain is
// non-empty, enforces the credential's domain allow-list. On success the
// returned record has its hash stripped.
func (s *Service) Validate(ctx context.Context, presented, domain string) (Credential, error) {
	id, secret, ok := strings.Cut(presented, ".")
	if !ok || id == "" || secret == "" {
		return Credential{}, fmt.Errorf("%w: malformed key", ErrInvalidCredential)
	}

	cred, ok := s.lookup(id)
	if !ok {
		return Credential{}, ErrInvalidCredential
	}
	if !compareHash(cred.SecretHash, secret) {
		return Credential{}, ErrInvalidCredential
	}
	if cred.Status == StatusRevoked {
		return Credential{}, ErrRevoked
	}
	now := s.now()
	if cred.Status == StatusExpired || now.After(cred.ExpiresAt) {
		if cred.Status != StatusExpired {
			s.transition(ctx, id, StatusExpired)
			s.emit(ctx, "api_key_expired", "low", map[string]any{
				"keyId":    id,
				"clientId": cred.ClientID,
			})
		}
		return Credential{}, ErrExpired
	}
	if domain != "" && !domainAllowed(cred.Domain, domain) {
		return Credential{}, fmt.Errorf("%w: %s", ErrDomainNotAllowed, domain)
	}

	// Best effort: a failed persist never fails the validation.
	s.mu.Lock()
	cred.LastUsedAt = now
	s.index[id] = cred
	s.mu.Unlock()
	if _, err := s.store.Update(ctx, id, map[string]any{"lastUsedAt": now}); err != nil {
		s.log.Warn("lastUsedAt persist failed", zap.String("id", id), zap.Error(err))
	}

	return cred.sanitized(), nil
}

// Revoke marks a credential revoked. Revocation takes effect immediately
// through the index even when persistence fails.
func (s *Service) Revoke(ctx context.Context, id string) error {
	cred, ok := s.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.transition(ctx, id, StatusRevoked)
	s.emit(ctx, "api_key_revoked", "medium", map[string]any{
		"keyId":    id,
		"clientId": cred.ClientID,
	})
	s.log.Info("credential revoked", zap.String("id", id), zap.String("clientId", cred.ClientID))
	return nil
}

// Refresh revokes an active credential and issues a replacement with the
// same client, domain, level and metadata. The old secret never validates
// again.
func (s *Service) Refresh(ctx context.Context, id string, ttl time.Duration) (CreateResponse, error) {
	cred, ok := s.lookup(id)
	if !ok {
		return CreateResponse{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	switch cred.Status {
	case StatusActive:
	case StatusRevoked:
		return CreateResponse{}, ErrRevoked
	default:
		return CreateResponse{}, ErrExpired
	}

	if err := s.Revoke(ctx, id); err != nil {
		return CreateResponse{}, err
	}
	resp, err := s.Create(ctx, CreateRequest{
		Name:     cred.Name,
		ClientID: cred.ClientID,
		Domain:   cred.Domain,
		TTL:      ttl,
		Level:    cred.Level,
		Metadata: cred.Metadata,
	})
	if err != nil {
		return CreateResponse{}, err
	}
	s.emit(ctx, "api_key_refreshed", "info", map[string]any{
		"oldKeyId": id,
		"newKeyId": resp.Info.ID,
		"clientId": cred.ClientID,
	})
	return resp, nil
}

// GetInfo returns a credential record without its secret hash.
func (s *Service) GetInfo(ctx context.Context, id string) (Credential, error) {
	cred, ok := s.lookup(id)
	if !ok {
		return Credential{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cred.sanitized(), nil
}

// ListByClient returns every credential owned by clientID, oldest first.
func (s *Service) ListByClient(ctx context.Context, clientID string) []Credential {
	s.mu.RLock()
	var out []Credential
	for _, c := range s.index {
		if c.ClientID == clientID {
			out = append(out, c.sanitized())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Seed installs a deterministic credential, replacing any record with the
// same id. Intended for smoke-test environments only.
func (s *Service) Seed(ctx context.Context, id, secret, clientID string) Credential {
	now := s.now()
	cred := Credential{
		ID:         id,
		SecretHash: hashSecret(secret),
		Name:       "Seeded test key",
		ClientID:   clientID,
		Domain:     "*",
		CreatedAt:  now,
		ExpiresAt:  now.Add(365 * 24 * time.Hour),
		Status:     StatusActive,
		Level:      LevelAdmin,
		Metadata:   map[string]string{"createdBy": "seed"},
	}
	s.mu.Lock()
	s.index[id] = cred
	s.mu.Unlock()
	s.log.Warn("seeded test credential installed", zap.String("id", id))
	return cred.sanitized()
}

func (s *Service) lookup(id string) (Credential, bool) {
	s.mu.RLock()
	cred, ok := s.index[id]
	s.mu.RUnlock()
	return cred, ok
}

// transition flips a credential's status in the index and persists it best
// effort.
func (s *Service) transition(ctx context.Context, id string, status Status) {
	s.mu.Lock()
	cred, ok := s.index[id]
	if ok {
		cred.Status = status
		s.index[id] = cred
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if _, err := s.store.Update(ctx, id, map[string]any{"status": string(status)}); err != nil {
		s.log.Warn("status persist failed",
			zap.String("id", id),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

func (s *Service) emit(ctx context.Context, eventType, severity string, details map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Record(ctx, eventType, severity, details)
}

// domainAllowed reports whether requested is covered by the credential
// domain. "*" covers everything; "*.example.com" covers any subdomain of
// example.com but not the bare apex and never a mere suffix collision like
// badexample.com.
func domainAllowed(allowed, requested string) bool {
	if allowed == "*" || allowed == requested {
		return true
	}
	if suffix, ok := strings.CutPrefix(allowed, "*."); ok {
		return strings.HasSuffix(requested, "."+suffix)
	}
	return false
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func compareHash(expectedHash, secret string) bool {
	actual := hashSecret(secret)
	if len(actual) != len(expectedHash) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(actual), []byte(expectedHash)) == 1
}
