// Package apikey issues, validates, revokes and refreshes API credentials,
// and signs and verifies per-request HMAC signatures.
package apikey

import "time"

// Status is the lifecycle state of a credential.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

// Level is an ordered permission tier. Admin subsumes standard, standard
// subsumes read.
type Level string

const (
	LevelRead     Level = "read"
	LevelStandard Level = "standard"
	LevelAdmin    Level = "admin"
)

var levelRank = map[Level]int{
	LevelRead:     0,
	LevelStandard: 1,
	LevelAdmin:    2,
}

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	_, ok := levelRank[l]
	return ok
}

// Allows reports whether a caller at level l may access an endpoint
// requiring level required.
func (l Level) Allows(required Level) bool {
	lr, ok := levelRank[l]
	rr, ok2 := levelRank[required]
	return ok && ok2 && lr >= rr
}

// Credential is a stored API key record. SecretHash is a one-way digest;
// the raw secret is handed to the caller once at creation and never kept.
type Credential struct {
	ID         string            `json:"id"`
	SecretHash string            `json:"secretHash,omitempty"`
	Name       string            `json:"name"`
	ClientID   string            `json:"clientId"`
	Domain     string            `json:"domain"`
	CreatedAt  time.Time         `json:"createdAt"`
	ExpiresAt  time.Time         `json:"expiresAt"`
	LastUsedAt time.Time         `json:"lastUsedAt,omitempty"`
	Status     Status            `json:"status"`
	Level      Level             `json:"permissionLevel"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// sanitized returns a copy safe to hand outside the service.
func (c Credential) sanitized() Credential {
	c.SecretHash = ""
	return c
}

// CreateRequest describes a credential to issue.
type CreateRequest struct {
	Name     string            `json:"name"`
	ClientID string            `json:"clientId"`
	Domain   string            `json:"domain"`
	TTL      time.Duration     `json:"-"`
	Level    Level             `json:"permissionLevel"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CreateResponse carries the one-time raw key alongside the stored record.
type CreateResponse struct {
	Key  string     `json:"apiKey"`
	Info Credential `json:"keyInfo"`
}
