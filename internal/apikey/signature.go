package apikey

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"unmgate.org/internal/cache"
	"unmgate.org/internal/ids"
)

const defaultSignatureWindow = 5 * time.Minute

// Signature is the triple a caller presents alongside a signed request.
type Signature struct {
	Timestamp int64  `json:"timestamp"` // unix milliseconds
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

// Signer produces and verifies request signatures. Verification rejects
// timestamps outside the window and nonces already seen within it, so
// a captured signature cannot be replayed.
type Signer struct {
	secret []byte
	window time.Duration
	nonces cache.Cache
	now    func() time.Time
}

// SignerOption configures Signer behavior.
type SignerOption func(*Signer)

// WithSignerClock overrides time source (useful for tests).
func WithSignerClock(fn func() time.Time) SignerOption {
	return func(s *Signer) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithWindow sets the signature validity window.
func WithWindow(d time.Duration) SignerOption {
	return func(s *Signer) {
		if d > 0 {
			s.window = d
		}
	}
}

// NewSigner constructs a Signer. nonces holds seen nonces for the length
// of the window; pass cache.Noop to disable replay tracking.
func NewSigner(secret string, nonces cache.Cache, opts ...SignerOption) *Signer {
	s := &Signer{
		secret: []byte(secret),
		window: defaultSignatureWindow,
		nonces: nonces,
		now:    time.Now,
	}
	if s.nonces == nil {
		s.nonces = cache.Noop{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate signs (credentialID, method, path, body) with a fresh
// timestamp and nonce.
func (s *Signer) Generate(credentialID, method, path string, body []byte) Signature {
	ts := s.now().UnixMilli()
	nonce := ids.NewSecret(8)
	return Signature{
		Timestamp: ts,
		Nonce:     nonce,
		Signature: s.compute(credentialID, method, path, ts, nonce, body),
	}
}

// Verify reports whether sig is authentic, within the window and not a
// replay. It returns false rather than an error on every failure mode.
func (s *Signer) Verify(ctx context.Context, credentialID, method, path string, sig Signature, body []byte) bool {
	if sig.Nonce == "" || sig.Signature == "" {
		return false
	}
	skew := s.now().UnixMilli() - sig.Timestamp
	if skew > s.window.Milliseconds() || -skew > s.window.Milliseconds() {
		return false
	}
	nonceKey := cache.Key("nonce", credentialID, sig.Nonce)
	if s.nonces.Has(ctx, nonceKey) {
		return false
	}
	expected := s.compute(credentialID, method, path, sig.Timestamp, sig.Nonce, body)
	ok := hmac.Equal([]byte(expected), []byte(sig.Signature))
	if ok {
		s.nonces.Set(ctx, nonceKey, []byte{1}, s.window)
	}
	return ok
}

func (s *Signer) compute(credentialID, method, path string, ts int64, nonce string, body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(credentialID + ":" + method + ":" + path + ":" + strconv.FormatInt(ts, 10) + ":" + nonce))
	if len(body) > 0 {
		mac.Write([]byte(":"))
		mac.Write(body)
	}
	return hex.EncodeToString(mac.Sum(nil))
}
