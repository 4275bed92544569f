package httpapi

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"unmgate.org/internal/apikey"
	"unmgate.org/internal/monitor"
)

const (
	apiKeyHeader  = "X-API-Key"
	apiKeyQuery   = "api_key"
	timestampHdr  = "X-Timestamp"
	nonceHdr      = "X-Nonce"
	signatureHdr  = "X-Signature"
	maxSignedBody = 1 << 20
)

var publicPaths = []string{
	"/healthz",
	"/metrics",
	"/v1/info",
	"/",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// withAuth validates the presented API key, optionally verifies the
// request signature, and attaches the caller identity to the context.
// Anonymous requests pass through with the default role so the
// permission layer can still deny them per rule.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		presented := strings.TrimSpace(r.Header.Get(apiKeyHeader))
		if presented == "" {
			presented = strings.TrimSpace(r.URL.Query().Get(apiKeyQuery))
		}
		if presented == "" {
			anon := Identity{Role: a.opts.DefaultRole}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), anon)))
			return
		}

		cred, err := a.keys.Validate(r.Context(), presented, requestDomain(r))
		if err != nil {
			a.rejectKey(w, r, err)
			return
		}

		if a.opts.SignatureRequired {
			if !a.verifySignedRequest(r, cred.ID) {
				a.recordUnauthorized(r, map[string]any{
					"method":   r.Method,
					"keyId":    cred.ID,
					"clientId": cred.ClientID,
					"reason":   "invalid_signature",
				})
				writeError(w, r, http.StatusUnauthorized, "invalid request signature")
				return
			}
		}

		id := Identity{
			Authenticated: true,
			KeyID:         cred.ID,
			ClientID:      cred.ClientID,
			Level:         cred.Level,
			Role:          roleForLevel(cred.Level, a.opts.DefaultRole),
		}
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
	})
}

// rejectKey maps credential validation errors to responses and records
// the rejection as a security event.
func (a *API) rejectKey(w http.ResponseWriter, r *http.Request, err error) {
	var (
		code   = http.StatusUnauthorized
		msg    string
		reason string
	)
	switch {
	case errors.Is(err, apikey.ErrExpired):
		msg, reason = "api key expired", "expired_api_key"
	case errors.Is(err, apikey.ErrRevoked):
		msg, reason = "api key revoked", "revoked_api_key"
	case errors.Is(err, apikey.ErrDomainNotAllowed):
		code = http.StatusForbidden
		msg, reason = "domain not allowed", "domain_not_allowed"
	case errors.Is(err, apikey.ErrInvalidCredential):
		msg, reason = "invalid api key", "invalid_api_key"
	default:
		a.log.Error("credential validation failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "authentication error")
		return
	}

	a.recordUnauthorized(r, map[string]any{
		"method": r.Method,
		"reason": reason,
	})
	writeError(w, r, code, msg)
}

func (a *API) recordUnauthorized(r *http.Request, details map[string]any) {
	a.mon.LogEvent(r.Context(), monitor.EventRequest{
		Type:     monitor.EventUnauthorized,
		IP:       clientIP(r),
		Path:     r.URL.Path,
		Severity: monitor.SeverityMedium,
		Details:  details,
	})
}

// verifySignedRequest checks the X-Timestamp/X-Nonce/X-Signature headers
// against the request. The body is buffered and restored so handlers can
// still read it.
func (a *API) verifySignedRequest(r *http.Request, credentialID string) bool {
	ts, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(timestampHdr)), 10, 64)
	if err != nil {
		return false
	}
	sig := apikey.Signature{
		Timestamp: ts,
		Nonce:     strings.TrimSpace(r.Header.Get(nonceHdr)),
		Signature: strings.TrimSpace(r.Header.Get(signatureHdr)),
	}

	var body []byte
	if r.Method != http.MethodGet && r.Method != http.MethodHead && r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
		if err != nil {
			return false
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	return a.signer.Verify(r.Context(), credentialID, r.Method, r.URL.Path, sig, body)
}

// requestDomain derives the caller's domain from Origin, falling back to
// Referer. Unparseable values mean no domain restriction input.
func requestDomain(r *http.Request) string {
	for _, raw := range []string{r.Header.Get("Origin"), r.Header.Get("Referer")} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			continue
		}
		return u.Hostname()
	}
	return ""
}

// roleForLevel maps a credential level to its permission role.
func roleForLevel(level apikey.Level, fallback string) string {
	switch level {
	case apikey.LevelAdmin:
		return "admin"
	case apikey.LevelStandard:
		return "standard"
	case apikey.LevelRead:
		return "readonly"
	default:
		return fallback
	}
}
