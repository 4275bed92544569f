package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"unmgate.org/internal/apikey"
	"unmgate.org/internal/monitor"
	"unmgate.org/internal/obs"
	"unmgate.org/internal/permission"
)

// Options configures the boundary layer.
type Options struct {
	Version            string
	SignatureRequired  bool
	DefaultRole        string
	RateLimitPerSecond int
	RateLimitBurst     int
	MaxBodyBytes       int64
}

// API is the HTTP layer over the credential, permission and monitor
// services.
type API struct {
	mux    *http.ServeMux
	keys   *apikey.Service
	signer *apikey.Signer
	roles  *permission.RoleService
	eval   *permission.Evaluator
	mon    *monitor.Monitor
	opts   Options
	log    *zap.Logger
}

func New(keys *apikey.Service, signer *apikey.Signer, roles *permission.RoleService,
	eval *permission.Evaluator, mon *monitor.Monitor, opts Options, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.DefaultRole == "" {
		opts.DefaultRole = "guest"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	a := &API{
		mux:    http.NewServeMux(),
		keys:   keys,
		signer: signer,
		roles:  roles,
		eval:   eval,
		mon:    mon,
		opts:   opts,
		log:    log,
	}

	// health/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// credential administration
	a.mux.HandleFunc("/v1/admin/keys", a.guard(permission.ResourceAPIKey, a.handleKeysCollection))
	a.mux.HandleFunc("/v1/admin/keys/", a.guard(permission.ResourceAPIKey, a.handleKeyResource))

	// role administration and ad-hoc permission checks
	a.mux.HandleFunc("/v1/admin/roles", a.guard(permission.ResourceSystem, a.handleRolesCollection))
	a.mux.HandleFunc("/v1/admin/roles/", a.guard(permission.ResourceSystem, a.handleRoleResource))
	a.mux.HandleFunc("/v1/admin/permissions/check", a.guard(permission.ResourceSystem, a.handlePermissionCheck))

	// security monitor
	a.mux.HandleFunc("/v1/admin/security/events", a.guard(permission.ResourceMonitor, a.handleEvents))
	a.mux.HandleFunc("/v1/admin/security/stats", a.guard(permission.ResourceMonitor, a.handleStats))
	a.mux.HandleFunc("/v1/admin/security/anomalies", a.guard(permission.ResourceMonitor, a.handleAnomalies))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withAuth(h)
	h = RateLimit(h, a.opts.RateLimitPerSecond, a.opts.RateLimitBurst, a.mon)
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = SecurityHeaders(h)
	h = Logging(h, a.log)
	h = RequestID(h)
	return obs.Instrument(h)
}

// guard wraps h with a role-based permission check for resource. The
// role comes from the caller identity the auth middleware attached.
func (a *API) guard(resource string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok || !id.Authenticated {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		decision, err := a.eval.CheckHTTP(r.Context(), id.Role, r.Method, r.URL.Path, resource,
			map[string]any{"clientId": id.ClientID, "keyId": id.KeyID})
		if err != nil {
			a.log.Error("permission check failed", zap.Error(err), zap.String("role", id.Role))
			writeError(w, r, http.StatusInternalServerError, "permission check failed")
			return
		}
		if !decision.Allowed {
			a.mon.LogEvent(r.Context(), monitor.EventRequest{
				Type:     monitor.EventUnauthorized,
				IP:       clientIP(r),
				Path:     r.URL.Path,
				Severity: monitor.SeverityMedium,
				Details: map[string]any{
					"method":   r.Method,
					"roleId":   id.Role,
					"resource": resource,
					"reason":   decision.Reason,
				},
			})
			writeError(w, r, http.StatusForbidden, "permission denied")
			return
		}
		h(w, r)
	}
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "unmgate",
		"version": a.opts.Version,
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "unmgate",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
