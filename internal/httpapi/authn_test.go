package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"unmgate.org/internal/apikey"
)

func TestDomainEnforcedFromOrigin(t *testing.T) {
	api, h := newTestAPI(t, nil)

	resp, err := api.keys.Create(context.Background(), apikey.CreateRequest{
		Name:     "scoped",
		ClientID: "acme",
		Domain:   "acme.example.com",
		Level:    apikey.LevelAdmin,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/keys?client_id=acme", nil)
	req.Header.Set("X-API-Key", resp.Key)
	req.Header.Set("Origin", "https://acme.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("matching origin status = %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/admin/keys?client_id=acme", nil)
	req.Header.Set("X-API-Key", resp.Key)
	req.Header.Set("Origin", "https://evil.example.net")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("mismatched origin status = %d, want 403", rec.Code)
	}
}

func TestKeyAcceptedFromQueryParameter(t *testing.T) {
	_, h := newTestAPI(t, nil)
	rec := doJSON(t, h, http.MethodGet, "/v1/admin/keys?client_id=test-ops&api_key="+testAdminKey, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSignatureRequiredFlow(t *testing.T) {
	api, h := newTestAPI(t, func(o *Options) { o.SignatureRequired = true })

	target := "/v1/admin/keys?client_id=test-ops"

	// No signature headers at all.
	rec := doJSON(t, h, http.MethodGet, target, testAdminKey, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned status = %d, want 401", rec.Code)
	}

	sig := api.signer.Generate("admintest", http.MethodGet, "/v1/admin/keys", nil)
	signed := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.Header.Set("X-API-Key", testAdminKey)
		req.Header.Set("X-Timestamp", strconv.FormatInt(sig.Timestamp, 10))
		req.Header.Set("X-Nonce", sig.Nonce)
		req.Header.Set("X-Signature", sig.Signature)
		return req
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signed())
	if rec.Code != http.StatusOK {
		t.Fatalf("signed status = %d: %s", rec.Code, rec.Body.String())
	}

	// Same nonce again is a replay.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, signed())
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replayed status = %d, want 401", rec.Code)
	}

	// Fresh signature over a different path does not transfer.
	other := api.signer.Generate("admintest", http.MethodGet, "/v1/other", nil)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("X-API-Key", testAdminKey)
	req.Header.Set("X-Timestamp", strconv.FormatInt(other.Timestamp, 10))
	req.Header.Set("X-Nonce", other.Nonce)
	req.Header.Set("X-Signature", other.Signature)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("cross-path status = %d, want 401", rec.Code)
	}
}

func TestRequestDomain(t *testing.T) {
	cases := []struct {
		name    string
		origin  string
		referer string
		want    string
	}{
		{"origin wins", "https://a.example.com", "https://b.example.com/page", "a.example.com"},
		{"referer fallback", "", "https://b.example.com/page", "b.example.com"},
		{"port stripped", "https://a.example.com:8443", "", "a.example.com"},
		{"none", "", "", ""},
		{"garbage origin falls back", "::notaurl::", "https://b.example.com", "b.example.com"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if tc.referer != "" {
				req.Header.Set("Referer", tc.referer)
			}
			if got := requestDomain(req); got != tc.want {
				t.Fatalf("requestDomain = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRoleForLevel(t *testing.T) {
	cases := []struct {
		level apikey.Level
		want  string
	}{
		{apikey.LevelAdmin, "admin"},
		{apikey.LevelStandard, "standard"},
		{apikey.LevelRead, "readonly"},
		{apikey.Level("weird"), "guest"},
	}
	for _, tc := range cases {
		if got := roleForLevel(tc.level, "guest"); got != tc.want {
			t.Fatalf("roleForLevel(%q) = %q, want %q", tc.level, got, tc.want)
		}
	}
}
