package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInstrumentPassesThrough(t *testing.T) {
	Init()

	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	Init() // must not panic on duplicate registration
}
