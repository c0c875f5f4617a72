package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func localeProbe(t *testing.T, mw func(http.Handler) http.Handler, decorate func(*http.Request)) string {
	t.Helper()
	var got string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = LocaleFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if decorate != nil {
		decorate(req)
	}
	handler.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestI18NHeaderOverride(t *testing.T) {
	mw := I18N("en", nil)
	got := localeProbe(t, mw, func(r *http.Request) {
		r.Header.Set("X-Locale", "id-ID")
	})
	if got != "id" {
		t.Fatalf("locale = %q, want %q", got, "id")
	}
}

func TestI18NAcceptLanguage(t *testing.T) {
	mw := I18N("en", nil)
	got := localeProbe(t, mw, func(r *http.Request) {
		r.Header.Set("Accept-Language", "id, en;q=0.8")
	})
	if got != "id" {
		t.Fatalf("locale = %q, want %q", got, "id")
	}

	got = localeProbe(t, mw, func(r *http.Request) {
		r.Header.Set("Accept-Language", "fr-FR, de;q=0.7")
	})
	if got != "en" {
		t.Fatalf("unsupported language locale = %q, want fallback %q", got, "en")
	}
}

func TestI18NCountryHint(t *testing.T) {
	mw := I18N("en", nil)
	got := localeProbe(t, mw, func(r *http.Request) {
		r.Header.Set("CF-IPCountry", "id")
	})
	if got != "id" {
		t.Fatalf("locale = %q, want %q from country hint", got, "id")
	}
}

func TestI18NGeoLookupFallback(t *testing.T) {
	lookup := func(ip string) (string, error) { return "ID", nil }
	mw := I18N("en", lookup)
	got := localeProbe(t, mw, func(r *http.Request) {
		r.RemoteAddr = "203.0.113.10:4321"
	})
	if got != "id" {
		t.Fatalf("locale = %q, want %q from geo lookup", got, "id")
	}
}

func TestRateLimitRejectsBeyondLimit(t *testing.T) {
	mw := RateLimit(2, time.Minute)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var codes []int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.7:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("first two codes = %v, want 200s", codes[:2])
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("third code = %d, want 429", codes[2])
	}
}

func TestRateLimitSeparatesClients(t *testing.T) {
	mw := RateLimit(1, time.Minute)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, addr := range []string{"198.51.100.7:1", "198.51.100.8:1"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code for %s = %d, want 200", addr, rec.Code)
		}
	}
}
