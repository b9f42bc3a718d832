package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"statarb/pkg/crypto"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}

func TestBearerAuth(t *testing.T) {
	hash, err := crypto.HashToken("s3cret", 4)
	if err != nil {
		t.Fatalf("HashToken: %v", err)
	}
	handler := BearerAuth(hash)(okHandler())

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"valid header", "Bearer s3cret", "", http.StatusOK},
		{"lowercase scheme", "bearer s3cret", "", http.StatusOK},
		{"query token", "", "?token=s3cret", http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", "", http.StatusUnauthorized},
		{"basic scheme", "Basic s3cret", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/status"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("статус %d, ожидали %d", w.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Error("нет заголовка WWW-Authenticate")
			}
		})
	}
}

func TestBearerAuth_DisabledWithoutHash(t *testing.T) {
	handler := BearerAuth("")(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	if w.Code != http.StatusOK {
		t.Errorf("без хеша авторизация выключена, статус %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://ops.example.com"})(okHandler())

	tests := []struct {
		name       string
		origin     string
		wantOrigin string
	}{
		{"no origin", "", "*"},
		{"configured", "https://ops.example.com", "https://ops.example.com"},
		{"dev", "http://localhost:5173", "http://localhost:5173"},
		{"foreign", "http://evil.com", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin %q, ожидали %q", got, tt.wantOrigin)
			}
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	handler := CORS(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK || called {
		t.Errorf("preflight: статус %d, handler вызван=%v", w.Code, called)
	}
}

func TestCORS_AllowAll(t *testing.T) {
	handler := CORS([]string{"*"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://anything.example.org")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://anything.example.org" {
		t.Errorf("Allow-Origin %q", got)
	}
}

func TestRecovery(t *testing.T) {
	handler := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("статус %d, ожидали 500", w.Code)
	}
}

func TestLogging_KeepsStatus(t *testing.T) {
	handler := Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusTeapot {
		t.Errorf("статус %d", w.Code)
	}
}
