package middleware

import (
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"statarb/pkg/crypto"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BearerAuth - middleware проверки токена API
//
// Токен приходит в заголовке Authorization: Bearer <token> и сверяется
// с bcrypt-хешем из API_TOKEN_HASH. Пустой хеш выключает проверку
// (локальный запуск). Для браузерного WebSocket токен можно передать
// параметром ?token=, заголовок там выставить нельзя.
func BearerAuth(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tokenHash == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="statarb"`)
				respondError(w, http.StatusUnauthorized, "missing token")
				return
			}
			if err := crypto.VerifyToken(token, tokenHash); err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="statarb", error="invalid_token"`)
				respondError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("token")
}

func respondError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
