package middleware

import (
	"net/http"
	"runtime/debug"

	"statarb/pkg/utils"
)

// Recovery - middleware для восстановления после паники в handlers
//
// Перехватывает panic, логирует его со stack trace и отвечает 500.
// Паника в API не должна останавливать торговый цикл: он живёт в соседней горутине.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				utils.L().WithComponent("api").Error("panic in handler",
					utils.String("method", r.Method),
					utils.String("path", r.URL.Path),
					utils.Any("panic", rec),
					utils.String("stack", string(debug.Stack())),
				)
				respondError(w, http.StatusInternalServerError, "internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}
