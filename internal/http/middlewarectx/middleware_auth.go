// Package middlewarectx содержит HTTP middleware админского API: проверку
// токена администратора, ограничение частоты запросов и разбор блога из URL.
package middlewarectx

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/license-sync/internal/http/response"
	"github.com/magabrotheeeer/license-sync/internal/lib/password"
	"github.com/magabrotheeeer/license-sync/internal/lib/sl"
)

// AdminTokenMiddleware пропускает запрос, только если токен из заголовка
// Authorization совпадает с bcrypt хешем из конфигурации.
func AdminTokenMiddleware(tokenHash string, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.AdminToken"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				log.Error("missing or invalid authorization header")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("missing or invalid authorization header"))
				return
			}

			if err := password.Verify(tokenHash, strings.TrimPrefix(authHeader, "Bearer ")); err != nil {
				log.Error("invalid admin token", sl.Err(err))
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("invalid admin token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
