package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/license-sync/internal/http/response"
	"github.com/magabrotheeeer/license-sync/internal/lib/sl"
)

// Key тип ключей контекста запроса.
type Key string

// BlogID ключ идентификатора блога в контексте.
const BlogID Key = "blog_id"

// Blogs перечисляет блоги хоста.
type Blogs interface {
	BlogIDs(ctx context.Context) ([]int64, error)
}

// BlogMiddleware разбирает {blogID} из пути и проверяет, что такой блог
// есть у хоста.
func BlogMiddleware(blogs Blogs, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := strconv.ParseInt(chi.URLParam(r, "blogID"), 10, 64)
			if err != nil || id <= 0 {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.Error("invalid blog id"))
				return
			}
			ids, err := blogs.BlogIDs(r.Context())
			if err != nil {
				log.Error("failed to list blogs", sl.Err(err))
				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, response.Error("internal error"))
				return
			}
			if !slices.Contains(ids, id) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, response.Error("blog not found"))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), BlogID, id)))
		})
	}
}

// BlogIDFrom возвращает блог, разобранный BlogMiddleware.
func BlogIDFrom(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(BlogID).(int64)
	return id, ok
}
