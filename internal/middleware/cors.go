package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

// CORS 根据 ALLOWED_ORIGIN 配置跨域策略。多个来源用逗号分隔，"*" 表示任意来源。
func CORS(allowedOrigin string) func(http.Handler) http.Handler {
	origins := []string{"*"}
	if trimmed := strings.TrimSpace(allowedOrigin); trimmed != "" && trimmed != "*" {
		origins = origins[:0]
		for _, origin := range strings.Split(trimmed, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Session-ID"},
		ExposedHeaders: []string{"X-Session-ID"},
		MaxAge:         300,
	})
}
