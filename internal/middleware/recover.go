package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog/hlog"

	"github.com/zhouzirui/chat-relay/backend/pkg/utils"
)

// Recoverer turns a panic into a JSON 500. With showDetails the panic value
// is returned in the details field.
func Recoverer(showDetails bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				hlog.FromRequest(r).Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("handler panicked")

				if showDetails {
					utils.RespondError(w, http.StatusInternalServerError, "Internal server error", fmt.Sprint(rec))
					return
				}
				utils.RespondError(w, http.StatusInternalServerError, "Internal server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}
