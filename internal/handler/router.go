package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/chat-relay/backend/internal/handler/chat"
	"github.com/zhouzirui/chat-relay/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/chat-relay/backend/internal/middleware"
	"github.com/zhouzirui/chat-relay/backend/internal/metrics"
	chatModel "github.com/zhouzirui/chat-relay/backend/internal/model/chat"
	chatService "github.com/zhouzirui/chat-relay/backend/internal/service/chat"
	"github.com/zhouzirui/chat-relay/backend/internal/service/session"
	"github.com/zhouzirui/chat-relay/backend/pkg/utils"
)

// MaxBodyBytes caps inbound request bodies.
const MaxBodyBytes = 1 << 20

// Options configures the HTTP surface.
type Options struct {
	AllowedOrigin string
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	TrustProxy bool
	Debug      bool
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
	// Gatherer backs GET /metrics; nil disables the route.
	Gatherer prometheus.Gatherer
}

// NewRouter wires HTTP routes to core services.
func NewRouter(pipeline *chatService.Pipeline, sessions *session.Store, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middlewarePkg.Logger(opts.Logger))
	r.Use(middlewarePkg.Recoverer(opts.Debug))
	r.Use(middlewarePkg.CORS(opts.AllowedOrigin))
	r.Use(middlewarePkg.Metrics(opts.Metrics))
	r.Use(middleware.RequestSize(MaxBodyBytes))

	r.NotFound(handleNotFound)
	r.MethodNotAllowed(handleNotFound)

	r.Get("/health", handleHealth(sessions))
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	chatHandler := chat.New(pipeline)
	wsHandler := ws.New(pipeline, opts.AllowedOrigin)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	})

	return r
}

func handleHealth(sessions *session.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":         "OK",
			"timestamp":      chatModel.FormatTimestamp(time.Now()),
			"activeSessions": sessions.CountActive(),
		})
	}
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	utils.RespondError(w, http.StatusNotFound, "Endpoint not found")
}
