package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/chat-relay/backend/internal/config"
	"github.com/zhouzirui/chat-relay/backend/internal/handler"
	"github.com/zhouzirui/chat-relay/backend/internal/metrics"
	"github.com/zhouzirui/chat-relay/backend/internal/service/chat"
	"github.com/zhouzirui/chat-relay/backend/internal/service/session"
	"github.com/zhouzirui/chat-relay/backend/internal/service/webhook"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:          "chat-relay",
		Short:        "Session-aware chat relay in front of a webhook",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Load .env file
			if err := godotenv.Load(); err != nil {
				log.Warn().Err(err).Msg("failed to load .env file, continuing with system environment variables only")
			}

			v := config.NewViper(configFile)
			if err := v.BindPFlag("server.port", cmd.Flags().Lookup("port")); err != nil {
				return errors.Wrap(err, "bind port flag")
			}

			cfg, err := config.Load(v)
			if err != nil {
				log.Error().Err(err).Msg("failed to load configuration")
				return err
			}
			setupLogger(cfg.Log)

			return run(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "YAML config file (environment variables take precedence)")
	cmd.Flags().String("port", "", "listen port or host:port (overrides PORT)")
	return cmd
}

func setupLogger(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	store := session.NewStore(session.Config{
		Timeout:       cfg.Session.Timeout,
		SweepInterval: cfg.Session.SweepInterval,
		MaxPerOrigin:  cfg.Session.MaxPerOrigin,
		MaxMessages:   cfg.Session.MaxMessages,
	}, session.WithMetrics(m))
	m.TrackActiveSessions(store.CountActive)

	gateway := webhook.NewGateway(webhook.Config{
		URL:        cfg.Webhook.URL,
		Credential: credentialFor(cfg.Webhook),
		Timeout:    cfg.Webhook.Timeout,
	}, nil, m)

	pipeline := chat.NewPipeline(store, gateway, chat.Config{
		Mode:         chat.Mode(cfg.Session.Mode),
		ContextLimit: cfg.Session.ContextLimit,
		Debug:        cfg.Server.Debug(),
	})

	router := handler.NewRouter(pipeline, store, handler.Options{
		AllowedOrigin: cfg.CORS.AllowedOrigin,
		TrustProxy:    cfg.Server.TrustProxy,
		Debug:         cfg.Server.Debug(),
		Logger:        log.Logger,
		Metrics:       m,
		Gatherer:      reg,
	})

	log.Info().
		Str("webhook", cfg.Webhook.URL).
		Bool("credential", cfg.Webhook.Token != "" || cfg.Webhook.SigningSecret != "").
		Str("environment", cfg.Server.Environment).
		Str("session_mode", cfg.Session.Mode).
		Msg("chat relay configured")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return startServer(gctx, cfg.Server, router)
	})
	g.Go(func() error {
		return store.Run(gctx)
	})
	return g.Wait()
}

// credentialFor prefers a per-call signed token over the static bearer token.
func credentialFor(cfg config.WebhookConfig) webhook.Credential {
	if cfg.SigningSecret != "" {
		return webhook.SignedToken{Secret: []byte(cfg.SigningSecret)}
	}
	return webhook.StaticToken(cfg.Token)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("chat relay listening")
	if err := runServer(ctx, srv); err != nil {
		return errors.Wrap(err, "server error")
	}
	return nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
