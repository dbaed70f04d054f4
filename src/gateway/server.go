package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/MohamedLahlami/SafeOps/src/broker"
	"github.com/MohamedLahlami/SafeOps/src/config"
	"github.com/MohamedLahlami/SafeOps/src/contracts"
	"github.com/MohamedLahlami/SafeOps/src/provider"
	"github.com/MohamedLahlami/SafeOps/src/signature"
	"github.com/MohamedLahlami/SafeOps/src/store"
)

// Server is the webhook ingestion HTTP server. It verifies signatures,
// enriches payloads through provider fetchers, persists an audit record and
// publishes to the raw-logs topic.
type Server struct {
	cfg       *config.Config
	verifier  *signature.Verifier
	registry  provider.Registry
	audit     store.AuditStore
	publisher broker.Publisher
	limiter   *ipRateLimiter
	log       *zap.Logger

	server *http.Server
}

// NewServer wires the ingestion pipeline together. All dependencies are
// required; pass the in-memory store and publisher in tests.
func NewServer(cfg *config.Config, verifier *signature.Verifier, registry provider.Registry,
	audit store.AuditStore, publisher broker.Publisher, log *zap.Logger) *Server {
	return &Server{
		cfg:       cfg,
		verifier:  verifier,
		registry:  registry,
		audit:     audit,
		publisher: publisher,
		limiter:   newIPRateLimiter(cfg.RateLimitWindow, cfg.RateLimitMax),
		log:       log,
	}
}

// Routes builds the HTTP handler. Exposed separately from Start so tests
// can drive it through httptest without binding a port.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Rate limiting covers ingestion only; probes stay unthrottled.
	r.Group(func(r chi.Router) {
		r.Use(s.limiter.middleware)
		r.Post("/webhook", s.handleWebhook(""))
		r.Post("/webhook/github", s.handleWebhook(contracts.ProviderGitHub))
		r.Post("/webhook/gitlab", s.handleWebhook(contracts.ProviderGitLab))
		r.Post("/webhook/test", s.handleTestWebhook)
	})

	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)
	r.Get("/stats", s.handleStats)

	return r
}

// Start runs the server until ctx is cancelled, then drains in-flight
// requests before returning.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	s.log.Info("gateway listening",
		zap.Int("port", s.cfg.Port),
		zap.String("environment", s.cfg.Environment),
		zap.Bool("strict_signatures", s.cfg.StrictSignatures))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("gateway shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("gateway serve: %w", err)
	}
}

// loggingMiddleware logs one line per request. Bodies are never logged;
// they may carry tokens or repository secrets.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("remote_addr", r.RemoteAddr))
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
