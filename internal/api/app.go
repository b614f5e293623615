package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/netip"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-chatrelay/internal/config"
	"github.com/npezzotti/go-chatrelay/internal/report"
	"github.com/npezzotti/go-chatrelay/internal/server"
	"github.com/npezzotti/go-chatrelay/internal/stats"
	"github.com/npezzotti/go-chatrelay/internal/verify"
)

type ChatRelayApp struct {
	log            *log.Logger
	srv            *http.Server
	cs             *server.ChatServer
	gate           *verify.Gate
	reports        *report.Log
	stats          stats.StatsProvider
	allowedOrigins []string
	trustedProxies []netip.Prefix
	visitors       *visitorLimiter
}

func NewChatRelayApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, gate *verify.Gate, reports *report.Log, su stats.StatsProvider, cfg *config.Config) *ChatRelayApp {
	s := &ChatRelayApp{
		log:            logger,
		cs:             cs,
		gate:           gate,
		reports:        reports,
		stats:          su,
		allowedOrigins: cfg.AllowedOrigins,
		visitors:       newVisitorLimiter(cfg.HTTPRequests, cfg.HTTPWindow),
	}

	proxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		logger.Printf("ignoring trusted proxies: %v", err)
	}
	s.trustedProxies = proxies

	su.RegisterMetric(stats.Reports)

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("GET /favicon.ico", s.favicon)
	mux.HandleFunc("GET /api/verification-question", s.verificationQuestion)
	mux.HandleFunc("POST /api/verify", s.verifyUser)
	mux.HandleFunc("POST /api/report", s.submitReport)
	mux.HandleFunc("GET /ws", s.serveWs)

	if cfg.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
	)(mux)

	h = s.rateLimit(h)
	h = securityHeaders(h)
	h = handlers.CombinedLoggingHandler(logger.Writer(), h)
	h = s.forwardedFor(h)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *ChatRelayApp) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *ChatRelayApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
