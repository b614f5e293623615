package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/api"
	"github.com/npezzotti/go-chatrelay/internal/config"
	"github.com/npezzotti/go-chatrelay/internal/report"
	"github.com/npezzotti/go-chatrelay/internal/server"
	"github.com/npezzotti/go-chatrelay/internal/stats"
	"github.com/npezzotti/go-chatrelay/internal/verify"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	configPath     string
	staticDir      string
	allowedOrigins stringSliceFlag
	admins         stringSliceFlag
	trustedProxies stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:3000", "server address")
	flag.StringVar(&configPath, "config", "", "path to a YAML file with moderation settings")
	flag.StringVar(&staticDir, "static-dir", "", "directory of static files served at /")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Var(&admins, "admins", "comma-separated list of admin usernames")
	flag.Var(&trustedProxies, "trusted-proxies", "comma-separated proxy addresses or CIDRs whose X-Forwarded-For is honoured")
	flag.Parse()

	logger := log.New(os.Stderr, "[go-chatrelay] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	if configPath != "" {
		if err := cfg.LoadFile(configPath); err != nil {
			logger.Fatal("config:", err)
		}
	}

	if len(admins) > 0 {
		cfg.Admins = admins
	}
	if len(trustedProxies) > 0 {
		cfg.TrustedProxies = trustedProxies
	}
	cfg.StaticDir = staticDir

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	gate := verify.NewGate(cfg.Questions)
	reports := report.NewLog(logger)

	chatServer, err := server.NewChatServer(logger, cfg, gate, statsUpdater)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	srv := api.NewChatRelayApp(mux, logger, chatServer, gate, reports, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
