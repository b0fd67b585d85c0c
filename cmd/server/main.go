package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	locsync "github.com/locsync/locsync"
)

func main() {
	cfg := locsync.DefaultConfig()

	port := flag.Int("port", envInt("PORT", cfg.HTTP.Port), "HTTP listen port")
	spaceID := flag.String("space", os.Getenv("CMS_SPACE_ID"), "CMS space id")
	environmentID := flag.String("environment", envOr("CMS_ENVIRONMENT_ID", cfg.CMS.EnvironmentID), "CMS environment id")
	cmsBaseURL := flag.String("cms-url", envOr("CMS_BASE_URL", cfg.CMS.BaseURL), "CMS management API base URL")
	translatorBaseURL := flag.String("translator-url", envOr("TRANSLATOR_BASE_URL", cfg.Translator.BaseURL), "translation API base URL")
	trackingProvider := flag.String("tracking", envOr("TRACKING_PROVIDER", cfg.Tracking.Provider), "tracking provider: file, sqlite, or postgres")
	trackingDir := flag.String("tracking-dir", envOr("TRACKING_DIR", cfg.Tracking.Dir), "tracking directory for the file provider")
	trackingDSN := flag.String("tracking-dsn", os.Getenv("TRACKING_DSN"), "tracking DSN for the sqlite/postgres providers")
	maxDepth := flag.Int("max-depth", envInt("TRACKING_MAX_DEPTH", cfg.Tracking.MaxDepth), "deep reference scan depth")
	logLevel := flag.String("log-level", envOr("LOG_LEVEL", cfg.Logging.Level), "log level")
	logProvider := flag.String("log-provider", envOr("LOG_PROVIDER", cfg.Logging.Provider), "log provider: console, gologger, or noop")
	flag.Parse()

	cfg.HTTP.Port = *port
	cfg.CMS.SpaceID = *spaceID
	cfg.CMS.EnvironmentID = *environmentID
	cfg.CMS.BaseURL = *cmsBaseURL
	cfg.CMS.ManagementToken = os.Getenv("CMS_MANAGEMENT_TOKEN")
	cfg.Translator.BaseURL = *translatorBaseURL
	cfg.Translator.APIKey = os.Getenv("TRANSLATOR_API_KEY")
	cfg.Tracking.Provider = *trackingProvider
	cfg.Tracking.Dir = *trackingDir
	cfg.Tracking.DSN = *trackingDSN
	cfg.Tracking.MaxDepth = *maxDepth
	cfg.Logging.Level = *logLevel
	cfg.Logging.Provider = *logProvider

	if err := cfg.ValidateCredentials(); err != nil {
		log.Fatalf("configuration: %v", err)
	}

	module, err := locsync.New(cfg)
	if err != nil {
		log.Fatalf("wiring: %v", err)
	}
	defer module.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := module.Setup(ctx); err != nil {
		log.Fatalf("storage setup: %v", err)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           module.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
