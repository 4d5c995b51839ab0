package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vbonduro/spaform/internal/config"
	"github.com/vbonduro/spaform/internal/form"
	"github.com/vbonduro/spaform/internal/logging"
	"github.com/vbonduro/spaform/internal/objecturl"
	"github.com/vbonduro/spaform/internal/remote"
	"github.com/vbonduro/spaform/internal/remote/observability"
	"github.com/vbonduro/spaform/internal/telemetry"
	"github.com/vbonduro/spaform/internal/web"
	"github.com/vbonduro/spaform/internal/web/templates"
)

const serviceName = "spaform"

func main() {
	cfg, err := config.LoadFiles(".env")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, cleanup, err := logging.New(serviceName, cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inst, shutdownTelemetry, err := telemetry.Init(ctx, serviceName, cfg.TraceExporter, telemetry.WithLogger(logger))
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		return
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error("failed to flush telemetry", "error", err)
		}
	}()

	client, err := remote.NewClient(cfg.APIBaseURL, cfg.APICollection,
		remote.WithHTTPClient(&http.Client{Timeout: cfg.APITimeout}),
		remote.WithUserAgent(serviceName),
	)
	if err != nil {
		logger.Error("invalid API configuration", "error", err)
		return
	}
	resource := observability.New(client,
		observability.WithLogger(logger),
		observability.WithTracer(inst.Tracer(serviceName)),
		observability.WithMeter(inst.Meter(serviceName)),
	)

	urls := objecturl.NewRegistry(cfg.PublicURL)
	nav := form.NewQueryNavigator("/")
	ctrl := form.New(resource, urls,
		form.WithCapabilities(form.Capabilities{
			Update: cfg.SupportsUpdate,
			Patch:  cfg.SupportsPatch,
			Delete: cfg.SupportsDelete,
		}),
		form.WithNavigator(nav),
		form.WithLogger(logger),
	)
	defer ctrl.Close()

	server := web.NewServer(ctrl, urls, nav, templates.FS, logger, web.WithImageOrigin(apiOrigin(cfg.APIBaseURL)))
	srv := server.HTTPServer(cfg.ListenAddr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
	}()

	logger.Info("starting server", "addr", cfg.ListenAddr, "api", client.CollectionURL())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
	}
}

// apiOrigin reduces the API base URL to scheme and host; hosted images are
// served from the same origin.
func apiOrigin(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return base
	}
	return u.Scheme + "://" + u.Host
}
