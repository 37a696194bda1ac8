// histwind records time-windowed distributions and serves them to
// Prometheus and OpenTelemetry.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"golang.org/x/sync/errgroup"

	defaults "github.com/xtxerr/histwin/config"
	"github.com/xtxerr/histwin/internal/config"
	"github.com/xtxerr/histwin/internal/errors"
	otelexport "github.com/xtxerr/histwin/internal/export/otel"
	promexport "github.com/xtxerr/histwin/internal/export/prometheus"
	"github.com/xtxerr/histwin/internal/load"
	"github.com/xtxerr/histwin/internal/logging"
	"github.com/xtxerr/histwin/internal/meter"
	"github.com/xtxerr/histwin/internal/report"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "histwin.yaml", "config file path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	withLoad := flag.Bool("load", false, "enable the synthetic load generator")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*cfgPath)
	missing := false
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		cfg = config.DefaultConfig()
		missing = true
	case errors.IsValidation(err):
		logConfigErrors(*cfgPath, err)
		os.Exit(2)
	default:
		logging.Error("load config", "path", *cfgPath, "error", err)
		os.Exit(1)
	}

	// CLI overrides
	if *listen != "" {
		cfg.HTTP.Listen = *listen
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *withLoad {
		cfg.Load.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		logConfigErrors(*cfgPath, err)
		os.Exit(2)
	}

	level, _ := logging.ParseLevel(cfg.Logging.Level)
	logging.Init(level, cfg.Logging.Format == "json", os.Stderr)
	if missing {
		logging.Warn("config file not found, using defaults", "path", *cfgPath)
	}
	logging.Debug("effective config",
		"listen", cfg.HTTP.Listen,
		"namespace", cfg.Export.Namespace,
		"meters", len(cfg.Meters),
		"load", cfg.Load.Enabled,
		"otel", cfg.Export.OTel)

	log := logging.Component("main")
	log.Info("histwind starting", "version", Version, "config", *cfgPath)

	if err := run(cfg, log); err != nil {
		log.Error("exit", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	// =========================================================================
	// Meters
	// =========================================================================

	registry := meter.NewRegistry(nil, cfg.Defaults)
	if err := registry.RegisterAll(cfg.Meters); err != nil {
		return err
	}
	log.Info("meters registered", "count", registry.Len())

	// =========================================================================
	// Exporters
	// =========================================================================

	collector, err := promexport.NewCollector(registry, cfg.Export.Namespace)
	if err != nil {
		return err
	}
	promRegistry, err := promexport.NewRegistry(collector)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.HTTP.MetricsPath, promexport.Handler(promRegistry))

	if cfg.Export.OTel {
		reader := sdkmetric.NewManualReader()
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		defer func() {
			if err := provider.Shutdown(context.Background()); err != nil {
				log.Warn("otel provider shutdown", "error", err)
			}
		}()

		bridge, err := otelexport.NewExporter(provider.Meter(cfg.Export.OTelScope), registry, cfg.Export.Namespace)
		if err != nil {
			return err
		}
		defer bridge.Close()

		mux.Handle("/debug/otel", otelHandler(reader, log))
		log.Info("otel bridge enabled", "scope", cfg.Export.OTelScope)
	}

	// =========================================================================
	// Signal Handling and Run
	// =========================================================================

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.HTTP.Enabled {
		srv := &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           mux,
			ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		}

		g.Go(func() error {
			log.Info("listening", "addr", cfg.HTTP.Listen, "path", cfg.HTTP.MetricsPath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaults.DefaultShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Load.Enabled {
		gen := load.New(nil, cfg.Load, registry)
		g.Go(func() error {
			return gen.Run(ctx)
		})
	}

	if cfg.Summary.Interval > 0 {
		reporter := report.New(nil, registry, os.Stdout, cfg.Summary.Interval)
		g.Go(func() error {
			return reporter.Run(ctx)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logging.Info("shutting down")
		return nil
	})

	return g.Wait()
}

// logConfigErrors logs one entry per collected violation.
func logConfigErrors(path string, err error) {
	var verrs *errors.ValidationErrors
	if !errors.As(err, &verrs) {
		logging.Error("invalid config", "path", path, "error", err)
		return
	}
	for _, e := range verrs.Errors {
		logging.Error("invalid config", "path", path, "error", e)
	}
}

// otelHandler collects the manual reader on demand and writes the result as
// JSON, which is enough to inspect the bridge without an OTLP backend.
func otelHandler(reader *sdkmetric.ManualReader, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		var rm metricdata.ResourceMetrics
		if err := reader.Collect(ctx, &rm); err != nil {
			log.Warn("otel collect", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rm.ScopeMetrics); err != nil {
			log.Warn("encode otel metrics", "error", err)
		}
	})
}
