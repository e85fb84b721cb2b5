package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/jaydeelew/callgate/internal/config"
	"github.com/jaydeelew/callgate/internal/infra/caller"
	"github.com/jaydeelew/callgate/internal/infra/ops"
	"github.com/jaydeelew/callgate/internal/infra/prober"
	"github.com/jaydeelew/callgate/internal/observability/logging"
	pkgconfig "github.com/jaydeelew/callgate/pkg/config"
	"github.com/jaydeelew/callgate/pkg/providerlimit"
)

func main() {
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	daemonConfig, err := config.LoadGatedConfig()
	if err != nil {
		logger.Error("failed to load daemon configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("daemon configuration loaded",
		slog.String("ops_addr", daemonConfig.OpsAddr),
		slog.Any("callers", daemonConfig.Callers),
		slog.Bool("probe_enabled", daemonConfig.Probe.Enabled),
		slog.Duration("shutdown_timeout", daemonConfig.ShutdownTimeout))

	gate, gateMetrics := initGate(logger)
	defer func() {
		if err := gate.Close(); err != nil {
			logger.Error("failed to close admission gate", slog.Any("error", err))
		}
	}()

	callers := initCallers(logger, daemonConfig, gate)

	probe, scheduler := startProber(ctx, logger, daemonConfig, callers)
	if scheduler != nil {
		defer stopScheduler(logger, scheduler, daemonConfig.ShutdownTimeout)
	}

	// Merge the gate's own registry with the default one so the callers'
	// promauto collectors and the gate collectors share /metrics.
	gatherer := prometheus.Gatherers{prometheus.DefaultGatherer, gateMetrics.Registry()}

	var probeWindow ops.ProbeWindow
	if probe != nil {
		probeWindow = probe
	}
	opsServer := ops.NewServer(daemonConfig.OpsAddr, gate, probeWindow, gatherer, logger)
	go func() {
		if err := opsServer.Start(ctx); err != nil && err != http.ErrServerClosed {
			logger.Error("ops server failed", slog.Any("error", err))
		}
	}()

	opsServer.SetReady(true)
	logger.Info("gate daemon started",
		slog.String("mode", gate.Mode()),
		slog.Int("callers", len(callers)))

	<-ctx.Done()
	logger.Info("shutdown signal received")
}

// initGate builds the admission gate from the CALLGATE_* environment and
// wires it to a dedicated Prometheus registry.
func initGate(logger *slog.Logger) (*providerlimit.Facade, *providerlimit.PrometheusMetrics) {
	limiterConfig, err := pkgconfig.LoadLimiterConfig()
	if err != nil {
		logger.Error("failed to load limiter configuration", slog.Any("error", err))
		os.Exit(1)
	}

	gateMetrics := providerlimit.NewPrometheusMetrics()
	gate, err := providerlimit.New(limiterConfig,
		providerlimit.WithLogger(logger),
		providerlimit.WithMetrics(gateMetrics),
	)
	if err != nil {
		logger.Error("failed to construct admission gate", slog.Any("error", err))
		os.Exit(1)
	}

	return gate, gateMetrics
}

// initCallers constructs one gated caller per configured provider name.
// Missing API keys are fatal: a caller the daemon was told to run but
// cannot authenticate is a deployment mistake, not a runtime condition.
func initCallers(logger *slog.Logger, cfg *config.GatedConfig, gate *providerlimit.Facade) map[string]caller.Caller {
	callers := make(map[string]caller.Caller, len(cfg.Callers))

	for _, name := range cfg.Callers {
		switch name {
		case "anthropic":
			apiKey := os.Getenv("ANTHROPIC_API_KEY")
			if apiKey == "" {
				logger.Error("ANTHROPIC_API_KEY is required when GATED_CALLERS includes anthropic")
				os.Exit(1)
			}
			callers[name] = caller.NewAnthropic(apiKey, gate)
		case "openai":
			apiKey := os.Getenv("OPENAI_API_KEY")
			if apiKey == "" {
				logger.Error("OPENAI_API_KEY is required when GATED_CALLERS includes openai")
				os.Exit(1)
			}
			openaiConfig, err := caller.LoadOpenAIConfig()
			if err != nil {
				logger.Error("failed to load OpenAI configuration", slog.Any("error", err))
				os.Exit(1)
			}
			callers[name] = caller.NewOpenAI(apiKey, openaiConfig, gate)
		case "noop":
			callers[name] = caller.NewNoOp("noop", gate)
		default:
			// Validate() already rejected unknown names.
			logger.Error("unknown caller", slog.String("name", name))
			os.Exit(1)
		}
		logger.Info("caller initialized", slog.String("provider", name))
	}

	return callers
}

// startProber wires the connectivity prober onto a cron scheduler when the
// probe is enabled. Returns nils when disabled.
func startProber(ctx context.Context, logger *slog.Logger, cfg *config.GatedConfig, callers map[string]caller.Caller) (*prober.Prober, *cron.Cron) {
	if !cfg.Probe.Enabled {
		logger.Info("connectivity probe disabled")
		return nil, nil
	}

	probeMetrics := prober.NewProbeMetrics()
	probeMetrics.MustRegister()

	proberConfig, err := prober.LoadConfigFromEnv(logger, probeMetrics)
	if err != nil {
		logger.Error("failed to load prober configuration", slog.Any("error", err))
		os.Exit(1)
	}

	targets := make([]caller.Caller, 0, len(cfg.Probe.Providers))
	for _, name := range cfg.Probe.Providers {
		targets = append(targets, callers[name])
	}

	probe := prober.New(targets, proberConfig, probeMetrics, logger)

	loc, err := time.LoadLocation(proberConfig.Timezone)
	if err != nil {
		logger.Error("invalid probe timezone, using UTC",
			slog.String("timezone", proberConfig.Timezone),
			slog.Any("error", err))
		loc = time.UTC
	}

	// One run probes every target sequentially; the per-call timeout is
	// applied inside the prober, so the run budget is the sum. Deriving
	// from the signal context lets shutdown interrupt a run in progress.
	runBudget := proberConfig.CallTimeout * time.Duration(len(targets))

	scheduler := cron.New(cron.WithLocation(loc))
	_, err = scheduler.AddFunc(proberConfig.Schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, runBudget)
		defer cancel()
		probe.RunOnce(runCtx)
	})
	if err != nil {
		logger.Error("failed to schedule probe", slog.Any("error", err))
		os.Exit(1)
	}
	scheduler.Start()

	logger.Info("connectivity probe scheduled",
		slog.String("schedule", proberConfig.Schedule),
		slog.String("timezone", proberConfig.Timezone),
		slog.Any("providers", cfg.Probe.Providers))

	return probe, scheduler
}

// stopScheduler stops the cron scheduler and waits for a running probe to
// finish, bounded by the shutdown timeout.
func stopScheduler(logger *slog.Logger, scheduler *cron.Cron, timeout time.Duration) {
	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
		logger.Info("probe scheduler stopped")
	case <-time.After(timeout):
		logger.Warn("probe scheduler did not stop in time", slog.Duration("timeout", timeout))
	}
}
