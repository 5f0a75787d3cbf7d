package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammed-shakir/sky-coverage/internal/cache/coveragestore"
	"github.com/mohammed-shakir/sky-coverage/internal/cache/redisstore"
	"github.com/mohammed-shakir/sky-coverage/internal/core/config"
	"github.com/mohammed-shakir/sky-coverage/internal/core/health"
	"github.com/mohammed-shakir/sky-coverage/internal/core/httpclient"
	"github.com/mohammed-shakir/sky-coverage/internal/core/router"
	"github.com/mohammed-shakir/sky-coverage/internal/core/server"
	"github.com/mohammed-shakir/sky-coverage/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/sky-coverage/internal/logger"
	"github.com/mohammed-shakir/sky-coverage/internal/metrics"
	"github.com/mohammed-shakir/sky-coverage/internal/provider"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "coverage-server",
		Component: "main",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	appLog.Info("starting coverage server",
		"addr", cfg.Addr,
		"version", Version,
		"mocserver", cfg.MocServerURL,
		"redis", cfg.Cache.RedisEnabled,
		"invalidation", cfg.Invalidation.Enabled)

	mp := metrics.Init(metrics.Config{
		Enabled: cfg.MetricsEnabled,
		Path:    cfg.MetricsPath,
		Build: metrics.BuildInfo{
			Version:  Version,
			Revision: os.Getenv("BUILD_REVISION"),
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := wire(ctx, cfg, appLog)
	defer a.close()
	if err != nil {
		appLog.Error("startup failed", "err", err)
		return 1
	}

	deps := server.Deps{
		Handlers: router.New(appLog, a.src, a.reg),
		Metrics:  mp,
		Ready:    a.ready,
	}
	if err := server.Run(ctx, cfg, appLog, deps); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

type app struct {
	src     *provider.Cached
	reg     *provider.Registry
	ready   health.Checks
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// wire builds the provider chain, the optional Redis tier and the optional
// invalidation consumer. The returned app is never nil so close is always
// safe to call.
func wire(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{}

	if cfg.DatasetsFile != "" {
		r, err := provider.LoadRegistry(cfg.DatasetsFile)
		if err != nil {
			return a, err
		}
		a.reg = r
		log.Info("dataset registry loaded", "path", cfg.DatasetsFile, "datasets", len(r.Names()))
	}

	var chain provider.First
	if cfg.MocDir != "" {
		d, err := provider.NewDir(cfg.MocDir, a.reg)
		if err != nil {
			return a, err
		}
		chain = append(chain, d)
	}
	if cfg.MocServerURL != "" {
		ms, err := provider.NewMocServer(log.With("component", "mocserver"), httpclient.NewOutbound(cfg.FetchTimeout), cfg.MocServerURL, a.reg)
		if err != nil {
			return a, err
		}
		ms.SetDefaultOrder(cfg.DefaultOrder)
		chain = append(chain, ms)
	}
	if len(chain) == 0 {
		return a, errors.New("no coverage source: set MOC_DIR or MOCSERVER_URL")
	}

	opts := []provider.CachedOption{provider.WithLogger(log.With("component", "cache"))}
	if cfg.Cache.RedisEnabled {
		rc, err := redisstore.New(ctx, cfg.RedisAddr)
		if err != nil {
			return a, fmt.Errorf("redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rc.Close() })
		opts = append(opts, provider.WithStore(coveragestore.NewRedisStore(rc, cfg.Cache.TTLFor, cfg.Cache.OpTimeout)))
		a.ready.Pingers = map[string]health.Pinger{"redis": rc}
	}
	var err error
	a.src, err = provider.NewCached(chain, cfg.Cache.Size, opts...)
	if err != nil {
		return a, err
	}

	if cfg.Invalidation.Enabled {
		cons := kafkaconsumer.New(kafkaconsumer.FromConfig(cfg.Invalidation), log.With("component", "kafka"), a.src)
		if err := cons.Start(ctx); err != nil {
			return a, fmt.Errorf("invalidation consumer: %w", err)
		}
		a.closers = append(a.closers, cons.Stop)
		a.ready.Consumer = cons
	}
	return a, nil
}
