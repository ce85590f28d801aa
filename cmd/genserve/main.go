package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/gaspardpetit/genserve/internal/api"
	"github.com/gaspardpetit/genserve/internal/config"
	"github.com/gaspardpetit/genserve/internal/generate"
	"github.com/gaspardpetit/genserve/internal/inflight"
	"github.com/gaspardpetit/genserve/internal/logx"
	"github.com/gaspardpetit/genserve/internal/metrics"
	"github.com/gaspardpetit/genserve/internal/model"
	"github.com/gaspardpetit/genserve/internal/server"
	"github.com/gaspardpetit/genserve/internal/serverstate"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")

	// Resolve config with precedence: defaults < file < .env < env < args
	var cfg config.ServerConfig
	cfg.SetDefaults()
	if loaded, err := config.LoadEnvFiles(".env"); err != nil {
		logx.Log.Fatal().Err(err).Msg("load .env")
	} else if len(loaded) > 0 {
		logx.Log.Debug().Strs("files", loaded).Msg("loaded env files")
	}
	cfg.ApplyEnv() // allows CONFIG_FILE from env
	if path, ok := config.ConfigFileArg(os.Args[1:]); ok {
		cfg.ConfigFile = path
	}
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	cfg.ApplyEnv()
	cfg.BindFlagsFromCurrent()
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "genserve version=%s sha=%s date=%s\n\n", version, buildSHA, buildDate)
		flag.PrintDefaults()
	}
	flag.Parse()
	if *showVersion {
		fmt.Printf("genserve version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}

	logx.Configure(cfg.LogLevel)

	var store serverstate.Store
	if cfg.RedisAddr != "" {
		rs, err := serverstate.NewRedisStore(context.Background(), cfg.RedisAddr, cfg.InstanceID)
		if err != nil {
			logx.Log.Fatal().Err(err).Msg("connect redis")
		}
		defer func() { _ = rs.Close() }()
		store = rs
		logx.Log.Info().Str("key", rs.Key()).Msg("using redis state store")
	}
	tracker := serverstate.NewTracker(store)
	tracker.Reset(context.Background())

	m, err := model.Load(cfg.ModelPath)
	if err != nil {
		logx.Log.Fatal().Err(err).Str("path", cfg.ModelPath).Msg("load model")
	}
	defer func() {
		if err := m.Close(); err != nil {
			logx.Log.Warn().Err(err).Msg("close model")
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)
	metrics.SetBuildInfo(version, buildSHA, buildDate)

	svc := generate.NewService(m, generate.Options{MaxConcurrency: cfg.MaxConcurrency, Timeout: cfg.RequestTimeout})
	var counter inflight.Counter
	handler := server.New(cfg, server.Deps{
		Service:  svc,
		Tracker:  tracker,
		Inflight: &counter,
		Registry: reg,
		Build:    api.BuildInfo{Version: version, BuildSHA: buildSHA, BuildDate: buildDate},
	})
	srv := &http.Server{Addr: cfg.Addr(), Handler: handler}
	var metricsSrv *http.Server
	if !cfg.SharedMetrics() {
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: server.MetricsHandler(reg)}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go server.ShutdownOnSignals(ctx, cancel, sigCh, tracker, &counter, cfg.DrainTimeout)
	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(context.Background()); err != nil {
			logx.Log.Error().Err(err).Msg("server shutdown")
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(context.Background()); err != nil {
				logx.Log.Error().Err(err).Msg("metrics server shutdown")
			}
		}
	}()

	if metricsSrv != nil {
		go func() {
			logx.Log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server starting")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logx.Log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}
	tracker.SetStatus(ctx, serverstate.StatusReady)
	logx.Log.Info().Str("addr", cfg.Addr()).Str("model", m.Name()).Str("backend", m.Backend()).Int("max_concurrency", cfg.MaxConcurrency).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logx.Log.Fatal().Err(err).Msg("server error")
	}
	<-ctx.Done()
	logx.Log.Info().Msg("server stopped")
}
