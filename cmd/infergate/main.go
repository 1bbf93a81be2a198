package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jotalabs/infergate/internal/auth"
	"github.com/jotalabs/infergate/internal/config"
	"github.com/jotalabs/infergate/internal/engine"
	"github.com/jotalabs/infergate/internal/gateway"
	"github.com/jotalabs/infergate/internal/logx"
	"github.com/jotalabs/infergate/internal/metrics"
	"github.com/jotalabs/infergate/internal/scheduler"
	"github.com/jotalabs/infergate/internal/server"
	"github.com/jotalabs/infergate/internal/session"
	"github.com/jotalabs/infergate/internal/telemetry"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	var cfg config.ServerConfig
	cfg.BindFlags()
	flag.Parse()
	logx.Configure(cfg.LogLevel)

	store, err := buildStore(cfg)
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("credential store")
	}

	metrics.Register(prometheus.DefaultRegisterer)
	metrics.SetBuildInfo(version, buildSHA, buildDate)

	eng := engine.NewSim(cfg.EngineStepDelay, 0)
	sched := scheduler.New(eng, cfg.EngineQueue)
	sched.Start()
	defer sched.Stop()

	sampler := telemetry.NewHostSampler(&telemetry.StaticGPU{MaxTempSafe: 90})
	gw := gateway.NewServer(auth.NewAuthenticator(store), session.NewRegistry(), sched, sampler, cfg.MetricsInterval)
	handler := server.New(gw, cfg)
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: handler}

	var metricsSrv *http.Server
	if cfg.MetricsPort != cfg.Port {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: mux}
		go func() {
			logx.Log.Info().Int("port", cfg.MetricsPort).Msg("metrics listener starting")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logx.Log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(context.Background())
		}
		_ = srv.Shutdown(context.Background())
	}()

	logx.Log.Info().Int("port", cfg.Port).Str("ws_path", cfg.WSPath).Str("version", version).Msg("gateway starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logx.Log.Fatal().Err(err).Msg("server error")
	}
}

// buildStore assembles the credential store: Redis when configured,
// otherwise the YAML credentials file, both behind the validation cache.
func buildStore(cfg config.ServerConfig) (auth.Store, error) {
	var inner auth.Store
	if cfg.RedisURL != "" {
		rs, err := auth.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		logx.Log.Info().Str("redis_url", cfg.RedisURL).Msg("using redis credential store")
		inner = rs
	} else {
		fs, err := auth.LoadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		logx.Log.Info().Str("file", cfg.CredentialsFile).Int("clients", fs.Len()).Msg("loaded credentials file")
		inner = fs
	}
	return auth.NewCachedStore(inner, cfg.AuthCacheTTL), nil
}
