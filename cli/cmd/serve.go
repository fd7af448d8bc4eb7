package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/colony/adapter"
	"github.com/pithecene-io/colony/adapter/redis"
	"github.com/pithecene-io/colony/adapter/webhook"
	"github.com/pithecene-io/colony/cli/config"
	"github.com/pithecene-io/colony/iox"
	"github.com/pithecene-io/colony/log"
	"github.com/pithecene-io/colony/metrics"
	"github.com/pithecene-io/colony/runtime"
	"github.com/pithecene-io/colony/types"
)

// Exit codes for serve.
const (
	exitFailure     = 1
	exitBindFailure = 2
	exitConfigError = 3
)

// Adapter types accepted in the config file.
const (
	adapterWebhook = "webhook"
	adapterRedis   = "redis"
)

// defaultAdapterRetries applies when the config file does not set retries.
const defaultAdapterRetries = 3

// metricsShutdownTimeout bounds the metrics server drain on exit.
const metricsShutdownTimeout = 5 * time.Second

// ServeCommand returns the serve command.
// This is the only long-running command: it owns the UDP socket until
// SIGINT or SIGTERM, and flushes every session on SIGUSR1.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Receive telemetry, reconstruct time and store chunks",
		Flags: append(StoreFlags(),
			&cli.StringFlag{
				Name:  "listen",
				Usage: "UDP listen address",
				Value: runtime.DefaultListenAddr,
			},
			&cli.StringFlag{
				Name:  "profile",
				Usage: "Counter profile: pico16 or pico24",
				Value: types.ProfilePico16.Name,
			},
			&cli.DurationFlag{
				Name:  "chunk-timeout",
				Usage: "Idle time after which an agent's session is flushed",
				Value: runtime.DefaultChunkTimeout,
			},
			&cli.DurationFlag{
				Name:  "socket-timeout",
				Usage: "Socket read deadline between timeout sweeps",
				Value: runtime.DefaultSocketTimeout,
			},
			&cli.IntFlag{
				Name:  "buffer-size",
				Usage: "Receive buffer size in bytes",
				Value: runtime.DefaultBufferSize,
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address (disabled when empty)",
			},
		),
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	file, err := loadFileConfig(c.String(ConfigFlag.Name))
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	rc, err := runtimeConfig(c, file)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid config: %v", err), exitConfigError)
	}

	meta := &types.SessionMeta{
		SessionID:  newSessionID(),
		ListenAddr: rc.ListenAddr,
		StartedAt:  time.Now(),
	}
	logger := log.NewLogger(meta)
	defer iox.DiscardErr(logger.Sync)

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	store, err := openStore(ctx, c, file, logger)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	collector := metrics.NewCollector(rc.Profile.Name, store.Backend(), meta.SessionID)
	metricsAddr := file.MetricsAddr
	if c.IsSet("metrics-addr") {
		metricsAddr = c.String("metrics-addr")
	}
	if metricsAddr != "" {
		stop, err := startMetricsServer(ctx, metricsAddr, collector, logger)
		if err != nil {
			return cli.Exit(err.Error(), exitBindFailure)
		}
		defer stop()
	}

	notifier, err := buildAdapter(file.Adapter)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid adapter config: %v", err), exitConfigError)
	}
	if notifier != nil {
		defer iox.DiscardClose(notifier)
	}

	svc, err := runtime.NewService(rc, runtime.Options{
		Sink:           store,
		StorageBackend: store.Backend(),
		Adapter:        notifier,
		Logger:         logger,
		Collector:      collector,
		Meta:           meta,
	})
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	stopFlush := notifyFlush(ctx, svc.Trigger)
	defer stopFlush()

	if err := svc.Run(ctx); err != nil {
		if runtime.IsBindError(err) {
			return cli.Exit(err.Error(), exitBindFailure)
		}
		return cli.Exit(err.Error(), exitFailure)
	}
	return nil
}

// runtimeConfig layers explicit flags over the config file over defaults.
func runtimeConfig(c *cli.Context, file *config.Config) (runtime.Config, error) {
	rc, err := fileDefaults(file)
	if err != nil {
		return rc, err
	}

	if c.IsSet("listen") {
		rc.ListenAddr = c.String("listen")
	}
	if c.IsSet("profile") {
		p, err := types.LookupProfile(c.String("profile"))
		if err != nil {
			return rc, err
		}
		rc.Profile = p
	}
	if c.IsSet("chunk-timeout") {
		rc.ChunkTimeout = c.Duration("chunk-timeout")
	}
	if c.IsSet("socket-timeout") {
		rc.SocketTimeout = c.Duration("socket-timeout")
	}
	if c.IsSet("buffer-size") {
		rc.BufferSize = c.Int("buffer-size")
	}

	return rc, rc.Validate()
}

// buildAdapter creates the merge notifier named by the config file.
// An empty type means no notifications.
func buildAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	retries := defaultAdapterRetries
	if cfg.Retries != nil {
		retries = *cfg.Retries
	}

	switch cfg.Type {
	case "":
		return nil, nil
	case adapterWebhook:
		a, err := webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	case adapterRedis:
		a, err := redis.New(redis.Config{
			URL:       cfg.URL,
			Channel:   cfg.Channel,
			LatestKey: cfg.LatestKey,
			Timeout:   cfg.Timeout.Duration,
			Retries:   retries,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown adapter type %q (must be %s or %s)", cfg.Type, adapterWebhook, adapterRedis)
	}
}

// startMetricsServer serves /metrics for collector on addr.
// The returned stop drains the server.
func startMetricsServer(ctx context.Context, addr string, collector *metrics.Collector, logger *log.Logger) (stop func(), err error) {
	handler, err := metrics.Register(prometheus.NewRegistry(), collector)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", map[string]any{"error": err.Error()})
		}
	}()
	logger.Info("serving metrics", map[string]any{"addr": ln.Addr().String()})

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}

// newSessionID returns a time-ordered id for this process lifetime.
func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
