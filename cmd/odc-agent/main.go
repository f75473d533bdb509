// Command odc-agent runs the control plane described in this repository:
// a controller registry serving the interactive line-protocol surface
// over stdin/stdout, backed by a NATS JetStream KV reference deployment
// service. Grounded in shape on the teacher's test/simulation/cmd/
// simulation/main.go: flag-based config path, signal.Notify graceful
// shutdown, and a run function whose error main logs via Fatal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/rbx/ODC/internal/deployment/natsdds"
	"github.com/rbx/ODC/internal/devicecmd"
	"github.com/rbx/ODC/internal/interactive"
	"github.com/rbx/ODC/internal/kvutil"
	"github.com/rbx/ODC/internal/logging"
	"github.com/rbx/ODC/internal/metrics"
	"github.com/rbx/ODC/internal/partitionctl"
	"github.com/rbx/ODC/internal/plugin"
	"github.com/rbx/ODC/internal/registry"
	"github.com/rbx/ODC/internal/session"
	"github.com/rbx/ODC/types"
)

func buildMetricsCollector(ctx context.Context, cfg MetricsConfig, log *logging.SlogLogger) types.MetricsCollector {
	if !cfg.Prometheus.Enabled {
		return metrics.NewNop()
	}

	collector := metrics.NewPrometheus(nil, "odc")
	server := metrics.NewPrometheusServer(fmt.Sprintf(":%d", cfg.Prometheus.Port), log)
	go func() {
		if err := server.Start(ctx); err != nil {
			log.Warn("prometheus metrics server exited with error", "error", err)
		}
	}()
	return collector
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the odc-agent configuration file")
	batchPath := flag.String("batch", "", "run a batch of interactive commands from this file, then exit")
	flag.Parse()

	log := logging.NewSlogDefault()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, cfg, log, *batchPath); err != nil {
		log.Fatal("odc-agent exited with error", "error", err)
	}
}

func run(ctx context.Context, cfg *Config, log *logging.SlogLogger, batchPath string) error {
	nc, err := nats.Connect(cfg.NATS.URL, nats.Name("odc-agent"))
	if err != nil {
		return fmt.Errorf("connect to nats %s: %w", cfg.NATS.URL, err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("open jetstream context: %w", err)
	}

	sessionKV, err := kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
		Bucket:      cfg.NATS.SessionBucket,
		Description: "odc-agent session and worker liveness state",
	}, 3)
	if err != nil {
		return fmt.Errorf("ensure session bucket %s: %w", cfg.NATS.SessionBucket, err)
	}

	var claimKV jetstream.KeyValue
	if cfg.Sessions.ClaimEnabled {
		claimKV, err = kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
			Bucket:      cfg.NATS.ClaimBucket,
			Description: "odc-agent session ownership claims",
		}, 3)
		if err != nil {
			return fmt.Errorf("ensure claim bucket %s: %w", cfg.NATS.ClaimBucket, err)
		}
	}

	ddsService := natsdds.New(sessionKV, cfg.Sessions.HeartbeatEvery, log)
	invoker := plugin.New(cfg.Plugins)
	mc := buildMetricsCollector(ctx, cfg.Metrics, log)

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create work dir %s: %w", cfg.WorkDir, err)
	}

	factory := func(partitionID string) *partitionctl.Controller {
		transport, err := devicecmd.New(nc, partitionID, cfg.Devices.ShardCount, log)
		if err != nil {
			log.Fatal("failed to build device transport", "partition_id", partitionID, "error", err)
		}

		var claimer *session.Claimer
		if claimKV != nil {
			claimer = session.NewClaimer(claimKV, partitionID)
		}
		adapter := session.New(ddsService, claimer, log)

		return partitionctl.New(partitionID, adapter, transport, invoker, cfg.WorkDir, log, mc,
			partitionctl.WithRecoveryEnabled(cfg.Recovery.Enabled))
	}

	reg, err := registry.New(ctx, cfg.Registry, factory,
		registry.WithLogger(log),
		registry.WithMetrics(mc),
		registry.WithHooks(types.Hooks{
			OnRestoreFailure: func(ctx context.Context, partitionID, sessionID string, err error) {
				log.Warn("restore failed for partition", "partition_id", partitionID, "session_id", sessionID, "error", err)
			},
			OnPartitionShutdown: func(ctx context.Context, partitionID string) {
				log.Info("partition shut down", "partition_id", partitionID)
			},
		}),
	)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}

	shell := interactive.New(reg, os.Stdout)

	if batchPath != "" {
		return shell.RunFile(ctx, batchPath)
	}

	log.Info("odc-agent ready", "nats_url", cfg.NATS.URL)
	if err := shell.Run(ctx, os.Stdin); err != nil && ctx.Err() == nil {
		return fmt.Errorf("interactive shell: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	for _, p := range reg.Status(false).Partitions {
		if c, ok := reg.Get(p.PartitionID); ok {
			c.Shutdown(shutdownCtx, types.Header{PartitionID: p.PartitionID, TimeoutS: 10})
		}
	}

	return nil
}
