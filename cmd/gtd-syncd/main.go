// Command gtd-syncd wires the gtdlog daemon: it loads the on-disk config,
// opens the log store, and runs the local UI socket and the sync
// scheduler until signaled to stop. It is intentionally thin — no TUI, no
// daemonization glue; those remain external collaborators per the package
// design.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/aeldin/gtdlog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const replicaIDLen = 8

func main() {
	baseDir := flag.String("base-dir", defaultBaseDir(), "base directory holding config, lock file and data/")
	socketPath := flag.String("ui-socket", "", "path to the local UI control socket (default <base-dir>/ui.sock)")
	serverCert := flag.String("server-cert", "", "path to the sync server's TLS trust anchor (server.crt)")
	metricsAddr := flag.String("metrics-addr", "", "address to serve Prometheus metrics on, empty disables it")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gtd-syncd: init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(*baseDir, *socketPath, *serverCert, *metricsAddr, logger); err != nil {
		logger.Fatal("gtd-syncd: fatal", zap.Error(err))
	}
}

func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gtdlog"
	}
	return filepath.Join(home, ".gtdlog")
}

func run(baseDir, socketPath, serverCert, metricsAddr string, logger *zap.Logger) error {
	if socketPath == "" {
		socketPath = filepath.Join(baseDir, "ui.sock")
	}

	local, err := gtdlog.LoadLocalConfig(baseDir, replicaIDLen)
	if err != nil {
		return fmt.Errorf("load local config: %w", err)
	}

	store, err := gtdlog.OpenLogStore(filepath.Join(baseDir, "data"), filepath.Join(baseDir, "lock"))
	if err != nil {
		return fmt.Errorf("open log store: %w", err)
	}
	defer store.Close()

	key := gtdlog.DeriveKey(passwordFromEnv())
	envelope := gtdlog.NewEnvelope(key)
	metrics := gtdlog.NewMetrics()

	projection, err := rebuildProjection(store, envelope)
	if err != nil {
		return fmt.Errorf("rebuild projection: %w", err)
	}

	ui, err := gtdlog.NewUIServer(socketPath, store, envelope, local.AppID, local.LocalAuth, projection, logger)
	if err != nil {
		return fmt.Errorf("start ui server: %w", err)
	}
	defer ui.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- ui.Serve(ctx) }()

	if metricsAddr != "" {
		go serveMetrics(metricsAddr, metrics, logger)
	}

	sync, syncErr := startSync(ctx, baseDir, store, local, serverCert, logger, metrics)
	if syncErr != nil {
		logger.Warn("gtd-syncd: sync disabled", zap.Error(syncErr))
	} else {
		defer sync.Stop()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func startSync(ctx context.Context, baseDir string, store *gtdlog.LogStore, local *gtdlog.LocalConfig, serverCert string, logger *zap.Logger, metrics *gtdlog.Metrics) (*gtdlog.Scheduler, error) {
	syncCfg, err := gtdlog.LoadSyncConfig(baseDir)
	if err != nil {
		return nil, err
	}

	client, err := gtdlog.NewClient(store, syncCfg.Host, syncCfg.Port, syncCfg.SyncAuth, serverCert, logger, metrics)
	if err != nil {
		return nil, err
	}

	scheduler := gtdlog.NewScheduler(client, logger)
	go scheduler.Run(ctx)
	return scheduler, nil
}

// rebuildProjection replays the entire merged log from scratch; the
// projection is never persisted.
func rebuildProjection(store *gtdlog.LogStore, envelope *gtdlog.Envelope) (*gtdlog.Projection, error) {
	projection := gtdlog.NewProjection()

	reader, err := store.ReadMerged(nil)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	for {
		rec, ok, err := reader.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		plaintext, err := envelope.Decrypt(rec.Line, rec.ReplicaID, rec.Offset)
		if err != nil {
			return nil, fmt.Errorf("decrypt %s@%d: %w", rec.ReplicaID, rec.Offset, err)
		}
		cmd, err := gtdlog.ParseCommand(string(plaintext))
		if err != nil {
			return nil, fmt.Errorf("replay %s@%d: %w", rec.ReplicaID, rec.Offset, err)
		}
		projection.Apply(cmd)
	}

	return projection, nil
}

func serveMetrics(addr string, metrics *gtdlog.Metrics, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("gtd-syncd: metrics server stopped", zap.Error(err))
	}
}

// passwordFromEnv reads the envelope password from the environment; the
// interactive password prompt is an external collaborator, out of scope
// for this package.
func passwordFromEnv() string {
	return os.Getenv("GTDLOG_PASSWORD")
}
