// Command fieldsyncd runs the offline sync engine as a background daemon:
// it watches the durable mutation queue and reconciles it with the remote
// construction API on an interval and on reconnect signals.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Skrufy/ConstructionManager-sub008/config"
	"github.com/Skrufy/ConstructionManager-sub008/fieldsync"
	"github.com/Skrufy/ConstructionManager-sub008/logging"
	"github.com/Skrufy/ConstructionManager-sub008/storage/sqlite"
	"github.com/Skrufy/ConstructionManager-sub008/transport/httpapi"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML configuration file")
	baseURL := flag.String("remote", "", "remote API base URL (overrides config)")
	flag.Parse()

	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}
	if *baseURL != "" {
		cfg.Remote.BaseURL = *baseURL
	}
	if cfg.Remote.BaseURL == "" {
		return fmt.Errorf("remote API base URL is required (set -remote or remote.base_url)")
	}

	logging.Init(cfg.Logging)
	logger := logging.Default()

	store, err := sqlite.New(&sqlite.Config{
		DataSourceName: cfg.Storage.Path,
		EnableWAL:      true,
		TableName:      cfg.Storage.TableName,
	})
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	defer store.Close()

	client := httpapi.New(cfg.Remote.BaseURL,
		httpapi.WithHTTPClient(&http.Client{Timeout: cfg.Remote.Timeout.Std()}),
	)

	engine := fieldsync.NewEngine(store, client,
		fieldsync.WithEngineBackoff(cfg.FieldsyncBackoff()),
		fieldsync.WithEngineLogger(logger),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reconnect := watchConnectivity(ctx, client, 10*time.Second)
	stop := engine.StartAutoSync(ctx, cfg.Sync.Interval.Std(), reconnect)
	defer stop()

	logger.Info("fieldsyncd running",
		slog.String("remote", cfg.Remote.BaseURL),
		slog.String("store", cfg.Storage.Path),
		slog.Duration("interval", cfg.Sync.Interval.Std()),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", slog.String("signal", sig.String()))
	return nil
}

// watchConnectivity probes the remote host and emits a signal on each
// offline-to-online transition so the scheduler can sync immediately.
func watchConnectivity(ctx context.Context, client *httpapi.Client, probeInterval time.Duration) <-chan struct{} {
	signals := make(chan struct{}, 1)

	go func() {
		probe := &http.Client{Timeout: 5 * time.Second}
		online := true
		ticker := time.NewTicker(probeInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				req, err := http.NewRequestWithContext(ctx, http.MethodHead, client.BaseURL(), nil)
				if err != nil {
					continue
				}
				resp, err := probe.Do(req)
				reachable := err == nil
				if resp != nil {
					resp.Body.Close()
				}
				if reachable && !online {
					select {
					case signals <- struct{}{}:
					default:
					}
				}
				online = reachable
			}
		}
	}()

	return signals
}
