package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cuemby/cascade/pkg/api"
	"github.com/cuemby/cascade/pkg/blob"
	"github.com/cuemby/cascade/pkg/config"
	"github.com/cuemby/cascade/pkg/engine"
	"github.com/cuemby/cascade/pkg/events"
	"github.com/cuemby/cascade/pkg/log"
	"github.com/cuemby/cascade/pkg/pipeline"
	"github.com/cuemby/cascade/pkg/queue"
	"github.com/cuemby/cascade/pkg/storage"
	"github.com/spf13/cobra"
)

// stageRegistry is populated at process start. Deployments link their
// stage packages and register them from an init function in this
// package.
var stageRegistry = pipeline.NewRegistry()

func newServerCmd() *cobra.Command {
	var configPath, listenAddr, dataDir string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the Cascade engine server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configPath, listenAddr, dataDir)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config file")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides config)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides config)")
	return cmd
}

func runServer(configPath, listenAddr, dataDir string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := log.Component("server")

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	blobs, err := blob.NewFileStore(filepath.Join(cfg.DataDir, "blobs"))
	if err != nil {
		return err
	}

	dispatcher := queue.NewDispatcher(queue.DispatcherConfig{
		BaseURL:      "http://" + listenHost(cfg.ListenAddr),
		BasePath:     cfg.BasePath,
		QueueName:    cfg.QueueName,
		Workers:      cfg.QueueWorkers,
		MaxRetries:   cfg.QueueMaxRetries,
		RetryBackoff: cfg.QueueRetryBackoff,
	})
	dispatcher.Start()
	defer dispatcher.Stop()

	broker := events.NewBroker()
	defer broker.Close()
	go logEvents(broker)

	eng := engine.New(store, blobs, dispatcher, stageRegistry, broker, engine.Config{
		BasePath:        cfg.BasePath,
		QueueName:       cfg.QueueName,
		InlineSize:      cfg.InlineSizeBytes,
		NotifyBatchSize: cfg.NotifyBatchSize,
		AbortBatchSize:  cfg.AbortBatchSize,
		Retry: pipeline.RetryOptions{
			MaxAttempts:    cfg.MaxAttempts,
			BackoffSeconds: cfg.BackoffSeconds,
			BackoffFactor:  cfg.BackoffFactor,
		},
	})

	server := api.NewServer(eng, api.Config{BasePath: cfg.BasePath})

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("listen_addr", cfg.ListenAddr).Msg("API server listening")
		errCh <- server.Start(cfg.ListenAddr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

// logEvents mirrors engine lifecycle events into the log.
func logEvents(broker *events.Broker) {
	sub := broker.Subscribe(0)
	logger := log.Component("events")
	for event := range sub.C {
		logger.Debug().
			Str("event_type", string(event.Type)).
			Str("pipeline_id", event.PipelineID).
			Msg(event.Message)
	}
}

// listenHost turns a bind address into a dialable host:port.
func listenHost(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "127.0.0.1" + addr
	}
	return addr
}
