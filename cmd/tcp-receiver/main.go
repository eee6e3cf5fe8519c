package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/irctrakz/streamline/pkg/config"
	"github.com/irctrakz/streamline/pkg/receiver"
	"github.com/irctrakz/streamline/pkg/sockaddr"
)

var (
	configPath     string
	workers        int
	connections    int
	timeoutSeconds int
	fileSizeBytes  int64
	fileAgeSeconds int
)

func main() {
	cmd := &cobra.Command{
		Use:          "tcp-receiver <listen-endpoint> <staging-dir> <final-dir>",
		Short:        "TCP receiver persisting connection payloads to rotated files",
		Args:         cobra.ExactArgs(3),
		RunE:         run,
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (yaml or json)")
	cmd.Flags().IntVar(&workers, "workers", 0, "worker pool size")
	cmd.Flags().IntVar(&connections, "connections", 0, "pre-armed connection slots")
	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 0, "watchdog timeout in seconds")
	cmd.Flags().Int64Var(&fileSizeBytes, "file-size", 0, "file rotation size in bytes")
	cmd.Flags().IntVar(&fileAgeSeconds, "file-age", 0, "file rotation age in seconds")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()
	if configPath != "" {
		if err := config.LoadFromFile(configPath, cfg); err != nil {
			return err
		}
	}
	config.LoadFromEnv(cfg)
	if workers > 0 {
		cfg.Engine.Workers = workers
	}
	if connections > 0 {
		cfg.Engine.Connections = connections
	}
	if timeoutSeconds > 0 {
		cfg.Engine.TimeoutSeconds = timeoutSeconds
	}
	if fileSizeBytes > 0 {
		cfg.Receiver.FileSizeBytes = fileSizeBytes
	}
	if fileAgeSeconds > 0 {
		cfg.Receiver.FileAgeSeconds = fileAgeSeconds
	}
	cfg.Receiver.StagingDir = args[1]
	cfg.Receiver.FinalDir = args[2]
	applyDebugEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.ValidateReceiver(); err != nil {
		return err
	}
	if err := cfg.ApplyLogging(); err != nil {
		return err
	}

	listen, err := sockaddr.Parse(args[0])
	if err != nil {
		return fmt.Errorf("listen endpoint: %w", err)
	}

	r, err := receiver.New(receiver.Config{
		Listen:      listen,
		StagingDir:  cfg.Receiver.StagingDir,
		FinalDir:    cfg.Receiver.FinalDir,
		Workers:     cfg.Engine.Workers,
		Connections: cfg.Engine.Connections,
		Timeout:     time.Duration(cfg.Engine.TimeoutSeconds) * time.Second,
		FileSize:    cfg.Receiver.FileSizeBytes,
		FileAge:     time.Duration(cfg.Receiver.FileAgeSeconds) * time.Second,
	})
	if err != nil {
		return err
	}
	if err := r.Start(); err != nil {
		return err
	}
	defer r.Stop()

	if metricsEnabled() {
		go runMetricsReporter(r)
	}

	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return nil
}

// applyDebugEnv raises the log level when the DEBUG env toggle is truthy.
func applyDebugEnv(cfg *config.Config) {
	dval := strings.ToLower(strings.TrimSpace(os.Getenv("DEBUG")))
	if dval == "1" || dval == "true" || dval == "yes" || dval == "on" {
		cfg.Logging.Level = "debug"
	}
}

func metricsEnabled() bool {
	return strings.TrimSpace(os.Getenv("METRICS_INTERVAL")) != ""
}
