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
	"github.com/irctrakz/streamline/pkg/proxy"
	"github.com/irctrakz/streamline/pkg/sockaddr"
)

var (
	configPath     string
	workers        int
	connections    int
	timeoutSeconds int
)

func main() {
	cmd := &cobra.Command{
		Use:           "tcp-proxy <local-endpoint> <remote-endpoint>",
		Short:         "Transparent TCP relay",
		Args:          cobra.ExactArgs(2),
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (yaml or json)")
	cmd.Flags().IntVar(&workers, "workers", 0, "worker pool size")
	cmd.Flags().IntVar(&connections, "connections", 0, "pre-armed connection slots")
	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 0, "watchdog timeout in seconds")
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
	applyDebugEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.ApplyLogging(); err != nil {
		return err
	}

	local, err := sockaddr.Parse(args[0])
	if err != nil {
		return fmt.Errorf("local endpoint: %w", err)
	}
	remote, err := sockaddr.Parse(args[1])
	if err != nil {
		return fmt.Errorf("remote endpoint: %w", err)
	}

	p, err := proxy.New(proxy.Config{
		Listen:      local,
		Remote:      remote,
		Workers:     cfg.Engine.Workers,
		Connections: cfg.Engine.Connections,
		Timeout:     time.Duration(cfg.Engine.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return err
	}
	if err := p.Start(); err != nil {
		return err
	}
	defer p.Stop()

	if metricsEnabled() {
		go runMetricsReporter(p)
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
