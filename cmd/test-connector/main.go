package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/irctrakz/streamline/pkg/connector"
	"github.com/irctrakz/streamline/pkg/logging"
	"github.com/irctrakz/streamline/pkg/sockaddr"
)

var (
	address     string
	nConns      int
	nTransfers  int
	nLoops      int
	payloadFile string
	payloadSize int
)

func main() {
	cmd := &cobra.Command{
		Use:          "test-connector --address <endpoint> (--file <path> | --data <bytes>)",
		Short:        "Connect/send load generator",
		Args:         cobra.NoArgs,
		RunE:         run,
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&address, "address", "", "endpoint to connect to")
	cmd.Flags().IntVar(&nConns, "number-connections", connector.DefaultConnections,
		"concurrent connections")
	cmd.Flags().IntVar(&nTransfers, "number-transfers-per-connection", connector.DefaultTransfers,
		"payload sends per connection per loop")
	cmd.Flags().IntVar(&nLoops, "number-loops", connector.DefaultLoops,
		"connect/send/disconnect cycles per connection")
	cmd.Flags().StringVar(&payloadFile, "file", "", "payload file")
	cmd.Flags().IntVar(&payloadSize, "data", 0, "synthetic payload size in bytes")
	cmd.MarkFlagRequired("address")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if dval := strings.ToLower(strings.TrimSpace(os.Getenv("DEBUG"))); dval == "1" ||
		dval == "true" || dval == "yes" || dval == "on" {
		logging.SetLevel(logging.DebugLevel)
	}

	if (payloadFile == "") == (payloadSize == 0) {
		return fmt.Errorf("exactly one of --file and --data is required")
	}

	ep, err := sockaddr.Parse(address)
	if err != nil {
		return fmt.Errorf("address: %w", err)
	}

	var payload []byte
	if payloadFile != "" {
		payload, err = connector.FilePayload(payloadFile)
	} else {
		payload, err = connector.SyntheticPayload(payloadSize)
	}
	if err != nil {
		return err
	}

	c, err := connector.New(connector.Config{
		Address:     ep,
		Connections: nConns,
		Transfers:   nTransfers,
		Loops:       nLoops,
		Payload:     payload,
	})
	if err != nil {
		return err
	}
	if err := c.Run(); err != nil {
		return err
	}

	m := c.Metrics()
	logging.Infof("connector: %d bytes sent over %d connections, %d errors",
		m.BytesSent, m.ConnectionsClosed, m.Errors)
	if m.Errors > 0 {
		return fmt.Errorf("%d connection errors", m.Errors)
	}
	return nil
}
