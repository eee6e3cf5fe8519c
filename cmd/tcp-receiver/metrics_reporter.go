package main

import (
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irctrakz/streamline/pkg/core"
	"github.com/irctrakz/streamline/pkg/logging"
)

// runMetricsReporter periodically dumps the service counters. The interval
// comes from METRICS_INTERVAL and defaults to 30s.
func runMetricsReporter(svc core.Service) {
	iv := strings.TrimSpace(os.Getenv("METRICS_INTERVAL"))
	if iv == "" {
		iv = "30s"
	}
	d, err := time.ParseDuration(iv)
	if err != nil {
		d = 30 * time.Second
	}

	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		dumpMetrics(svc)
		<-ticker.C
	}
}

func dumpMetrics(svc core.Service) {
	m := svc.Metrics()
	logging.InfoWithFields(logrus.Fields{
		"conns_accepted":  m.ConnectionsAccepted,
		"conns_closed":    m.ConnectionsClosed,
		"bytes_recv":      m.BytesReceived,
		"bytes_persisted": m.BytesSent,
		"files_completed": m.FilesCompleted,
		"errors":          m.Errors,
	}, "metrics")
}
