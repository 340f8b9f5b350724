package util

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide session/data-channel counter. Every update is
// mirrored into the Prometheus collectors below.
var Stats = &stats{}

type stats struct {
	Attempts  atomic.Int64 // peer connection instances created since process start
	Connects  atomic.Int64 // transitions into Connected
	Drops     atomic.Int64 // partner losses (terminal or revolving)
	BytesSent atomic.Int64 // cumulative bytes written to the DataChannel
	BytesRecv atomic.Int64 // cumulative bytes read from the DataChannel
}

var (
	promAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairline_connection_attempts_total",
		Help: "Peer connection instances created",
	})
	promTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairline_status_transitions_total",
		Help: "Session status transitions by target status",
	}, []string{"status"})
	promEnvelopes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairline_envelopes_total",
		Help: "Data channel envelopes by direction and type",
	}, []string{"direction", "type"})
	promDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairline_envelopes_dropped_total",
		Help: "Data channel envelopes dropped by reason",
	}, []string{"reason"})
	promSignalRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairline_signaling_retries_total",
		Help: "Signaling sends that needed a retry",
	})
	promNegotiationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairline_negotiation_errors_total",
		Help: "Recoverable negotiation failures by step",
	}, []string{"step"})
)

func (s *stats) AddAttempt() {
	s.Attempts.Add(1)
	promAttempts.Inc()
}

func (s *stats) AddTransition(status string) {
	switch status {
	case "connected":
		s.Connects.Add(1)
	case "disconnected", "waiting":
		s.Drops.Add(1)
	}
	promTransitions.WithLabelValues(status).Inc()
}

func (s *stats) AddSent(typ string, n int) {
	s.BytesSent.Add(int64(n))
	promEnvelopes.WithLabelValues("out", typ).Inc()
}

func (s *stats) AddRecv(typ string, n int) {
	s.BytesRecv.Add(int64(n))
	promEnvelopes.WithLabelValues("in", typ).Inc()
}

func (s *stats) AddDropped(reason string)        { promDropped.WithLabelValues(reason).Inc() }
func (s *stats) AddSignalRetry()                 { promSignalRetries.Inc() }
func (s *stats) AddNegotiationError(step string) { promNegotiationErrors.WithLabelValues(step).Inc() }

// MetricsHandler exposes the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs session statistics
// every 10 seconds. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevConnects, prevDrops int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				connects := Stats.Connects.Load()
				drops := Stats.Drops.Load()

				outS := float64(sent-prevSent) / 10.0
				inS := float64(recv-prevRecv) / 10.0
				upC := connects - prevConnects
				downC := drops - prevDrops

				if upC > 0 || downC > 0 || inS > 10 || outS > 10 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, upC, downC))
				}

				prevSent = sent
				prevRecv = recv
				prevConnects = connects
				prevDrops = drops

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a fixed-width (8 chars) string,
// e.g. "99.0   B", " 1.5 KiB".
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, upC, downC int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Partner: %2d↑ %2d↓",
		formatBytes(inS),
		formatBytes(outS),
		upC,
		downC,
	)
}
