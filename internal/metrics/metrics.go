// Package metrics exports Prometheus gauges/counters for the renderer's
// pool occupancy, reservoir depth, and repair-protocol health, following
// a global-singleton collector shape built straight against
// prometheus/client_golang.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/waveforge/netrender/internal/logging"
	"github.com/waveforge/netrender/internal/pool"
)

// Collector holds every metric this renderer exports. Construct one via
// New and register it with InitMetrics so GetMetrics() can reach it from
// anywhere without plumbing a reference through every constructor.
type Collector struct {
	registry *prometheus.Registry

	poolCells     *prometheus.GaugeVec
	reservoirLen  *prometheus.GaugeVec
	repairDepth   *prometheus.GaugeVec
	resendsTotal  *prometheus.CounterVec
	dropsTotal    *prometheus.CounterVec
	starvations   *prometheus.CounterVec

	enabled bool
}

var (
	global     atomic.Pointer[Collector]
	globalOnce sync.Once
	logger     *slog.Logger
)

// New builds a Collector and registers its collectors with a fresh
// prometheus.Registry.
func New(enabled bool) *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		enabled:  enabled,
		poolCells: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "netrender",
			Subsystem: "pool",
			Name:      "cells",
			Help:      "Pool cell accounting per message/buffer kind (spec §4.1 memory stats).",
		}, []string{"pool", "stat"}),
		reservoirLen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "netrender",
			Subsystem: "reservoir",
			Name:      "depth",
			Help:      "Current queue depth of a named reservoir (spec §4.2).",
		}, []string{"reservoir"}),
		repairDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "netrender",
			Subsystem: "repair",
			Name:      "buffered_frames",
			Help:      "Frames currently buffered in a protocol's Repairer (spec §4.9).",
		}, []string{"protocol"}),
		resendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netrender",
			Subsystem: "repair",
			Name:      "resend_requests_total",
			Help:      "Resend requests sent by a protocol's Repairer.",
		}, []string{"protocol"}),
		dropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netrender",
			Subsystem: "repair",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped (duplicate, stale, or buffer-full) per protocol.",
		}, []string{"protocol", "reason"}),
		starvations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netrender",
			Subsystem: "pipeline",
			Name:      "starvation_events_total",
			Help:      "StarvationMonitor-triggered re-gorge/re-ramp-down events.",
		}, []string{"stream"}),
	}
	if enabled {
		reg.MustRegister(c.poolCells, c.reservoirLen, c.repairDepth, c.resendsTotal, c.dropsTotal, c.starvations)
	}
	return c
}

// InitMetrics installs c as the process-wide collector (spec §4.1's
// "Memory stats are exported" needs a single real sink).
func InitMetrics(c *Collector) {
	globalOnce.Do(func() {
		logger = logging.ForService("metrics")
		if logger == nil {
			logger = slog.Default()
		}
		global.Store(c)
		if c != nil && c.enabled {
			logger.Info("metrics collector initialized")
		}
	})
}

// GetMetrics returns the process-wide collector, or a disabled no-op one
// if InitMetrics was never called.
func GetMetrics() *Collector {
	c := global.Load()
	if c == nil {
		return &Collector{enabled: false}
	}
	return c
}

// SetPoolStats records one pool's total/used/peak cell counts.
func (c *Collector) SetPoolStats(name string, s pool.Stats) {
	if !c.enabled {
		return
	}
	c.poolCells.WithLabelValues(name, "total").Set(float64(s.Total))
	c.poolCells.WithLabelValues(name, "used").Set(float64(s.Used))
	c.poolCells.WithLabelValues(name, "peak").Set(float64(s.Peak))
}

// SetReservoirDepth records a named reservoir's current queue depth.
func (c *Collector) SetReservoirDepth(name string, depth int) {
	if !c.enabled {
		return
	}
	c.reservoirLen.WithLabelValues(name).Set(float64(depth))
}

// SetRepairDepth records a protocol's current repair-list buffered count.
func (c *Collector) SetRepairDepth(protocol string, depth int) {
	if !c.enabled {
		return
	}
	c.repairDepth.WithLabelValues(protocol).Set(float64(depth))
}

// IncResends increments the resend-request counter for a protocol.
func (c *Collector) IncResends(protocol string) {
	if !c.enabled {
		return
	}
	c.resendsTotal.WithLabelValues(protocol).Inc()
}

// IncDrops increments the frame-dropped counter for a protocol/reason.
func (c *Collector) IncDrops(protocol, reason string) {
	if !c.enabled {
		return
	}
	c.dropsTotal.WithLabelValues(protocol, reason).Inc()
}

// IncStarvation increments the starvation-event counter for a stream.
func (c *Collector) IncStarvation(stream string) {
	if !c.enabled {
		return
	}
	c.starvations.WithLabelValues(stream).Inc()
}

// Server wraps an HTTP listener exposing /metrics for c's registry.
type Server struct {
	httpServer *http.Server
}

// NewServer builds (but does not start) a metrics HTTP server bound to
// addr, scraping c's registry.
func NewServer(addr string, c *Collector) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
}

// Start runs the metrics server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
