// Package metrics exposes per-operation Prometheus metrics for a mounted
// filesystem and serves them over HTTP.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config represents metrics configuration.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      9184,
		Path:      "/metrics",
		Namespace: "asyncfs",
	}
}

// Collector records filesystem operation metrics into a private Prometheus
// registry. A disabled collector is a cheap no-op, so callers never need to
// branch on configuration.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorCounter      *prometheus.CounterVec

	extra  map[string]http.Handler
	server *http.Server
}

// NewCollector creates a metrics collector.
func NewCollector(config *Config) *Collector {
	if config == nil {
		config = DefaultConfig()
	}
	c := &Collector{config: config}
	if !config.Enabled {
		return c
	}

	c.registry = prometheus.NewRegistry()
	c.operationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "operations_total",
		Help:      "Filesystem operations by operation and status.",
	}, []string{"operation", "status"})
	c.operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: config.Namespace,
		Name:      "operation_duration_seconds",
		Help:      "Filesystem operation latency.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"operation"})
	c.errorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Name:      "operation_errors_total",
		Help:      "Filesystem operation failures by operation and errno.",
	}, []string{"operation", "errno"})

	c.registry.MustRegister(c.operationCounter, c.operationDuration, c.errorCounter)
	return c
}

// RecordOperation records one completed operation.
func (c *Collector) RecordOperation(operation string, duration time.Duration, err error) {
	if !c.config.Enabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		c.errorCounter.With(prometheus.Labels{
			"operation": operation,
			"errno":     err.Error(),
		}).Inc()
	}
	c.operationCounter.With(prometheus.Labels{
		"operation": operation,
		"status":    status,
	}).Inc()
	c.operationDuration.With(prometheus.Labels{
		"operation": operation,
	}).Observe(duration.Seconds())
}

// Handle registers an extra handler, such as a health endpoint, on the
// metrics server. Must be called before Start; ignored when disabled.
func (c *Collector) Handle(path string, handler http.Handler) {
	if !c.config.Enabled {
		return
	}
	if c.extra == nil {
		c.extra = make(map[string]http.Handler)
	}
	c.extra[path] = handler
}

// Start serves the metrics endpoint until Stop is called.
func (c *Collector) Start() error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	for path, handler := range c.extra {
		mux.Handle(path, handler)
	}

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()
	return nil
}

// Stop shuts the metrics endpoint down.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}
