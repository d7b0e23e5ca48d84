package metrics

import (
	"log/slog"
	"time"

	"github.com/phrazzld/taskdispatch/internal/queue"
)

// StatsSource provides the point-in-time queue snapshot the collector
// reads. *queue.DispatchQueue satisfies it.
type StatsSource interface {
	Stats() queue.Stats
}

// Collector refreshes the depth gauges from the queue on a fixed interval.
type Collector struct {
	metrics  *Metrics
	source   StatsSource
	interval time.Duration
	logger   *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewCollector creates a collector. A non-positive interval defaults to
// five seconds.
func NewCollector(
	m *Metrics,
	source StatsSource,
	interval time.Duration,
	logger *slog.Logger,
) *Collector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		metrics:  m,
		source:   source,
		interval: interval,
		logger:   logger.With(slog.String("component", "metrics_collector")),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the refresh loop. Call Stop to end it.
func (c *Collector) Start() {
	go func() {
		defer close(c.done)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.collect()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.collect()
			}
		}
	}()
	c.logger.Debug("metrics collector started",
		slog.Duration("interval", c.interval))
}

// Stop ends the refresh loop and waits for it to exit.
func (c *Collector) Stop() {
	close(c.stop)
	<-c.done
	c.logger.Debug("metrics collector stopped")
}

// collect replaces the gauge values with the current queue snapshot.
// Reset drops gauges for scopes that have since emptied.
func (c *Collector) collect() {
	stats := c.source.Stats()

	c.metrics.queueDepth.Reset()
	for scope, scopeStats := range stats.Scopes {
		for priority, depth := range scopeStats.ByPriority {
			c.metrics.queueDepth.WithLabelValues(scope, string(priority)).Set(float64(depth))
		}
	}
	c.metrics.inFlight.Set(float64(stats.InFlight))
	c.metrics.deadLetters.Set(float64(stats.DeadLetters))
}
