//go:build linux

// Package collectors samples buffer pool occupancy into the metrics package.
package collectors

import (
	"context"
	"sync"
	"time"

	"github.com/smazurov/v4l2queue/internal/logging"
	"github.com/smazurov/v4l2queue/internal/metrics"
	"github.com/smazurov/v4l2queue/pkg/linuxav/v4l2"
)

// StatsSource is satisfied by *v4l2.Stream.
type StatsSource interface {
	Stats() v4l2.PoolStats
}

// PoolCollector polls a stream's pool statistics on a fixed interval.
type PoolCollector struct {
	logger   logging.Logger
	device   string
	source   StatsSource
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewPoolCollector creates a collector for the stream of device.
func NewPoolCollector(device string, source StatsSource, interval time.Duration) *PoolCollector {
	if interval <= 0 {
		interval = time.Second
	}
	return &PoolCollector{
		logger:   logging.GetLogger("metrics"),
		device:   device,
		source:   source,
		interval: interval,
	}
}

// Start begins collecting until ctx is done or Stop is called.
func (c *PoolCollector) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run(ctx)
}

// Stop stops the collector and waits for it to exit. The last sample
// is kept.
func (c *PoolCollector) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *PoolCollector) run(ctx context.Context) {
	defer c.wg.Done()
	c.logger.Debug("Starting pool collection", "device", c.device, "interval", c.interval)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *PoolCollector) collect() {
	metrics.SetPoolStats(c.device, c.source.Stats())
}
