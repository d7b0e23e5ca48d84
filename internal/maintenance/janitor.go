// Package maintenance runs the background janitor that sweeps expired
// queue entries on a fixed schedule.
package maintenance

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPurgeInterval applies when no interval is configured.
const DefaultPurgeInterval = time.Minute

// Purger drops expired entries and reports how many were removed.
// *queue.DispatchQueue satisfies it.
type Purger interface {
	PurgeExpired() int
}

// Janitor schedules periodic expiry sweeps over the queue.
type Janitor struct {
	cron     *cron.Cron
	purger   Purger
	interval time.Duration
	logger   *slog.Logger
}

// NewJanitor creates a janitor sweeping every interval. A non-positive
// interval falls back to DefaultPurgeInterval.
func NewJanitor(purger Purger, interval time.Duration, logger *slog.Logger) (*Janitor, error) {
	if purger == nil {
		return nil, fmt.Errorf("janitor: purger cannot be nil")
	}
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	j := &Janitor{
		cron:     cron.New(),
		purger:   purger,
		interval: interval,
		logger:   logger.With(slog.String("component", "janitor")),
	}

	if _, err := j.cron.AddFunc(fmt.Sprintf("@every %s", interval), j.sweep); err != nil {
		return nil, fmt.Errorf("janitor: schedule purge job: %w", err)
	}
	return j, nil
}

// Start begins sweeping in the background.
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info("janitor started",
		slog.Duration("purge_interval", j.interval))
}

// Stop halts the schedule and waits for an in-progress sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info("janitor stopped")
}

func (j *Janitor) sweep() {
	if purged := j.purger.PurgeExpired(); purged > 0 {
		j.logger.Info("purged expired queue entries",
			slog.Int("count", purged))
	}
}
