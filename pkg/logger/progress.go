package logger

import (
	"sync"
	"time"
)

// ProgressTracker reports periodic progress while a run walks through its
// movements. It is safe for use from multiple matching workers.
type ProgressTracker struct {
	logger    Logger
	operation string
	total     int
	processed int
	started   time.Time
	lastLog   time.Time
	interval  time.Duration
	mu        sync.Mutex
}

// NewProgressTracker creates a tracker that logs at most once per interval.
func NewProgressTracker(logger Logger, operation string, total int, interval time.Duration) *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{
		logger:    logger.WithField("operation", operation),
		operation: operation,
		total:     total,
		started:   now,
		lastLog:   now,
		interval:  interval,
	}
}

// Add records n processed items and logs progress if the interval elapsed.
func (p *ProgressTracker) Add(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.processed += n
	now := time.Now()
	if now.Sub(p.lastLog) < p.interval && p.processed < p.total {
		return
	}
	p.lastLog = now

	fields := Fields{
		"processed": p.processed,
		"total":     p.total,
		"elapsed":   now.Sub(p.started).Round(time.Millisecond).String(),
	}
	if p.total > 0 {
		fields["percent"] = float64(p.processed) * 100 / float64(p.total)
	}
	p.logger.WithFields(fields).Info("Progress update")
}

// Done logs the final count and total elapsed time.
func (p *ProgressTracker) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.logger.WithFields(Fields{
		"processed": p.processed,
		"total":     p.total,
		"elapsed":   time.Since(p.started).Round(time.Millisecond).String(),
	}).Info("Operation completed")
}

// TimedOperation runs fn and logs its duration and outcome.
func TimedOperation(logger Logger, operation string, fn func() error) error {
	start := time.Now()
	log := logger.WithField("operation", operation)
	log.Debug("Operation started")

	err := fn()
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		log.WithError(err).WithField("elapsed", elapsed.String()).Error("Operation failed")
		return err
	}
	log.WithField("elapsed", elapsed.String()).Debug("Operation finished")
	return nil
}
