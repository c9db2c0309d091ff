// Package watch provides the wake source for the dispatch scheduler: a
// single Wait contract backed either by filesystem change notifications on
// the pending bin or by a fixed-interval poll, selected by capability
// detection. Notifications are a wake-up optimization, never the sole
// correctness mechanism: a job can become eligible purely because its
// NotBefore elapsed without any new file arriving, so a poll timer is
// always armed.
package watch

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultPollInterval is used when no interval is configured.
const DefaultPollInterval = 5 * time.Second

// Source blocks until there may be work to do.
type Source interface {
	// Wait returns when the watched directory changed, the poll interval
	// elapsed, the deadline passed, or ctx was cancelled (in which case
	// ctx.Err() is returned). A zero deadline means "no deadline": wait
	// for the next event or poll tick.
	Wait(ctx context.Context, deadline time.Time) error

	// Close releases watcher resources.
	Close() error
}

// New returns a notification-backed source for dir, falling back to plain
// polling when the platform watcher cannot be established.
func New(dir string, pollInterval time.Duration, logger *slog.Logger) Source {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		err = fsw.Add(dir)
	}
	if err != nil {
		logger.Warn("filesystem notifications unavailable, polling only", "dir", dir, "error", err)
		if fsw != nil {
			fsw.Close()
		}
		return &Poller{Interval: pollInterval}
	}

	logger.Debug("watching for filesystem events", "dir", dir)
	return &Notifier{
		watcher:  fsw,
		interval: pollInterval,
		logger:   logger,
	}
}

// Poller wakes on a fixed interval.
type Poller struct {
	Interval time.Duration
}

// Wait sleeps until the next tick, the deadline, or cancellation.
func (p *Poller) Wait(ctx context.Context, deadline time.Time) error {
	timer := time.NewTimer(sleepFor(p.Interval, deadline))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Close implements Source.
func (p *Poller) Close() error { return nil }

// Notifier wakes on fsnotify events, with the poll interval kept as a
// safety net against missed events.
type Notifier struct {
	watcher  *fsnotify.Watcher
	interval time.Duration
	logger   *slog.Logger
}

// Wait returns on the first relevant event, the poll tick, the deadline,
// or cancellation. Watcher errors are logged and treated as wake-ups so a
// flaky backend degrades to polling behavior instead of stalling.
func (n *Notifier) Wait(ctx context.Context, deadline time.Time) error {
	timer := time.NewTimer(sleepFor(n.interval, deadline))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case event, ok := <-n.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename) || event.Op.Has(fsnotify.Write) {
				return nil
			}
			// Chmod and remove events carry no new work.
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return nil
			}
			n.logger.Warn("filesystem watcher error", "error", err)
			return nil
		}
	}
}

// Close implements Source.
func (n *Notifier) Close() error { return n.watcher.Close() }

// sleepFor bounds the wait by the poll interval and, when set, the
// deadline, whichever is soonest.
func sleepFor(interval time.Duration, deadline time.Time) time.Duration {
	d := interval
	if !deadline.IsZero() {
		if until := time.Until(deadline); until < d {
			d = until
		}
	}
	if d < 0 {
		d = 0
	}
	return d
}
