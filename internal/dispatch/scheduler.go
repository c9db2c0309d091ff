// Package dispatch contains the control loop that drives the spool: it
// wakes on filesystem events or timers, claims due jobs, hands each to a
// worker goroutine, and applies the retry policy's disposition.
package dispatch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"callspool/internal/dispatch/originate"
	"callspool/internal/observability"
	"callspool/internal/retry"
	"callspool/internal/spool"
	"callspool/internal/spool/watch"
)

// Config holds scheduler tuning knobs.
type Config struct {
	// MaxConcurrent bounds in-flight origination attempts.
	MaxConcurrent int

	// PollInterval is the scan fallback period and the backoff applied
	// after a failed pending-bin scan.
	PollInterval time.Duration

	// OriginateRate paces attempts per second across all workers; zero
	// disables pacing. OriginateBurst is the limiter burst size.
	OriginateRate  float64
	OriginateBurst int

	// Policy decides job dispositions after each attempt.
	Policy retry.Policy
}

// Scheduler is the per-process control loop. Multiple scheduler processes
// may share the same spool root: the rename-based claim in the manager is
// the only synchronization between them.
type Scheduler struct {
	spool      *spool.Manager
	originator originate.Originator
	wake       watch.Source
	policy     retry.Policy

	sem          *semaphore.Weighted
	limiter      *rate.Limiter
	pollInterval time.Duration

	logger  *slog.Logger
	metrics *observability.DispatchMetrics

	// kick wakes the control loop early, e.g. when a worker finishes and
	// frees an admission slot.
	kick chan struct{}
	wg   sync.WaitGroup
	done chan struct{}
}

// New creates a scheduler. metrics may be nil to disable counters.
func New(m *spool.Manager, o originate.Originator, wake watch.Source, cfg Config, logger *slog.Logger, metrics *observability.DispatchMetrics) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = watch.DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.OriginateRate > 0 {
		burst := cfg.OriginateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.OriginateRate), burst)
	}

	return &Scheduler{
		spool:        m,
		originator:   o,
		wake:         wake,
		policy:       cfg.Policy,
		sem:          semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		limiter:      limiter,
		pollInterval: cfg.PollInterval,
		logger:       logger,
		metrics:      metrics,
		kick:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Run starts the control loop. It blocks until the context is cancelled,
// then stops claiming and lets in-flight attempts drain.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("dispatch scheduler starting", "spool_root", s.spool.Root())

	s.recoverStranded(ctx)

	for {
		next, err := s.sweep(ctx)
		if err != nil {
			// Contained: scan again after backoff, do not crash on a
			// single failed I/O.
			s.logger.Error("pending scan failed", "error", err)
			next = time.Now().Add(s.pollInterval)
		}

		if err := s.waitForWork(ctx, next); err != nil {
			s.logger.Info("scheduler stopping, draining in-flight attempts")
			s.wg.Wait()
			close(s.done)
			return err
		}
	}
}

// Done returns a channel that is closed once Run has fully drained.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// sweep claims and dispatches every due pending job. It returns the
// earliest future NotBefore among the jobs it skipped, as the deadline for
// the next wake-up (zero when nothing is scheduled).
func (s *Scheduler) sweep(ctx context.Context) (time.Time, error) {
	now := time.Now()

	ids, err := s.spool.ListIDs(spool.BinPending)
	if err != nil {
		return time.Time{}, err
	}

	var next time.Time
	for _, id := range ids {
		job, err := s.spool.Load(spool.BinPending, id)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// Deleted externally or claimed by another scheduler
				// between listing and reading.
				continue
			}
			var decodeErr *spool.DecodeError
			if errors.As(err, &decodeErr) {
				s.quarantine(ctx, spool.BinPending, id, decodeErr.Error())
				continue
			}
			s.logger.Warn("read pending job", "job_id", id, "error", err)
			continue
		}

		if !job.Eligible(now) {
			if next.IsZero() || job.NotBefore.Before(next) {
				next = job.NotBefore
			}
			continue
		}

		if !s.sem.TryAcquire(1) {
			// All attempt slots busy. A finishing worker kicks the loop
			// and the remaining due jobs are picked up then.
			break
		}

		if err := s.spool.Claim(id); err != nil {
			s.sem.Release(1)
			if errors.Is(err, spool.ErrClaimConflict) {
				s.metrics.RecordClaimConflict(ctx)
				s.logger.Debug("lost claim race", "job_id", id)
				continue
			}
			s.logger.Warn("claim failed", "job_id", id, "error", err)
			continue
		}

		// Re-read after the claim: the active copy is authoritative in
		// case the writer updated the file between scan and claim.
		claimed, err := s.spool.Load(spool.BinActive, id)
		if err != nil {
			s.sem.Release(1)
			var decodeErr *spool.DecodeError
			if errors.As(err, &decodeErr) {
				s.quarantine(ctx, spool.BinActive, id, decodeErr.Error())
			} else {
				s.logger.Warn("read claimed job", "job_id", id, "error", err)
			}
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sem.Release(1)
			defer s.kickNow()
			s.runJob(ctx, claimed)
		}()
	}

	return next, nil
}

// waitForWork blocks until the wake source fires, a worker kicks the loop,
// or the context is cancelled (the only case that returns an error).
func (s *Scheduler) waitForWork(ctx context.Context, deadline time.Time) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- s.wake.Wait(wctx, deadline)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.kick:
		cancel()
		<-waitErr
		return nil
	case err := <-waitErr:
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	}
}

func (s *Scheduler) kickNow() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// quarantine moves an undecodable job file aside so it cannot loop
// forever.
func (s *Scheduler) quarantine(ctx context.Context, bin spool.Bin, id, reason string) {
	err := s.spool.Quarantine(bin, id, reason)
	if errors.Is(err, spool.ErrClaimConflict) {
		return
	}
	if err != nil {
		s.logger.Error("quarantine failed", "job_id", id, "error", err)
		return
	}
	s.metrics.RecordQuarantine(ctx)
	s.logger.Warn("job quarantined", "job_id", id, "reason", reason)
}

// recoverStranded handles jobs left in the active bin by a crash between
// claim and disposition: each is treated as a transient failure and re-run
// through the retry policy, bounded by its retry budget like any other
// transient outcome.
func (s *Scheduler) recoverStranded(ctx context.Context) {
	ids, err := s.spool.ListIDs(spool.BinActive)
	if err != nil {
		s.logger.Error("startup sweep of active bin failed", "error", err)
		return
	}

	now := time.Now()
	for _, id := range ids {
		job, err := s.spool.Load(spool.BinActive, id)
		if err != nil {
			var decodeErr *spool.DecodeError
			if errors.As(err, &decodeErr) {
				s.quarantine(ctx, spool.BinActive, id, decodeErr.Error())
			} else if !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("read stranded job", "job_id", id, "error", err)
			}
			continue
		}

		disposition := s.policy.Decide(job, spool.OutcomeTransient, now)
		job.Attempts++
		job.AddHistory(now, "recovered from active bin at startup, counted as transient failure")
		s.logger.Info("recovering stranded job", "job_id", id, "attempts", job.Attempts)
		s.apply(ctx, job, disposition)
	}
}
