package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"callspool/internal/logger"
	"callspool/internal/retry"
	"callspool/internal/spool"
)

// runJob is one worker: a single claimed job, a single origination
// attempt, and the bookkeeping that follows. All persistent state lives in
// the job file; the worker itself is stateless.
func (s *Scheduler) runJob(ctx context.Context, job *spool.Job) {
	ctx = logger.WithJobID(ctx, job.ID)
	log := logger.FromContext(ctx, s.logger)

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			// Shutdown interrupted the pacing wait. The job stays in the
			// active bin and the next startup sweep recovers it.
			log.Warn("pacing interrupted, job left for startup recovery", "error", err)
			return
		}
	}

	tracer := otel.Tracer("callspool-dispatch")
	// The attempt context is detached from the control loop's so that a
	// graceful shutdown lets the call run to completion or its own
	// timeout.
	attemptCtx, span := tracer.Start(context.Background(), "originate_attempt",
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.channel", job.Channel),
			attribute.Int("job.attempt", job.Attempts+1),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	log.Info("originating call", "channel", job.Channel, "attempt", job.Attempts+1)
	result := s.originator.Attempt(attemptCtx, job)
	now := time.Now()

	span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
	s.metrics.RecordAttempt(ctx, string(result.Outcome))

	disposition := s.policy.Decide(job, result.Outcome, now)
	job.Attempts++
	job.AddHistory(now, fmt.Sprintf("attempt %d: %s (%s)", job.Attempts, result.Outcome, result.Detail))

	s.apply(ctx, job, disposition)
}

// apply moves the job to the bin the disposition names, rewriting its
// bookkeeping in the same atomic step. A failed move leaves the job in the
// active bin for startup recovery; it never aborts the control loop.
func (s *Scheduler) apply(ctx context.Context, job *spool.Job, d retry.Disposition) {
	log := s.logger.With("job_id", job.ID)

	var err error
	switch d.Kind {
	case retry.Archive:
		err = s.spool.Archive(job)
		if err == nil {
			log.Info("job archived", "attempts", job.Attempts)
		}
	case retry.Retry:
		job.NotBefore = d.NotBefore
		err = s.spool.Requeue(job)
		if err == nil {
			log.Info("job rescheduled", "not_before", d.NotBefore.Format(time.RFC3339), "attempts", job.Attempts)
		}
	case retry.Fail:
		job.AddHistory(time.Now(), "EndRetry: "+d.Reason)
		err = s.spool.Fail(job)
		if err == nil {
			log.Warn("job failed", "reason", d.Reason, "attempts", job.Attempts)
		}
	}

	if err != nil {
		log.Error("apply disposition", "disposition", d.Kind.String(), "error", err)
		return
	}
	s.metrics.RecordDisposition(ctx, d.Kind.String())
}
