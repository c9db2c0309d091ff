// Package originate abstracts the external capability that actually
// places a call attempt. The engine only ever sees the classified outcome;
// signaling, audio and everything telephony-shaped live behind this
// boundary.
package originate

import (
	"context"

	"callspool/internal/spool"
)

// Result is one attempt's classified outcome plus a human-readable detail
// for the job's history log.
type Result struct {
	Outcome spool.Outcome
	Detail  string
}

// Originator places a single call attempt. Implementations are stateless
// beyond the attempt; all persistent state lives in the job and is written
// back by the scheduler.
type Originator interface {
	// Attempt invokes the origination capability with the job's target,
	// bounded by the implementation's per-attempt timeout. It never
	// returns an error: every failure mode is folded into the outcome
	// classification.
	Attempt(ctx context.Context, job *spool.Job) Result
}

// Func adapts a plain function to the Originator interface, mainly for
// tests.
type Func func(ctx context.Context, job *spool.Job) Result

// Attempt implements Originator.
func (f Func) Attempt(ctx context.Context, job *spool.Job) Result {
	return f(ctx, job)
}
