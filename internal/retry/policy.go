// Package retry decides what happens to a job after an origination
// attempt. The policy is a pure function over the job's bookkeeping and
// the attempt outcome; it performs no I/O, which keeps it exhaustively
// testable.
package retry

import (
	"fmt"
	"time"

	"callspool/internal/spool"
)

// Kind enumerates the possible dispositions.
type Kind int

const (
	// Archive removes the job from active rotation: terminal success.
	Archive Kind = iota
	// Retry reschedules the job for another attempt at NotBefore.
	Retry
	// Fail moves the job to the failed bin: terminal failure.
	Fail
)

func (k Kind) String() string {
	switch k {
	case Archive:
		return "archive"
	case Retry:
		return "retry"
	case Fail:
		return "fail"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Disposition is the policy's decision about a job's next state.
type Disposition struct {
	Kind Kind

	// NotBefore is the earliest instant of the next attempt. Set only
	// when Kind is Retry.
	NotBefore time.Time

	// Reason is a human-readable explanation. Set only when Kind is Fail.
	Reason string
}

// Policy computes dispositions. The zero value counts every attempt,
// successful or not, against the retry budget.
type Policy struct {
	// ExemptSuccessFromBudget, when set, lets a requeue-policy job keep
	// cycling on successful attempts without consuming MaxRetries. The
	// budget then only applies to failures.
	ExemptSuccessFromBudget bool
}

// Decide maps (job, outcome) to a disposition. job.Attempts holds the
// number of attempts completed before the current one; the caller
// increments it when recording the attempt. Decide is total: every
// outcome/policy combination is defined.
func (p Policy) Decide(job *spool.Job, outcome spool.Outcome, now time.Time) Disposition {
	switch outcome {
	case spool.OutcomePermanent:
		return Disposition{Kind: Fail, Reason: "permanent failure"}

	case spool.OutcomeSuccess:
		if job.OnSuccess != spool.SuccessRequeue {
			return Disposition{Kind: Archive}
		}
		if !p.ExemptSuccessFromBudget && job.Attempts >= job.MaxRetries {
			return Disposition{
				Kind:   Fail,
				Reason: fmt.Sprintf("retry budget exhausted after %d attempts (last outcome: success)", job.Attempts+1),
			}
		}
		return Disposition{Kind: Retry, NotBefore: now.Add(job.RetryInterval)}

	default: // spool.OutcomeTransient and anything unrecognized
		if job.Attempts >= job.MaxRetries {
			return Disposition{
				Kind:   Fail,
				Reason: fmt.Sprintf("retry budget exhausted after %d attempts", job.Attempts+1),
			}
		}
		return Disposition{Kind: Retry, NotBefore: now.Add(job.RetryInterval)}
	}
}
