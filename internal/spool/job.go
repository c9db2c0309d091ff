// Package spool contains the durable on-disk job store for outbound call
// dispatch. Jobs are plain text files; the directory (bin) a file lives in
// is the sole source of truth for its lifecycle state.
package spool

import (
	"fmt"
	"time"
)

// SuccessPolicy controls what happens to a job after a successful
// origination attempt.
type SuccessPolicy string

const (
	// SuccessArchive removes the job from active rotation after a
	// successful attempt.
	SuccessArchive SuccessPolicy = "archive"

	// SuccessRequeue treats a successful attempt like a retryable outcome
	// and schedules another attempt.
	SuccessRequeue SuccessPolicy = "requeue"
)

// Outcome is the classified result of one origination attempt.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeTransient Outcome = "transient"
	OutcomePermanent Outcome = "permanent"
)

// Job is the unit of work: one outbound call to place, with its retry
// bookkeeping. ID is derived from the filename and is not serialized.
type Job struct {
	ID string

	// Target of the call. Channel is the destination identifier;
	// Application and Data name what to run once the call is answered.
	// All three are opaque to the engine and interpreted by the external
	// origination command.
	Channel     string
	Application string
	Data        string

	// CreatedAt is set on first write and never mutated.
	CreatedAt time.Time

	// NotBefore gates eligibility: the job is not dispatched before this
	// instant. The zero value means immediately eligible.
	NotBefore time.Time

	// Attempts counts completed origination attempts. It only increases,
	// exactly once per completed attempt, atomically with the file
	// rewrite that records the attempt.
	Attempts int

	// MaxRetries is the ceiling on attempts before the job is failed.
	MaxRetries int

	// RetryInterval is added to "now" to compute the next NotBefore after
	// a non-terminal outcome.
	RetryInterval time.Duration

	// OnSuccess selects the disposition of a successful attempt.
	OnSuccess SuccessPolicy

	// History is an append-only log of outcome notes, diagnostics only.
	// The engine never reads it back for control decisions.
	History []string

	// Extra holds unrecognized keys from the job file so that rewriting
	// a job does not drop fields written by newer producers.
	Extra map[string]string
}

// AddHistory appends a timestamped diagnostic note.
func (j *Job) AddHistory(now time.Time, note string) {
	j.History = append(j.History, now.UTC().Format(time.RFC3339)+" "+note)
}

// Eligible reports whether the job may be dispatched at the given instant.
func (j *Job) Eligible(now time.Time) bool {
	return !j.NotBefore.After(now)
}

func (j *Job) String() string {
	return fmt.Sprintf("job %s channel=%s attempts=%d/%d", j.ID, j.Channel, j.Attempts, j.MaxRetries)
}
