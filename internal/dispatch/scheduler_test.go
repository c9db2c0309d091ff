package dispatch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"callspool/internal/dispatch/originate"
	"callspool/internal/retry"
	"callspool/internal/spool"
	"callspool/internal/spool/watch"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// countingOriginator returns a fixed outcome and tracks invocations.
type countingOriginator struct {
	outcome spool.Outcome
	delay   time.Duration
	calls   atomic.Int32
}

func (o *countingOriginator) Attempt(ctx context.Context, job *spool.Job) originate.Result {
	o.calls.Add(1)
	if o.delay > 0 {
		time.Sleep(o.delay)
	}
	return originate.Result{Outcome: o.outcome, Detail: "test"}
}

// startScheduler runs the scheduler until the test ends.
func startScheduler(t *testing.T, m *spool.Manager, o originate.Originator, cfg Config) *Scheduler {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	wake := &watch.Poller{Interval: cfg.PollInterval}
	s := New(m, o, wake, cfg, testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		select {
		case <-s.Done():
		case <-time.After(5 * time.Second):
			t.Error("scheduler did not drain within 5s")
		}
	})
	return s
}

func newManager(t *testing.T) *spool.Manager {
	t.Helper()
	m, err := spool.NewManager(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func enqueue(t *testing.T, m *spool.Manager, job *spool.Job) *spool.Job {
	t.Helper()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Channel == "" {
		job.Channel = "GSM/2775551234"
	}
	if err := m.Enqueue(job); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return job
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func binHas(t *testing.T, m *spool.Manager, bin spool.Bin, id string) func() bool {
	t.Helper()
	return func() bool {
		_, err := os.Stat(filepath.Join(m.Dir(bin), id))
		return err == nil
	}
}

func TestRun_SuccessArchivesWithOneAttempt(t *testing.T) {
	m := newManager(t)
	o := &countingOriginator{outcome: spool.OutcomeSuccess}
	enqueue(t, m, &spool.Job{ID: "job-1", MaxRetries: 3, OnSuccess: spool.SuccessArchive})

	startScheduler(t, m, o, Config{MaxConcurrent: 2})

	waitFor(t, "job in archive bin", binHas(t, m, spool.BinArchive, "job-1"))

	job, err := m.Load(spool.BinArchive, "job-1")
	if err != nil {
		t.Fatalf("Load archived job: %v", err)
	}
	if job.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", job.Attempts)
	}
	if got := o.calls.Load(); got != 1 {
		t.Errorf("originator called %d times, want 1", got)
	}
}

func TestRun_TransientFailuresExhaustBudget(t *testing.T) {
	m := newManager(t)
	o := &countingOriginator{outcome: spool.OutcomeTransient}
	enqueue(t, m, &spool.Job{
		ID:            "job-1",
		MaxRetries:    2,
		RetryInterval: 10 * time.Millisecond,
		OnSuccess:     spool.SuccessArchive,
	})

	startScheduler(t, m, o, Config{MaxConcurrent: 2})

	waitFor(t, "job in failed bin", binHas(t, m, spool.BinFailed, "job-1"))

	job, err := m.Load(spool.BinFailed, "job-1")
	if err != nil {
		t.Fatalf("Load failed job: %v", err)
	}
	// maxRetries=2 allows the initial attempt plus two retries.
	if job.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", job.Attempts)
	}
	if got := o.calls.Load(); got != 3 {
		t.Errorf("originator called %d times, want 3", got)
	}
	last := job.History[len(job.History)-1]
	if !strings.Contains(last, "EndRetry") {
		t.Errorf("last history note = %q, want EndRetry marker", last)
	}
}

func TestRun_RequeueDivergence(t *testing.T) {
	m := newManager(t)
	o := &countingOriginator{outcome: spool.OutcomeSuccess}
	enqueue(t, m, &spool.Job{
		ID:            "job-1",
		MaxRetries:    2,
		RetryInterval: 5 * time.Millisecond,
		OnSuccess:     spool.SuccessRequeue,
	})

	startScheduler(t, m, o, Config{
		MaxConcurrent: 2,
		Policy:        retry.Policy{ExemptSuccessFromBudget: true},
	})

	// The job must keep cycling well past its nominal budget.
	waitFor(t, "at least 5 successful attempts", func() bool {
		return o.calls.Load() >= 5
	})

	ids, err := m.ListIDs(spool.BinArchive)
	if err != nil {
		t.Fatalf("ListIDs archive: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("requeue-policy job reached archive bin: %v", ids)
	}
	ids, err = m.ListIDs(spool.BinFailed)
	if err != nil {
		t.Fatalf("ListIDs failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("exempt requeue job reached failed bin: %v", ids)
	}
}

func TestRun_RequeueStillBoundedByBudgetByDefault(t *testing.T) {
	m := newManager(t)
	o := &countingOriginator{outcome: spool.OutcomeSuccess}
	enqueue(t, m, &spool.Job{
		ID:            "job-1",
		MaxRetries:    1,
		RetryInterval: 5 * time.Millisecond,
		OnSuccess:     spool.SuccessRequeue,
	})

	startScheduler(t, m, o, Config{MaxConcurrent: 2})

	waitFor(t, "job in failed bin", binHas(t, m, spool.BinFailed, "job-1"))

	job, err := m.Load(spool.BinFailed, "job-1")
	if err != nil {
		t.Fatalf("Load failed job: %v", err)
	}
	if job.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", job.Attempts)
	}
	last := job.History[len(job.History)-1]
	if !strings.Contains(last, "success") {
		t.Errorf("last history note = %q, want mention of the final successful outcome", last)
	}
}

func TestRun_NotBeforeIsRespected(t *testing.T) {
	m := newManager(t)
	o := &countingOriginator{outcome: spool.OutcomeSuccess}
	enqueue(t, m, &spool.Job{
		ID:        "job-1",
		NotBefore: time.Now().Add(time.Hour),
		OnSuccess: spool.SuccessArchive,
	})

	startScheduler(t, m, o, Config{MaxConcurrent: 2})

	// Several poll ticks fire; the job must stay untouched.
	time.Sleep(100 * time.Millisecond)

	if got := o.calls.Load(); got != 0 {
		t.Errorf("originator called %d times for a future job, want 0", got)
	}
	if !binHas(t, m, spool.BinPending, "job-1")() {
		t.Error("future job left the pending bin")
	}
}

func TestRun_FutureJobDispatchedWhenDue(t *testing.T) {
	m := newManager(t)
	o := &countingOriginator{outcome: spool.OutcomeSuccess}
	enqueue(t, m, &spool.Job{
		ID:        "job-1",
		NotBefore: time.Now().Add(50 * time.Millisecond),
		OnSuccess: spool.SuccessArchive,
	})

	startScheduler(t, m, o, Config{MaxConcurrent: 2})

	waitFor(t, "job in archive bin once due", binHas(t, m, spool.BinArchive, "job-1"))
}

func TestRun_RecoversStrandedActiveJob(t *testing.T) {
	m := newManager(t)

	// Simulate a crash between claim and disposition: a job file sitting
	// in the active bin at startup, with retry budget left.
	stranded := &spool.Job{
		ID:            "job-1",
		Channel:       "GSM/2775551234",
		CreatedAt:     time.Now().UTC(),
		MaxRetries:    3,
		RetryInterval: 5 * time.Millisecond,
		OnSuccess:     spool.SuccessArchive,
	}
	mustWriteFile(t, filepath.Join(m.Dir(spool.BinActive), "job-1"), spool.Encode(stranded))

	o := &countingOriginator{outcome: spool.OutcomeSuccess}
	startScheduler(t, m, o, Config{MaxConcurrent: 2})

	waitFor(t, "recovered job in archive bin", binHas(t, m, spool.BinArchive, "job-1"))

	job, err := m.Load(spool.BinArchive, "job-1")
	if err != nil {
		t.Fatalf("Load archived job: %v", err)
	}
	// One synthesized transient for the lost attempt, one real success.
	if job.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", job.Attempts)
	}
	found := false
	for _, note := range job.History {
		if strings.Contains(note, "recovered from active bin") {
			found = true
		}
	}
	if !found {
		t.Errorf("history missing recovery note: %v", job.History)
	}
}

func TestRun_StrandedJobWithExhaustedBudgetFails(t *testing.T) {
	m := newManager(t)

	stranded := &spool.Job{
		ID:         "job-1",
		Channel:    "GSM/2775551234",
		CreatedAt:  time.Now().UTC(),
		Attempts:   2,
		MaxRetries: 2,
		OnSuccess:  spool.SuccessArchive,
	}
	mustWriteFile(t, filepath.Join(m.Dir(spool.BinActive), "job-1"), spool.Encode(stranded))

	o := &countingOriginator{outcome: spool.OutcomeSuccess}
	startScheduler(t, m, o, Config{MaxConcurrent: 2})

	waitFor(t, "stranded job in failed bin", binHas(t, m, spool.BinFailed, "job-1"))

	if got := o.calls.Load(); got != 0 {
		t.Errorf("originator called %d times for an exhausted job, want 0", got)
	}
}

func TestRun_QuarantinesPoisonFile(t *testing.T) {
	m := newManager(t)
	mustWriteFile(t, filepath.Join(m.Dir(spool.BinPending), "poison"), []byte("garbage without separator\n"))

	o := &countingOriginator{outcome: spool.OutcomeSuccess}
	startScheduler(t, m, o, Config{MaxConcurrent: 2})

	waitFor(t, "poison file in failed bin", binHas(t, m, spool.BinFailed, "poison"))

	// The loop survives the poison pill and keeps dispatching.
	enqueue(t, m, &spool.Job{ID: "job-2", OnSuccess: spool.SuccessArchive})
	waitFor(t, "healthy job in archive bin", binHas(t, m, spool.BinArchive, "job-2"))

	if got := o.calls.Load(); got != 1 {
		t.Errorf("originator called %d times, want 1 (never for the poison file)", got)
	}
}

func TestRun_ConcurrencyIsBounded(t *testing.T) {
	m := newManager(t)

	var current, peak atomic.Int32
	o := originate.Func(func(ctx context.Context, job *spool.Job) originate.Result {
		cur := current.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		return originate.Result{Outcome: spool.OutcomeSuccess, Detail: "test"}
	})

	for _, id := range []string{"job-1", "job-2", "job-3", "job-4"} {
		enqueue(t, m, &spool.Job{ID: id, OnSuccess: spool.SuccessArchive})
	}

	startScheduler(t, m, o, Config{MaxConcurrent: 2})

	waitFor(t, "all jobs archived", func() bool {
		ids, err := m.ListIDs(spool.BinArchive)
		return err == nil && len(ids) == 4
	})

	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", p)
	}
}

func TestRun_GracefulDrain(t *testing.T) {
	m := newManager(t)
	o := &countingOriginator{outcome: spool.OutcomeSuccess, delay: 50 * time.Millisecond}
	enqueue(t, m, &spool.Job{ID: "job-1", OnSuccess: spool.SuccessArchive})

	wake := &watch.Poller{Interval: 10 * time.Millisecond}
	s := New(m, o, wake, Config{MaxConcurrent: 1}, testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	// Wait for the attempt to be in flight, then shut down mid-attempt.
	waitFor(t, "job claimed into active bin", binHas(t, m, spool.BinActive, "job-1"))
	cancel()

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not drain within 5s")
	}

	// The in-flight attempt must have completed and been archived.
	if !binHas(t, m, spool.BinArchive, "job-1")() {
		t.Error("in-flight job was not drained to the archive bin")
	}
}

func mustWriteFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
