package spool

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Bin is a named durable container holding job files in one lifecycle
// state.
type Bin string

const (
	// BinPending holds jobs awaiting dispatch.
	BinPending Bin = "pending"
	// BinActive holds jobs claimed by a scheduler, attempt in flight.
	BinActive Bin = "active"
	// BinArchive holds jobs that completed successfully.
	BinArchive Bin = "archive"
	// BinFailed holds jobs that exhausted retries, hit a permanent
	// failure, or could not be decoded.
	BinFailed Bin = "failed"
)

// Bins lists all bins in a stable order.
var Bins = []Bin{BinPending, BinActive, BinArchive, BinFailed}

// ErrClaimConflict is returned when a claim loses the race to another
// scheduler instance. It is not a failure; callers skip and continue.
var ErrClaimConflict = errors.New("job already claimed elsewhere")

// tmpSuffix marks half-written files produced by atomic rewrites.
// Listings skip them.
const tmpSuffix = ".tmp"

// Manager owns the four spool bins under a single root directory and
// performs all bin-to-bin moves. Every move is a single rename, so
// multiple Manager instances (in separate processes) can safely share the
// same root: rename-based claiming is inherently race-free and needs no
// lock files.
type Manager struct {
	root   string
	logger *slog.Logger
}

// NewManager creates the bin directories under root if needed. A root that
// cannot be created is the one unrecoverable storage failure and is
// surfaced to the caller.
func NewManager(root string, logger *slog.Logger) (*Manager, error) {
	if root == "" {
		return nil, errors.New("spool root is required")
	}
	for _, bin := range Bins {
		if err := os.MkdirAll(filepath.Join(root, string(bin)), 0o755); err != nil {
			return nil, fmt.Errorf("create spool bin %s: %w", bin, err)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{root: root, logger: logger}, nil
}

// Root returns the spool root path.
func (m *Manager) Root() string { return m.root }

// Dir returns the directory backing a bin.
func (m *Manager) Dir(bin Bin) string {
	return filepath.Join(m.root, string(bin))
}

func (m *Manager) path(bin Bin, id string) string {
	return filepath.Join(m.root, string(bin), id)
}

// ListIDs enumerates job file names in a bin, sorted for stable iteration.
// Half-written temp files and dotfiles are skipped.
func (m *Manager) ListIDs(bin Bin) ([]string, error) {
	entries, err := os.ReadDir(m.Dir(bin))
	if err != nil {
		return nil, fmt.Errorf("list %s bin: %w", bin, err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, tmpSuffix) {
			continue
		}
		ids = append(ids, name)
	}
	sort.Strings(ids)
	return ids, nil
}

// Load reads and decodes one job from a bin. A *DecodeError means the file
// content is malformed; fs.ErrNotExist means the file vanished (deleted
// externally or moved by another scheduler) and the caller should skip it.
func (m *Manager) Load(bin Bin, id string) (*Job, error) {
	data, err := os.ReadFile(m.path(bin, id))
	if err != nil {
		return nil, err
	}
	job, err := Decode(data)
	if err != nil {
		return nil, err
	}
	job.ID = id
	return job, nil
}

// Enqueue writes a new job into the pending bin. The content lands under a
// temp name first and is renamed into place so a concurrent scanner never
// observes a partial file.
func (m *Manager) Enqueue(job *Job) error {
	if job.ID == "" {
		return errors.New("enqueue: job has no ID")
	}
	return m.write(BinPending, job)
}

// Claim atomically moves a pending job to the active bin, granting this
// scheduler exclusive ownership. If the source no longer exists another
// scheduler won the race and ErrClaimConflict is returned.
func (m *Manager) Claim(id string) error {
	err := os.Rename(m.path(BinPending, id), m.path(BinActive, id))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrClaimConflict
	}
	if err != nil {
		return fmt.Errorf("claim %s: %w", id, err)
	}
	return nil
}

// Archive records the job's final state and moves it from active to the
// archive bin: terminal success.
func (m *Manager) Archive(job *Job) error {
	return m.finish(job, BinArchive)
}

// Fail records the job's final state and moves it from active to the
// failed bin: retries exhausted or permanent failure. The reason is
// expected to already be in the job's history.
func (m *Manager) Fail(job *Job) error {
	return m.finish(job, BinFailed)
}

// Requeue rewrites the job (new NotBefore, bumped attempt count) within
// the active bin and then renames it back to pending. The rewrite happens
// via temp-file-then-rename inside active, so any external scanner of the
// pending bin only ever sees complete content.
func (m *Manager) Requeue(job *Job) error {
	return m.finish(job, BinPending)
}

func (m *Manager) finish(job *Job, dest Bin) error {
	if err := m.write(BinActive, job); err != nil {
		return err
	}
	if err := os.Rename(m.path(BinActive, job.ID), m.path(dest, job.ID)); err != nil {
		return fmt.Errorf("move %s to %s: %w", job.ID, dest, err)
	}
	return nil
}

// Quarantine moves an undecodable job file from bin to failed and appends
// a decode-error note as a comment, preventing a poison-pill job from
// looping forever. Losing the move race to another scheduler yields
// ErrClaimConflict.
func (m *Manager) Quarantine(bin Bin, id, reason string) error {
	err := os.Rename(m.path(bin, id), m.path(BinFailed, id))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrClaimConflict
	}
	if err != nil {
		return fmt.Errorf("quarantine %s: %w", id, err)
	}

	// Best effort: the file is already safely in failed, the note is
	// diagnostics only.
	path := m.path(BinFailed, id)
	data, err := os.ReadFile(path)
	if err != nil {
		m.logger.Warn("quarantine: annotate failed", "job_id", id, "error", err)
		return nil
	}
	note := fmt.Sprintf("; quarantined %s: %s\n", time.Now().UTC().Format(time.RFC3339), reason)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		note = "\n" + note
	}
	if err := m.writeRaw(BinFailed, id, append(data, note...)); err != nil {
		m.logger.Warn("quarantine: annotate failed", "job_id", id, "error", err)
	}
	return nil
}

// Replay moves a failed job back to pending with its attempt counter
// reset, for operator-driven retry of dead-lettered work.
func (m *Manager) Replay(id string, now time.Time) (*Job, error) {
	job, err := m.Load(BinFailed, id)
	if err != nil {
		return nil, err
	}
	job.Attempts = 0
	job.NotBefore = time.Time{}
	job.AddHistory(now, "replayed from failed bin")
	if err := m.write(BinFailed, job); err != nil {
		return nil, err
	}
	if err := os.Rename(m.path(BinFailed, id), m.path(BinPending, id)); err != nil {
		return nil, fmt.Errorf("replay %s: %w", id, err)
	}
	return job, nil
}

// write serializes the job into bin atomically: temp file in the same
// directory, fsync, rename over the final name.
func (m *Manager) write(bin Bin, job *Job) error {
	return m.writeRaw(bin, job.ID, Encode(job))
}

func (m *Manager) writeRaw(bin Bin, id string, data []byte) error {
	dir := m.Dir(bin)
	tmp, err := os.CreateTemp(dir, "."+id+"-*"+tmpSuffix)
	if err != nil {
		return fmt.Errorf("write %s: %w", id, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", id, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", id, err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, id)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", id, err)
	}
	return nil
}
