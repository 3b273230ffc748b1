package octaviadb

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/maruel/octaviadb/internal/envelope"
	"github.com/maruel/octaviadb/internal/fsutil"
)

// shape describes the in-memory container held by an entity.
type shape[C any] struct {
	// empty returns a fresh empty container.
	empty func() C
	// count returns the number of records or keys.
	count func(C) int
	// check rejects a decoded container that cannot be used as is.
	check func(C) error
}

// entity owns one file and its in-memory cache.
//
// The cache is authoritative while the entity is usable; the file reflects
// the cache as of the last successful commit.
type entity[C any] struct {
	db      *Database
	name    string
	path    string
	encrypt bool
	schema  Schema
	shape   shape[C]
	log     *slog.Logger

	mu           sync.RWMutex
	cache        C
	dirty        bool
	state        ErrorCode // Empty while usable, otherwise CodeDeleted or CodeClosed.
	commits      int
	autoFailures int
	lastAutoErr  error
	failureLog   rate.Sometimes

	schedMu  sync.Mutex
	sched    *scheduler
	schedOff bool // Set once the entity is deleted or closed.
}

// EntityInfo describes an entity and its file.
type EntityInfo struct {
	Database            string    `json:"database" yaml:"database"`
	DatabasePath        string    `json:"database_path" yaml:"database_path"`
	Name                string    `json:"name" yaml:"name"`
	Path                string    `json:"path" yaml:"path"`
	Encrypted           bool      `json:"encrypted" yaml:"encrypted"`
	Size                int64     `json:"size" yaml:"size"`
	Modified            time.Time `json:"modified" yaml:"modified"`
	Records             int       `json:"records" yaml:"records"`
	Dirty               bool      `json:"dirty" yaml:"dirty"`
	Commits             int       `json:"commits" yaml:"commits"`
	AutoCommitFailures  int       `json:"auto_commit_failures" yaml:"auto_commit_failures"`
	LastAutoCommitError string    `json:"last_auto_commit_error,omitempty" yaml:"last_auto_commit_error,omitempty"`
}

func (e *entity[C]) open(db *Database, name, path string, o *entityOptions, s shape[C]) error {
	e.db = db
	e.name = name
	e.path = path
	e.encrypt = o.encrypt
	e.schema = o.schema
	e.shape = s
	e.log = db.log.With("entity", name)
	e.failureLog.First = 1
	e.failureLog.Interval = time.Minute
	e.cache = s.empty()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// The empty container is persisted so the file exists from now on.
		if err := e.persistLocked(); err != nil {
			return err
		}
		e.log.Debug("created entity", "path", path, "encrypted", e.encrypt)
	case err != nil:
		return ioError("read", path, err)
	default:
		c, err := e.decode(data)
		if err != nil {
			return err
		}
		e.cache = c
		e.log.Debug("loaded entity", "path", path, "encrypted", e.encrypt, "records", s.count(c))
	}
	e.startScheduler()
	return nil
}

func (e *entity[C]) decode(data []byte) (C, error) {
	var c C
	var err error
	if e.encrypt {
		err = envelope.Open(data, e.db.password, &c)
	} else {
		err = envelope.Unmarshal(data, &c)
	}
	if err != nil {
		return c, codecError(e.path, err)
	}
	if e.shape.count(c) == 0 {
		return e.shape.empty(), nil
	}
	if err := e.shape.check(c); err != nil {
		return c, codecError(e.path, err)
	}
	return c, nil
}

func (e *entity[C]) encode() ([]byte, error) {
	if e.encrypt {
		data, err := envelope.Seal(e.cache, e.db.password)
		if err != nil {
			return nil, codecError(e.path, err)
		}
		return data, nil
	}
	data, err := envelope.Marshal(e.cache)
	if err != nil {
		return nil, newError(CodeInvalidArgument, "failed to serialize %s", e.path).Wrap(err)
	}
	return data, nil
}

// persistLocked writes the cache to disk unconditionally.
func (e *entity[C]) persistLocked() error {
	data, err := e.encode()
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(e.path, data, 0o600); err != nil {
		return ioError("write", e.path, err)
	}
	e.commits++
	e.log.Debug("committed", "path", e.path, "bytes", len(data))
	return nil
}

func (e *entity[C]) commitLocked() error {
	if !e.dirty {
		return nil
	}
	if err := e.persistLocked(); err != nil {
		return err
	}
	e.dirty = false
	return nil
}

func (e *entity[C]) usableLocked() error {
	switch e.state {
	case "":
		return nil
	case CodeDeleted:
		return newError(CodeDeleted, "%s was deleted", e.name)
	default:
		return newError(CodeClosed, "%s is closed", e.name)
	}
}

// read runs fn with the read lock held.
func (e *entity[C]) read(fn func(c C) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.usableLocked(); err != nil {
		return err
	}
	return fn(e.cache)
}

// mutate runs fn with the write lock held. fn returns the new cache and
// whether anything changed.
func (e *entity[C]) mutate(o *writeOptions, fn func(c C) (C, bool, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usableLocked(); err != nil {
		return err
	}
	c, changed, err := fn(e.cache)
	if err != nil || !changed {
		return err
	}
	e.cache = c
	e.dirty = true
	if o.commit {
		return e.commitLocked()
	}
	return nil
}

// Name returns the entity name.
func (e *entity[C]) Name() string {
	return e.name
}

// Path returns the entity file path.
func (e *entity[C]) Path() string {
	return e.path
}

// Encrypted reports whether the entity file is sealed.
func (e *entity[C]) Encrypted() bool {
	return e.encrypt
}

// alive reports whether the entity is neither deleted nor closed.
func (e *entity[C]) alive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == ""
}

// Dirty reports whether the cache holds mutations not yet committed.
func (e *entity[C]) Dirty() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dirty
}

// Commit writes pending mutations to disk. It does nothing when the entity is
// not dirty. On failure the mutations stay pending.
func (e *entity[C]) Commit() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usableLocked(); err != nil {
		return err
	}
	return e.commitLocked()
}

// Info returns a snapshot of the entity state and its file metadata.
func (e *entity[C]) Info() (EntityInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.usableLocked(); err != nil {
		return EntityInfo{}, err
	}
	info := EntityInfo{
		Database:           e.db.name,
		DatabasePath:       e.db.root,
		Name:               e.name,
		Path:               e.path,
		Encrypted:          e.encrypt,
		Records:            e.shape.count(e.cache),
		Dirty:              e.dirty,
		Commits:            e.commits,
		AutoCommitFailures: e.autoFailures,
	}
	if e.lastAutoErr != nil {
		info.LastAutoCommitError = e.lastAutoErr.Error()
	}
	fi, err := os.Stat(e.path)
	if err != nil {
		return EntityInfo{}, ioError("stat", e.path, err)
	}
	info.Size = fi.Size()
	info.Modified = fi.ModTime()
	return info, nil
}

// Delete removes the entity file and discards the cache, including pending
// mutations. Later operations fail with ErrDeleted.
func (e *entity[C]) Delete() error {
	e.stopScheduler()
	e.mu.Lock()
	if err := e.usableLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	if err := fsutil.RemoveFile(e.path); err != nil {
		e.mu.Unlock()
		e.startScheduler()
		return ioError("delete", e.path, err)
	}
	e.invalidateLocked(CodeDeleted)
	e.mu.Unlock()
	e.db.forget(e.path)
	e.log.Debug("deleted entity", "path", e.path)
	return nil
}

// Close commits pending mutations and releases the entity. Later operations
// fail with ErrClosed. If the final commit fails the entity stays open.
func (e *entity[C]) Close() error {
	closed, err := e.shutdown()
	if closed {
		e.db.forget(e.path)
	}
	return err
}

// shutdown is Close without unregistering from the database. It reports
// whether this call moved the entity to the closed state.
func (e *entity[C]) shutdown() (bool, error) {
	e.stopScheduler()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != "" {
		return false, nil
	}
	if err := e.commitLocked(); err != nil {
		e.startScheduler()
		return false, err
	}
	e.invalidateLocked(CodeClosed)
	return true, nil
}

// invalidate marks the entity unusable without touching its file. The
// database uses it after removing its directory.
func (e *entity[C]) invalidate(code ErrorCode) {
	e.stopScheduler()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == "" {
		e.invalidateLocked(code)
	}
}

func (e *entity[C]) invalidateLocked(code ErrorCode) {
	e.state = code
	e.cache = e.shape.empty()
	e.dirty = false
	// Cancel without joining: a pending tick may be waiting on e.mu.
	e.schedMu.Lock()
	s := e.sched
	e.sched = nil
	e.schedOff = true
	e.schedMu.Unlock()
	if s != nil {
		s.cancel()
	}
}

func (e *entity[C]) startScheduler() {
	if e.db.autoCommit <= 0 {
		return
	}
	e.schedMu.Lock()
	defer e.schedMu.Unlock()
	if e.sched == nil && !e.schedOff {
		e.sched = startScheduler(e.db.autoCommit, e.autoCommit)
	}
}

func (e *entity[C]) stopScheduler() {
	e.schedMu.Lock()
	s := e.sched
	e.sched = nil
	e.schedMu.Unlock()
	s.stop()
}

// autoCommit is the scheduler tick. Failures are recorded and logged, never
// returned.
func (e *entity[C]) autoCommit() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != "" || !e.dirty {
		return
	}
	if err := e.commitLocked(); err != nil {
		e.autoFailures++
		e.lastAutoErr = err
		e.failureLog.Do(func() {
			e.log.Error("auto-commit failed", "path", e.path, "failures", e.autoFailures, "err", err)
		})
	}
}

// commitCount returns how many times the file was written.
func (e *entity[C]) commitCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.commits
}
