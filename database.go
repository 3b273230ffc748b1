package octaviadb

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/maruel/octaviadb/internal/fsutil"
)

// encSuffix is appended to the file name of encrypted entities.
const encSuffix = ".enc"

// Database is a directory holding one file per entity.
type Database struct {
	name       string
	root       string
	password   string
	autoCommit time.Duration
	log        *slog.Logger

	mu       sync.Mutex
	state    ErrorCode
	entities map[string]handle
}

// handle is the part of an entity the database drives.
type handle interface {
	Name() string
	shutdown() (bool, error)
	alive() bool
	invalidate(code ErrorCode)
}

// DatabaseInfo describes a database directory.
type DatabaseInfo struct {
	Name      string    `json:"name" yaml:"name"`
	Path      string    `json:"path" yaml:"path"`
	Modified  time.Time `json:"modified" yaml:"modified"`
	Files     []string  `json:"files" yaml:"files"`
	Size      int64     `json:"size" yaml:"size"`
	SizeHuman string    `json:"size_human" yaml:"size_human"`
}

// EntityRef names an entity file found in the database directory.
type EntityRef struct {
	Name      string `json:"name" yaml:"name"`
	Encrypted bool   `json:"encrypted" yaml:"encrypted"`
	Path      string `json:"path" yaml:"path"`
}

// Open opens the database stored in directory name, creating it if needed.
//
// The password seals every encrypted entity. It is only checked against
// existing files when an entity is opened.
func Open(name, password string, opts ...Option) (*Database, error) {
	if strings.TrimSpace(name) == "" {
		return nil, newError(CodeInvalidName, "database name is empty")
	}
	if strings.TrimSpace(password) == "" {
		return nil, newError(CodeInvalidPassword, "password is empty")
	}
	o := dbOptions{autoCommit: DefaultAutoCommit}
	for _, opt := range opts {
		opt(&o)
	}
	if o.autoCommit < 0 {
		return nil, newError(CodeInvalidArgument, "auto-commit interval must not be negative").WithDetail("interval", o.autoCommit.String())
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	root, err := filepath.Abs(name)
	if err != nil {
		return nil, newError(CodeInvalidName, "invalid database name %q", name).Wrap(err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, newError(CodeCreateFailed, "failed to create database directory %s", root).Wrap(err)
	}
	fi, err := os.Stat(root)
	if err != nil {
		return nil, newError(CodeCreateFailed, "failed to stat database directory %s", root).Wrap(err)
	}
	if !fi.IsDir() {
		return nil, newError(CodeCreateFailed, "%s is not a directory", root)
	}
	db := &Database{
		name:       filepath.Base(root),
		root:       root,
		password:   password,
		autoCommit: o.autoCommit,
		log:        o.logger.With("database", filepath.Base(root)),
		entities:   map[string]handle{},
	}
	db.log.Debug("opened database", "path", root, "auto_commit", o.autoCommit)
	return db, nil
}

// Name returns the base name of the database directory.
func (db *Database) Name() string {
	return db.name
}

// Path returns the absolute path of the database directory.
func (db *Database) Path() string {
	return db.root
}

// Collection opens the named collection, creating its file if needed.
//
// Opening the same name and encryption twice returns the same instance.
func (db *Database) Collection(name string, opts ...EntityOption) (*Collection, error) {
	o := newEntityOptions(opts)
	db.mu.Lock()
	defer db.mu.Unlock()
	path, err := db.lookupLocked(name, o.encrypt)
	if err != nil {
		return nil, err
	}
	if h, ok := db.entities[path]; ok && h.alive() {
		c, ok := h.(*Collection)
		if !ok {
			return nil, newError(CodeInvalidArgument, "%s is open as a document", name)
		}
		return c, nil
	}
	c := &Collection{}
	if err := c.open(db, name, path, o, collectionShape); err != nil {
		return nil, err
	}
	db.entities[path] = c
	return c, nil
}

// Document opens the named document, creating its file if needed.
//
// Opening the same name and encryption twice returns the same instance.
func (db *Database) Document(name string, opts ...EntityOption) (*Document, error) {
	o := newEntityOptions(opts)
	db.mu.Lock()
	defer db.mu.Unlock()
	path, err := db.lookupLocked(name, o.encrypt)
	if err != nil {
		return nil, err
	}
	if h, ok := db.entities[path]; ok && h.alive() {
		d, ok := h.(*Document)
		if !ok {
			return nil, newError(CodeInvalidArgument, "%s is open as a collection", name)
		}
		return d, nil
	}
	d := &Document{}
	if err := d.open(db, name, path, o, documentShape); err != nil {
		return nil, err
	}
	db.entities[path] = d
	return d, nil
}

// Exists reports whether the entity file exists.
func (db *Database) Exists(name string, encrypted bool) bool {
	if checkEntityName(name) != nil {
		return false
	}
	return fsutil.Exists(db.entityPath(name, encrypted))
}

// Entities lists the entity files in the database directory, sorted by name.
func (db *Database) Entities() ([]EntityRef, error) {
	if err := db.check(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(db.root)
	if err != nil {
		return nil, ioError("list", db.root, err)
	}
	var out []EntityRef
	for _, e := range entries {
		n := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(n, ".") || strings.HasSuffix(n, fsutil.TmpSuffix) {
			continue
		}
		ref := EntityRef{Name: n, Path: filepath.Join(db.root, n)}
		if base, ok := strings.CutSuffix(n, encSuffix); ok {
			ref.Name = base
			ref.Encrypted = true
		}
		out = append(out, ref)
	}
	slices.SortFunc(out, func(a, b EntityRef) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		if a.Encrypted == b.Encrypted {
			return 0
		}
		if a.Encrypted {
			return 1
		}
		return -1
	})
	return out, nil
}

// Info returns the directory metadata.
func (db *Database) Info() (DatabaseInfo, error) {
	if err := db.check(); err != nil {
		return DatabaseInfo{}, err
	}
	u, err := fsutil.Usage(db.root)
	if err != nil {
		return DatabaseInfo{}, ioError("stat", db.root, err)
	}
	return DatabaseInfo{
		Name:      db.name,
		Path:      db.root,
		Modified:  u.Modified,
		Files:     u.Files,
		Size:      u.Size,
		SizeHuman: humanize.IBytes(uint64(u.Size)),
	}, nil
}

// Delete removes the database directory. Every entity opened from it fails
// with ErrDeleted afterwards, and so does the database.
func (db *Database) Delete() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.checkLocked(); err != nil {
		return err
	}
	for _, h := range db.entities {
		h.invalidate(CodeDeleted)
	}
	clear(db.entities)
	db.state = CodeDeleted
	if err := os.RemoveAll(db.root); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ioError("delete", db.root, err)
	}
	db.log.Debug("deleted database", "path", db.root)
	return nil
}

// Close commits and closes every open entity. Entities that fail to commit
// stay open and the errors are returned joined.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.state != "" {
		return nil
	}
	var errs []error
	for path, h := range db.entities {
		if _, err := h.shutdown(); err != nil {
			errs = append(errs, err)
			continue
		}
		delete(db.entities, path)
	}
	if len(errs) != 0 {
		return errors.Join(errs...)
	}
	db.state = CodeClosed
	return nil
}

// forget drops the entity registered at path once it is deleted or closed.
func (db *Database) forget(path string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if h, ok := db.entities[path]; ok && !h.alive() {
		delete(db.entities, path)
	}
}

func (db *Database) check() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.checkLocked()
}

func (db *Database) checkLocked() error {
	switch db.state {
	case "":
		return nil
	case CodeDeleted:
		return newError(CodeDeleted, "database %s was deleted", db.name)
	default:
		return newError(CodeClosed, "database %s is closed", db.name)
	}
}

func (db *Database) lookupLocked(name string, encrypted bool) (string, error) {
	if err := db.checkLocked(); err != nil {
		return "", err
	}
	if err := checkEntityName(name); err != nil {
		return "", err
	}
	return db.entityPath(name, encrypted), nil
}

func (db *Database) entityPath(name string, encrypted bool) string {
	if encrypted {
		name += encSuffix
	}
	return filepath.Join(db.root, name)
}

// checkEntityName rejects names that would escape the database directory or
// collide with temporary and encrypted file names.
func checkEntityName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return newError(CodeInvalidName, "entity name is empty")
	case strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0):
		return newError(CodeInvalidName, "entity name %q contains a path separator", name)
	case strings.HasPrefix(name, "."):
		return newError(CodeInvalidName, "entity name %q starts with a dot", name)
	case strings.HasSuffix(name, encSuffix) || strings.HasSuffix(name, fsutil.TmpSuffix):
		return newError(CodeInvalidName, "entity name %q uses a reserved suffix", name)
	}
	return nil
}
