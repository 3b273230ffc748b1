package octaviadb

import (
	"log/slog"
	"time"
)

// DefaultAutoCommit is the auto-commit interval used when WithAutoCommit is
// not given.
const DefaultAutoCommit = 10 * time.Second

// IDField is the record field set by AssignID.
const IDField = "_id"

// Option configures a Database.
type Option func(*dbOptions)

type dbOptions struct {
	autoCommit time.Duration
	logger     *slog.Logger
}

// WithAutoCommit sets how often every entity commits pending mutations in the
// background. Zero disables background commits.
func WithAutoCommit(d time.Duration) Option {
	return func(o *dbOptions) { o.autoCommit = d }
}

// WithLogger sets the logger used for background activity. It defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *dbOptions) { o.logger = l }
}

// EntityOption configures a Collection or Document when it is opened.
type EntityOption func(*entityOptions)

type entityOptions struct {
	encrypt bool
	schema  Schema
}

func newEntityOptions(opts []EntityOption) *entityOptions {
	o := &entityOptions{encrypt: true}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Encrypted selects whether the entity file is sealed with the database
// password. Entities are encrypted by default.
func Encrypted(b bool) EntityOption {
	return func(o *entityOptions) { o.encrypt = b }
}

// DefaultSchema validates every value written to the entity.
func DefaultSchema(s Schema) EntityOption {
	return func(o *entityOptions) { o.schema = s }
}

// WriteOption configures a single mutation.
type WriteOption func(*writeOptions)

type writeOptions struct {
	commit   bool
	schema   Schema
	assignID bool
}

func newWriteOptions(def Schema, opts []WriteOption) *writeOptions {
	o := &writeOptions{schema: def}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CommitNow commits the entity right after the mutation instead of waiting
// for an explicit or background commit.
func CommitNow() WriteOption {
	return func(o *writeOptions) { o.commit = true }
}

// ValidateWith validates the written values against s. It overrides the
// entity's DefaultSchema for this call.
func ValidateWith(s Schema) WriteOption {
	return func(o *writeOptions) { o.schema = s }
}

// AssignID sets IDField on inserted records that lack it, using a sortable
// unique identifier.
func AssignID() WriteOption {
	return func(o *writeOptions) { o.assignID = true }
}
