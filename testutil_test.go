package octaviadb

import (
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
)

const testPassword = "correct horse battery staple"

// openTestDB opens a database in a temporary directory with background
// commits disabled unless opts say otherwise.
func openTestDB(t *testing.T, opts ...Option) *Database {
	t.Helper()
	return openTestDBAt(t, filepath.Join(t.TempDir(), "db"), testPassword, opts...)
}

func openTestDBAt(t *testing.T, dir, password string, opts ...Option) *Database {
	t.Helper()
	all := append([]Option{WithAutoCommit(0), WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	db, err := Open(dir, password, all...)
	if err != nil {
		t.Fatalf("Open(%q) failed: %v", dir, err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// errCode returns the code of err, or "" when err is not an *Error.
func errCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code()
	}
	return ""
}
