package octaviadb

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/maruel/octaviadb/internal/envelope"
)

func TestEntityCreate(t *testing.T) {
	db := openTestDB(t)
	c, err := db.Collection("users", Encrypted(false))
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(c.Path())
	if err != nil {
		t.Fatalf("file not created on open: %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("new collection file = %q, want []", data)
	}
	d, err := db.Document("settings", Encrypted(false))
	if err != nil {
		t.Fatal(err)
	}
	if data, err = os.ReadFile(d.Path()); err != nil || string(data) != "{}" {
		t.Errorf("new document file = %q, %v, want {}", data, err)
	}
	if c.Dirty() || d.Dirty() {
		t.Error("new entities are dirty")
	}
	if c.Name() != "users" || c.Encrypted() {
		t.Errorf("Name() = %q Encrypted() = %t", c.Name(), c.Encrypted())
	}
}

func TestEntityRoundTrip(t *testing.T) {
	for _, encrypted := range []bool{true, false} {
		name := "plain"
		if encrypted {
			name = "encrypted"
		}
		t.Run(name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "db")
			db := openTestDBAt(t, dir, testPassword)
			c, err := db.Collection("items", Encrypted(encrypted))
			if err != nil {
				t.Fatal(err)
			}
			recs := []Record{
				{"id": 1, "tags": []string{"x", "y"}},
				{"id": 2, "nested": map[string]any{"ok": true, "v": nil}},
				{"id": 3, "name": "third"},
			}
			if err := c.InsertMany(recs, CommitNow()); err != nil {
				t.Fatal(err)
			}
			if c.Dirty() {
				t.Error("dirty after CommitNow")
			}

			db2 := openTestDBAt(t, dir, testPassword)
			c2, err := db2.Collection("items", Encrypted(encrypted))
			if err != nil {
				t.Fatal(err)
			}
			got, err := c2.All()
			if err != nil {
				t.Fatal(err)
			}
			want := []Record{
				{"id": 1.0, "tags": []any{"x", "y"}},
				{"id": 2.0, "nested": map[string]any{"ok": true, "v": nil}},
				{"id": 3.0, "name": "third"},
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("reloaded records mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEntityPlainFormat(t *testing.T) {
	db := openTestDB(t)
	d, err := db.Document("settings", Encrypted(false))
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Set("theme", "dark", CommitNow()); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(d.Path())
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("plain file is not JSON: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"theme": "dark"}, got); diff != "" {
		t.Errorf("plain file mismatch (-want +got):\n%s", diff)
	}
}

func TestEntityEncryptedFormat(t *testing.T) {
	db := openTestDB(t)
	d, err := db.Document("secrets")
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Set("token", "hunter2", CommitNow()); err != nil {
		t.Fatal(err)
	}
	if filepath.Ext(d.Path()) != ".enc" {
		t.Errorf("Path() = %q, want .enc suffix", d.Path())
	}
	data, err := os.ReadFile(d.Path())
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := envelope.Open(data, testPassword, &got); err != nil {
		t.Fatalf("envelope.Open() failed: %v", err)
	}
	if got["token"] != "hunter2" {
		t.Errorf("decrypted content = %v", got)
	}
}

func TestEntityWrongPassword(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	db := openTestDBAt(t, dir, "password one")
	c, err := db.Collection("users")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Insert(Record{"id": 1}, CommitNow()); err != nil {
		t.Fatal(err)
	}

	db2 := openTestDBAt(t, dir, "password two")
	_, err = db2.Collection("users")
	if !errors.Is(err, ErrIncorrectPassword) {
		t.Fatalf("Collection() error = %v, want ErrIncorrectPassword", err)
	}
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("incorrect password error does not match ErrDecryptionFailed: %v", err)
	}
	if !db2.Exists("users", true) {
		t.Error("file removed after a failed open")
	}
}

func TestEntityCorrupted(t *testing.T) {
	tests := []struct {
		name      string
		file      string
		encrypted bool
		content   string
	}{
		{"encrypted not json", "a.enc", true, "garbage"},
		{"encrypted bad header", "b.enc", true, `{"version":9}`},
		{"plain not json", "c", false, "{"},
		{"plain wrong shape", "d", false, `{"a":1}`},
		{"plain null record", "e", false, `[null]`},
	}
	db := openTestDB(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := os.WriteFile(filepath.Join(db.Path(), tt.file), []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			name := tt.file
			if tt.encrypted {
				name = name[:len(name)-len(".enc")]
			}
			_, err := db.Collection(name, Encrypted(tt.encrypted))
			if got := errCode(err); got != CodeDecryptionFailed {
				t.Errorf("Collection() error = %v, want code %s", err, CodeDecryptionFailed)
			}
			if errors.Is(err, ErrIncorrectPassword) {
				t.Errorf("corruption reported as incorrect password: %v", err)
			}
		})
	}
}

func TestEntityCommit(t *testing.T) {
	db := openTestDB(t)
	c, err := db.Collection("users")
	if err != nil {
		t.Fatal(err)
	}
	base := c.commitCount()
	if err := c.Commit(); err != nil {
		t.Fatal(err)
	}
	if n := c.commitCount(); n != base {
		t.Errorf("clean Commit() wrote the file: %d writes", n-base)
	}

	if err := c.Insert(Record{"id": 1}); err != nil {
		t.Fatal(err)
	}
	if !c.Dirty() {
		t.Error("not dirty after Insert")
	}
	if n := c.commitCount(); n != base {
		t.Errorf("Insert without CommitNow wrote the file")
	}
	if err := c.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := c.Commit(); err != nil {
		t.Fatal(err)
	}
	if n := c.commitCount() - base; n != 1 {
		t.Errorf("two commits wrote %d times, want 1", n)
	}
	if c.Dirty() {
		t.Error("dirty after Commit")
	}

	info, err := c.Info()
	if err != nil {
		t.Fatal(err)
	}
	if info.Records != 1 || info.Dirty || !info.Encrypted || info.Size == 0 || info.Name != "users" || info.DatabasePath != db.Path() {
		t.Errorf("Info() = %+v", info)
	}
}

func TestEntityCommitFailure(t *testing.T) {
	db := openTestDB(t)
	c, err := db.Collection("users", Encrypted(false))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Insert(Record{"id": 1}); err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(db.Path()); err != nil {
		t.Fatal(err)
	}
	if err := c.Commit(); !errors.Is(err, ErrIOFailure) {
		t.Fatalf("Commit() error = %v, want ErrIOFailure", err)
	}
	if !c.Dirty() {
		t.Error("failed commit cleared the dirty flag")
	}
	if err := os.MkdirAll(db.Path(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := c.Commit(); err != nil {
		t.Fatalf("retry Commit() failed: %v", err)
	}
	if c.Dirty() {
		t.Error("dirty after successful retry")
	}
}

func TestEntityAutoCommit(t *testing.T) {
	db := openTestDB(t, WithAutoCommit(10*time.Millisecond))
	d, err := db.Document("settings", Encrypted(false))
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Set("k", "v"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return !d.Dirty() })
	data, err := os.ReadFile(d.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"k":"v"}` {
		t.Errorf("file = %s after auto-commit", data)
	}
}

func TestEntityAutoCommitFailure(t *testing.T) {
	db := openTestDB(t, WithAutoCommit(10*time.Millisecond))
	d, err := db.Document("settings", Encrypted(false))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(db.Path()); err != nil {
		t.Fatal(err)
	}
	if err := d.Set("k", "v"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		d.mu.RLock()
		defer d.mu.RUnlock()
		return d.autoFailures >= 2
	})
	if !d.Dirty() {
		t.Error("failed auto-commit cleared the dirty flag")
	}
	if err := os.MkdirAll(db.Path(), 0o755); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return !d.Dirty() })
	info, err := d.Info()
	if err != nil {
		t.Fatal(err)
	}
	if info.AutoCommitFailures < 2 || info.LastAutoCommitError == "" {
		t.Errorf("Info() = %+v", info)
	}
}

func TestEntityDelete(t *testing.T) {
	db := openTestDB(t, WithAutoCommit(10*time.Millisecond))
	c, err := db.Collection("users")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Insert(Record{"id": 1}); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete(); err != nil {
		t.Fatal(err)
	}
	if db.Exists("users", true) {
		t.Error("file still exists after Delete")
	}
	if c.Dirty() {
		t.Error("dirty after Delete")
	}
	ops := map[string]func() error{
		"Insert": func() error { return c.Insert(Record{"id": 2}) },
		"Find": func() error {
			_, _, err := c.Find(Query{})
			return err
		},
		"RemoveMany": func() error {
			_, err := c.RemoveMany(Query{})
			return err
		},
		"Commit": c.Commit,
		"Info": func() error {
			_, err := c.Info()
			return err
		},
		"Delete": c.Delete,
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, ErrDeleted) {
			t.Errorf("%s() after Delete error = %v, want ErrDeleted", name, err)
		}
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() after Delete failed: %v", err)
	}
	// The scheduler must not recreate the file.
	time.Sleep(50 * time.Millisecond)
	if db.Exists("users", true) {
		t.Error("file recreated after Delete")
	}
}

func TestEntityClose(t *testing.T) {
	db := openTestDB(t)
	d, err := db.Document("settings")
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Set("k", 1); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if err := d.Set("k", 2); !errors.Is(err, ErrClosed) {
		t.Errorf("Set() after Close error = %v, want ErrClosed", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
	d2, err := db.Document("settings")
	if err != nil {
		t.Fatal(err)
	}
	if d2 == d {
		t.Error("reopen after Close returned the closed instance")
	}
	if v, ok, err := d2.Get("k"); err != nil || !ok || v != 1.0 {
		t.Errorf("Get(k) = %v, %t, %v; want 1", v, ok, err)
	}
}

func TestEntityConcurrentAutoCommit(t *testing.T) {
	const workers = 8
	const perWorker = 200
	dir := filepath.Join(t.TempDir(), "db")
	db := openTestDBAt(t, dir, testPassword, WithAutoCommit(time.Millisecond))
	c, err := db.Collection("events", Encrypted(false))
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				if err := c.Insert(Record{"worker": w, "i": i}); err != nil {
					t.Errorf("Insert() failed: %v", err)
					return
				}
				if i%50 == 0 {
					if _, err := c.UpdateMany(Query{"worker": w}, Record{"seen": true}); err != nil {
						t.Errorf("UpdateMany() failed: %v", err)
						return
					}
				}
			}
			if _, err := c.UpdateMany(Query{"worker": w}, Record{"seen": true}); err != nil {
				t.Errorf("UpdateMany() failed: %v", err)
			}
		}()
	}
	wg.Wait()
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	db2 := openTestDBAt(t, dir, testPassword)
	c2, err := db2.Collection("events", Encrypted(false))
	if err != nil {
		t.Fatal(err)
	}
	all, err := c2.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != workers*perWorker {
		t.Fatalf("reloaded %d records, want %d", len(all), workers*perWorker)
	}
	next := make(map[float64]float64)
	for _, r := range all {
		w, i := r["worker"].(float64), r["i"].(float64)
		if i != next[w] {
			t.Fatalf("worker %v: record %v out of order, want %v", w, i, next[w])
		}
		next[w]++
		if r["seen"] != true {
			t.Errorf("worker %v record %v missed the update", w, i)
		}
	}
}

func TestEntitySchedulerStaysStopped(t *testing.T) {
	db := openTestDB(t, WithAutoCommit(time.Hour))
	c, err := db.Collection("users", Encrypted(false))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Insert(Record{"id": 1}); err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(db.Path()); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); !errors.Is(err, ErrIOFailure) {
		t.Fatalf("Close() error = %v, want ErrIOFailure", err)
	}
	if !hasScheduler(c) {
		t.Fatal("failed Close did not keep the scheduler running")
	}
	if err := c.Delete(); err != nil {
		t.Fatal(err)
	}
	// A restart racing with Delete must not leave a scheduler behind.
	c.startScheduler()
	if hasScheduler(c) {
		t.Error("scheduler running on a deleted entity")
	}
}

func hasScheduler(c *Collection) bool {
	c.schedMu.Lock()
	defer c.schedMu.Unlock()
	return c.sched != nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
