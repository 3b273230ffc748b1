package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/maruel/octaviadb"
	"github.com/maruel/octaviadb/internal/config"
)

type app struct {
	db  *octaviadb.Database
	cfg *config.Config
	out io.Writer
	log *slog.Logger
}

// run executes one command.
func run(ctx context.Context, a *app, args []string) error {
	cmd, args := args[0], args[1:]
	switch cmd {
	case "info":
		if err := nargs(cmd, args, 0, 0); err != nil {
			return err
		}
		info, err := a.db.Info()
		if err != nil {
			return err
		}
		return a.print(info)
	case "ls":
		if err := nargs(cmd, args, 0, 0); err != nil {
			return err
		}
		refs, err := a.db.Entities()
		if err != nil {
			return err
		}
		return a.print(refs)
	case "config":
		if err := nargs(cmd, args, 0, 0); err != nil {
			return err
		}
		return a.print(a.cfg)
	case "dump":
		if err := nargs(cmd, args, 1, 1); err != nil {
			return err
		}
		v, _, err := a.openExisting(args[0])
		if err != nil {
			return err
		}
		return a.print(v)
	case "stat":
		if err := nargs(cmd, args, 1, 1); err != nil {
			return err
		}
		_, info, err := a.openExisting(args[0])
		if err != nil {
			return err
		}
		return a.print(info)
	case "insert":
		return a.insert(args)
	case "find":
		return a.find(args)
	case "update":
		return a.update(args)
	case "remove":
		return a.remove(args)
	case "get":
		return a.get(args)
	case "set":
		return a.set(args)
	case "watch":
		if err := nargs(cmd, args, 0, 0); err != nil {
			return err
		}
		return a.watch(ctx)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func nargs(cmd string, args []string, minArgs, maxArgs int) error {
	if len(args) < minArgs || len(args) > maxArgs {
		return fmt.Errorf("%s: unexpected number of arguments: %d", cmd, len(args))
	}
	return nil
}

func (a *app) print(v any) error {
	if a.cfg.Format == "yaml" {
		enc := yaml.NewEncoder(a.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) encrypted() bool {
	return !a.cfg.Plain
}

func (a *app) collection(name string) (*octaviadb.Collection, error) {
	return a.db.Collection(name, octaviadb.Encrypted(a.encrypted()))
}

func (a *app) document(name string) (*octaviadb.Document, error) {
	return a.db.Document(name, octaviadb.Encrypted(a.encrypted()))
}

// openExisting loads an entity without knowing whether it is a collection or
// a document. It returns the content and the entity metadata.
func (a *app) openExisting(name string) (any, octaviadb.EntityInfo, error) {
	if !a.db.Exists(name, a.encrypted()) {
		return nil, octaviadb.EntityInfo{}, fmt.Errorf("no entity %q in %s", name, a.db.Path())
	}
	c, err := a.collection(name)
	if err == nil {
		recs, err := c.All()
		if err != nil {
			return nil, octaviadb.EntityInfo{}, err
		}
		info, err := c.Info()
		return recs, info, err
	}
	// The file does not decode as a collection, or the name is already open
	// as a document.
	notCollection := errors.Is(err, octaviadb.ErrInvalidArgument) ||
		(errors.Is(err, octaviadb.ErrDecryptionFailed) && !errors.Is(err, octaviadb.ErrIncorrectPassword))
	if !notCollection {
		return nil, octaviadb.EntityInfo{}, err
	}
	d, err := a.document(name)
	if err != nil {
		return nil, octaviadb.EntityInfo{}, err
	}
	rec, err := d.All()
	if err != nil {
		return nil, octaviadb.EntityInfo{}, err
	}
	info, err := d.Info()
	return rec, info, err
}

func (a *app) insert(args []string) error {
	if err := nargs("insert", args, 2, 2); err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal([]byte(args[1]), &v); err != nil {
		return fmt.Errorf("insert: invalid JSON: %w", err)
	}
	var recs []octaviadb.Record
	switch t := v.(type) {
	case map[string]any:
		recs = append(recs, t)
	case []any:
		for i, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				return fmt.Errorf("insert: element %d is not an object", i)
			}
			recs = append(recs, m)
		}
	default:
		return errors.New("insert: expected an object or an array of objects")
	}
	c, err := a.collection(args[0])
	if err != nil {
		return err
	}
	if err := c.InsertMany(recs, octaviadb.AssignID(), octaviadb.CommitNow()); err != nil {
		return err
	}
	a.log.Info("inserted", "collection", args[0], "records", len(recs))
	return a.print(map[string]int{"inserted": len(recs)})
}

func (a *app) find(args []string) error {
	if err := nargs("find", args, 1, 2); err != nil {
		return err
	}
	q := octaviadb.Query{}
	if len(args) == 2 {
		var err error
		if q, err = parseObject("query", args[1]); err != nil {
			return err
		}
	}
	if !a.db.Exists(args[0], a.encrypted()) {
		return fmt.Errorf("no collection %q in %s", args[0], a.db.Path())
	}
	c, err := a.collection(args[0])
	if err != nil {
		return err
	}
	recs, err := c.FindMany(q)
	if err != nil {
		return err
	}
	if recs == nil {
		recs = []octaviadb.Record{}
	}
	return a.print(recs)
}

func (a *app) update(args []string) error {
	if err := nargs("update", args, 3, 3); err != nil {
		return err
	}
	q, err := parseObject("query", args[1])
	if err != nil {
		return err
	}
	patch, err := parseObject("patch", args[2])
	if err != nil {
		return err
	}
	if !a.db.Exists(args[0], a.encrypted()) {
		return fmt.Errorf("no collection %q in %s", args[0], a.db.Path())
	}
	c, err := a.collection(args[0])
	if err != nil {
		return err
	}
	n, err := c.UpdateMany(q, patch, octaviadb.CommitNow())
	if err != nil {
		return err
	}
	return a.print(map[string]int{"updated": n})
}

func (a *app) remove(args []string) error {
	if err := nargs("remove", args, 2, 2); err != nil {
		return err
	}
	q, err := parseObject("query", args[1])
	if err != nil {
		return err
	}
	if !a.db.Exists(args[0], a.encrypted()) {
		return fmt.Errorf("no collection %q in %s", args[0], a.db.Path())
	}
	c, err := a.collection(args[0])
	if err != nil {
		return err
	}
	n, err := c.RemoveMany(q, octaviadb.CommitNow())
	if err != nil {
		return err
	}
	return a.print(map[string]int{"removed": n})
}

func (a *app) get(args []string) error {
	if err := nargs("get", args, 1, 2); err != nil {
		return err
	}
	if !a.db.Exists(args[0], a.encrypted()) {
		return fmt.Errorf("no document %q in %s", args[0], a.db.Path())
	}
	d, err := a.document(args[0])
	if err != nil {
		return err
	}
	if len(args) == 1 {
		all, err := d.All()
		if err != nil {
			return err
		}
		return a.print(all)
	}
	v, ok, err := d.Get(args[1])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no key %q in %s", args[1], args[0])
	}
	return a.print(v)
}

func (a *app) set(args []string) error {
	if err := nargs("set", args, 3, 3); err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal([]byte(args[2]), &v); err != nil {
		return fmt.Errorf("set: invalid JSON: %w", err)
	}
	d, err := a.document(args[0])
	if err != nil {
		return err
	}
	return d.Set(args[1], v, octaviadb.CommitNow())
}

func parseObject(what, s string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", what, err)
	}
	if m == nil {
		return nil, fmt.Errorf("invalid %s: expected an object", what)
	}
	return m, nil
}

type watchEvent struct {
	Time      time.Time `json:"time" yaml:"time"`
	Entity    string    `json:"entity" yaml:"entity"`
	Encrypted bool      `json:"encrypted" yaml:"encrypted"`
	Op        string    `json:"op" yaml:"op"`
	Size      string    `json:"size,omitempty" yaml:"size,omitempty"`
}

// watch prints one event per change to an entity file until ctx is done.
func (a *app) watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(a.db.Path()); err != nil {
		return err
	}
	a.log.Info("watching", "path", a.db.Path())
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			name, encrypted, ok := entityFromFile(filepath.Base(event.Name))
			if !ok {
				continue
			}
			e := watchEvent{Time: time.Now(), Entity: name, Encrypted: encrypted, Op: event.Op.String()}
			if fi, err := os.Stat(event.Name); err == nil {
				e.Size = humanize.IBytes(uint64(fi.Size()))
			}
			if err := a.print(e); err != nil {
				return err
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			a.log.Warn("Error watching database", "err", err)
		}
	}
}

// entityFromFile maps a file name in the database directory to an entity.
// Hidden and temporary files are ignored.
func entityFromFile(base string) (string, bool, bool) {
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") {
		return "", false, false
	}
	if name, ok := strings.CutSuffix(base, ".enc"); ok {
		return name, true, true
	}
	return base, false, true
}
