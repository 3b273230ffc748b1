package octaviadb

import (
	"maps"
	"slices"

	"github.com/maruel/octaviadb/internal/query"
	"github.com/maruel/octaviadb/internal/value"
)

var documentShape = shape[Record]{
	empty: func() Record { return Record{} },
	count: func(c Record) int { return len(c) },
	check: func(Record) error { return nil },
}

// Document is a single JSON object stored in one file.
type Document struct {
	entity[Record]
}

// Get returns a copy of the value stored at key.
func (d *Document) Get(key string) (any, bool, error) {
	var out any
	found := false
	err := d.read(func(cache Record) error {
		v, ok := cache[key]
		if ok {
			out, found = value.Clone(v), true
		}
		return nil
	})
	return out, found, err
}

// Set stores v at key, replacing any previous value.
func (d *Document) Set(key string, v any, opts ...WriteOption) error {
	o := newWriteOptions(d.schema, opts)
	n, err := value.Normalize(v)
	if err != nil {
		return newError(CodeInvalidArgument, "value for %q is not valid JSON", key).Wrap(err)
	}
	if o.schema != nil {
		if err := o.schema.Validate(Record{key: n}); err != nil {
			return err
		}
	}
	return d.mutate(o, func(cache Record) (Record, bool, error) {
		cache[key] = n
		return cache, true, nil
	})
}

// Update deep merges patch into the document.
func (d *Document) Update(patch Record, opts ...WriteOption) error {
	o := newWriteOptions(d.schema, opts)
	if patch == nil {
		return newError(CodeInvalidArgument, "patch is nil")
	}
	n, err := value.NormalizeMap(patch)
	if err != nil {
		return newError(CodeInvalidArgument, "patch is not valid JSON").Wrap(err)
	}
	if o.schema != nil {
		if err := o.schema.Validate(n); err != nil {
			return err
		}
	}
	return d.mutate(o, func(cache Record) (Record, bool, error) {
		query.Merge(cache, n)
		return cache, len(n) != 0, nil
	})
}

// Remove deletes key and reports whether it was present.
func (d *Document) Remove(key string, opts ...WriteOption) (bool, error) {
	o := newWriteOptions(d.schema, opts)
	found := false
	err := d.mutate(o, func(cache Record) (Record, bool, error) {
		if _, found = cache[key]; found {
			delete(cache, key)
		}
		return cache, found, nil
	})
	return found, err
}

// Keys returns the keys in sorted order.
func (d *Document) Keys() ([]string, error) {
	var out []string
	err := d.read(func(cache Record) error {
		out = slices.Sorted(maps.Keys(cache))
		return nil
	})
	return out, err
}

// All returns a copy of the whole document.
func (d *Document) All() (Record, error) {
	var out Record
	err := d.read(func(cache Record) error {
		out = value.CloneMap(cache)
		return nil
	})
	return out, err
}

// Len returns the number of keys. It is zero once the document is deleted or
// closed.
func (d *Document) Len() int {
	n := 0
	_ = d.read(func(cache Record) error {
		n = len(cache)
		return nil
	})
	return n
}
