package octaviadb

import (
	"errors"

	"github.com/maruel/ksid"

	"github.com/maruel/octaviadb/internal/query"
	"github.com/maruel/octaviadb/internal/value"
)

// Record is a JSON object.
type Record = map[string]any

// Query selects records. Each key must be present in the record with an equal
// value; nested objects match recursively. An empty query matches every
// record.
type Query = map[string]any

var collectionShape = shape[[]Record]{
	empty: func() []Record { return []Record{} },
	count: func(c []Record) int { return len(c) },
	check: func(c []Record) error {
		for _, r := range c {
			if r == nil {
				return errors.New("collection holds a non-object record")
			}
		}
		return nil
	},
}

// Collection is an ordered list of records stored in one file.
type Collection struct {
	entity[[]Record]
}

// Insert appends a record.
func (c *Collection) Insert(rec Record, opts ...WriteOption) error {
	return c.InsertMany([]Record{rec}, opts...)
}

// InsertMany appends records in order. Nothing is inserted if any record is
// invalid.
func (c *Collection) InsertMany(recs []Record, opts ...WriteOption) error {
	o := newWriteOptions(c.schema, opts)
	add := make([]Record, 0, len(recs))
	for i, r := range recs {
		if r == nil {
			return newError(CodeInvalidArgument, "record %d is nil", i)
		}
		n, err := value.NormalizeMap(r)
		if err != nil {
			return newError(CodeInvalidArgument, "record %d is not valid JSON", i).Wrap(err)
		}
		if o.assignID {
			if _, ok := n[IDField]; !ok {
				n[IDField] = ksid.NewID().String()
			}
		}
		if o.schema != nil {
			if err := o.schema.Validate(n); err != nil {
				return err
			}
		}
		add = append(add, n)
	}
	return c.mutate(o, func(cache []Record) ([]Record, bool, error) {
		return append(cache, add...), len(add) != 0, nil
	})
}

// Find returns a copy of the first record matching q.
func (c *Collection) Find(q Query) (Record, bool, error) {
	q, err := normalizeQuery(q)
	if err != nil {
		return nil, false, err
	}
	var out Record
	err = c.read(func(cache []Record) error {
		if i := query.Find(cache, q); i >= 0 {
			out = value.CloneMap(cache[i])
		}
		return nil
	})
	return out, out != nil, err
}

// FindMany returns copies of every record matching q, in order.
func (c *Collection) FindMany(q Query) ([]Record, error) {
	q, err := normalizeQuery(q)
	if err != nil {
		return nil, err
	}
	var out []Record
	err = c.read(func(cache []Record) error {
		for _, i := range query.FindAll(cache, q) {
			out = append(out, value.CloneMap(cache[i]))
		}
		return nil
	})
	return out, err
}

// Update deep merges patch into the first record matching q and returns a
// copy of the result.
func (c *Collection) Update(q Query, patch Record, opts ...WriteOption) (Record, bool, error) {
	o := newWriteOptions(c.schema, opts)
	q, patch, err := c.prepareUpdate(q, patch, o)
	if err != nil {
		return nil, false, err
	}
	var out Record
	err = c.mutate(o, func(cache []Record) ([]Record, bool, error) {
		i := query.Find(cache, q)
		if i < 0 {
			return cache, false, nil
		}
		query.Merge(cache[i], patch)
		out = value.CloneMap(cache[i])
		return cache, true, nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

// UpdateMany deep merges patch into every record matching q and returns how
// many were updated.
func (c *Collection) UpdateMany(q Query, patch Record, opts ...WriteOption) (int, error) {
	o := newWriteOptions(c.schema, opts)
	q, patch, err := c.prepareUpdate(q, patch, o)
	if err != nil {
		return 0, err
	}
	n := 0
	err = c.mutate(o, func(cache []Record) ([]Record, bool, error) {
		for _, i := range query.FindAll(cache, q) {
			query.Merge(cache[i], patch)
			n++
		}
		return cache, n != 0, nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (c *Collection) prepareUpdate(q Query, patch Record, o *writeOptions) (Query, Record, error) {
	q, err := normalizeQuery(q)
	if err != nil {
		return nil, nil, err
	}
	if patch == nil {
		return nil, nil, newError(CodeInvalidArgument, "patch is nil")
	}
	patch, err = value.NormalizeMap(patch)
	if err != nil {
		return nil, nil, newError(CodeInvalidArgument, "patch is not valid JSON").Wrap(err)
	}
	if o.schema != nil {
		if err := o.schema.Validate(patch); err != nil {
			return nil, nil, err
		}
	}
	return q, patch, nil
}

// Remove deletes the first record matching q and returns it.
func (c *Collection) Remove(q Query, opts ...WriteOption) (Record, bool, error) {
	o := newWriteOptions(c.schema, opts)
	q, err := normalizeQuery(q)
	if err != nil {
		return nil, false, err
	}
	var out Record
	err = c.mutate(o, func(cache []Record) ([]Record, bool, error) {
		i := query.Find(cache, q)
		if i < 0 {
			return cache, false, nil
		}
		out = cache[i]
		return append(cache[:i:i], cache[i+1:]...), true, nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

// RemoveMany deletes every record matching q and returns how many were
// removed. The remaining records keep their order.
func (c *Collection) RemoveMany(q Query, opts ...WriteOption) (int, error) {
	o := newWriteOptions(c.schema, opts)
	q, err := normalizeQuery(q)
	if err != nil {
		return 0, err
	}
	n := 0
	err = c.mutate(o, func(cache []Record) ([]Record, bool, error) {
		kept, removed := query.Partition(cache, q)
		n = len(removed)
		return kept, n != 0, nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Len returns the number of records. It is zero once the collection is
// deleted or closed.
func (c *Collection) Len() int {
	n := 0
	_ = c.read(func(cache []Record) error {
		n = len(cache)
		return nil
	})
	return n
}

// All returns copies of every record, in order.
func (c *Collection) All() ([]Record, error) {
	var out []Record
	err := c.read(func(cache []Record) error {
		out = make([]Record, len(cache))
		for i, r := range cache {
			out[i] = value.CloneMap(r)
		}
		return nil
	})
	return out, err
}

func normalizeQuery(q Query) (Query, error) {
	if q == nil {
		return nil, newError(CodeInvalidArgument, "query is nil")
	}
	n, err := value.NormalizeMap(q)
	if err != nil {
		return nil, newError(CodeInvalidArgument, "query is not valid JSON").Wrap(err)
	}
	return n, nil
}
