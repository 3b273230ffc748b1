// Package query implements record selection and deep-merge updates over
// normalized JSON records.
//
// All functions expect values normalized by package value. They never
// allocate new records: Merge mutates its target in place and Partition
// reuses the input records.
package query

import (
	"github.com/maruel/octaviadb/internal/value"
)

// Match reports whether record satisfies q.
//
// For every key of q: when the expected value is a mapping, the record field
// must exist, be a non-null mapping and recursively match it. Otherwise the
// record field must exist and be structurally equal to the expected value.
// An empty query matches every record.
func Match(record, q map[string]any) bool {
	for k, want := range q {
		got, ok := record[k]
		if !ok {
			return false
		}
		if sub, isMap := want.(map[string]any); isMap {
			m, isMap := got.(map[string]any)
			if !isMap || !Match(m, sub) {
				return false
			}
			continue
		}
		if !value.Equal(got, want) {
			return false
		}
	}
	return true
}

// Find returns the index of the first record matching q, or -1.
func Find(records []map[string]any, q map[string]any) int {
	for i, r := range records {
		if Match(r, q) {
			return i
		}
	}
	return -1
}

// FindAll returns the indexes of all records matching q, in order.
func FindAll(records []map[string]any, q map[string]any) []int {
	var out []int
	for i, r := range records {
		if Match(r, q) {
			out = append(out, i)
		}
	}
	return out
}

// Merge deep-merges patch into target in place.
//
// When both the patch value and the existing target value at a key are
// mappings, the patch is merged recursively and sibling keys of the target
// are preserved. Any other patch value replaces the target value outright.
// Patch values are cloned so target never aliases patch.
func Merge(target, patch map[string]any) {
	for k, pv := range patch {
		if pm, ok := pv.(map[string]any); ok {
			if tm, ok := target[k].(map[string]any); ok && tm != nil {
				Merge(tm, pm)
				continue
			}
		}
		target[k] = value.Clone(pv)
	}
}

// Partition splits records into those not matching q and those matching q,
// both in original relative order. When nothing matches, kept is records
// itself and removed is nil.
func Partition(records []map[string]any, q map[string]any) (kept, removed []map[string]any) {
	first := Find(records, q)
	if first < 0 {
		return records, nil
	}
	kept = make([]map[string]any, 0, len(records)-1)
	kept = append(kept, records[:first]...)
	removed = append(removed, records[first])
	for _, r := range records[first+1:] {
		if Match(r, q) {
			removed = append(removed, r)
		} else {
			kept = append(kept, r)
		}
	}
	return kept, removed
}
