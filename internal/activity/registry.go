package activity

import (
	"errors"
	"fmt"
)

// ErrIncomplete is returned when a registry or batch still has unresolved ids
// after the database round trip that was supposed to resolve them.
var ErrIncomplete = errors.New("unresolved surrogate ids")

// Registry interns the distinct string values of one lookup table.
type Registry struct {
	name   string
	values []string
	index  map[string]int
	ids    []int64
}

func NewRegistry(name string) *Registry {
	return &Registry{name: name, index: map[string]int{}}
}

func (r *Registry) Name() string { return r.name }

// Add returns the index of value, adding it on first sight.
func (r *Registry) Add(value string) int {
	if idx, ok := r.index[value]; ok {
		return idx
	}
	idx := len(r.values)
	r.values = append(r.values, value)
	r.ids = append(r.ids, 0)
	r.index[value] = idx
	return idx
}

func (r *Registry) Len() int { return len(r.values) }

// Values returns the distinct values in first-seen order.
func (r *Registry) Values() []string {
	out := make([]string, len(r.values))
	copy(out, r.values)
	return out
}

// Resolve binds id to value. It reports false when value is unknown, id is not
// a valid surrogate key, or the slot already holds an id.
func (r *Registry) Resolve(value string, id int64) bool {
	idx, ok := r.index[value]
	if !ok || id <= 0 {
		return false
	}
	if r.ids[idx] != 0 {
		return false
	}
	r.ids[idx] = id
	return true
}

func (r *Registry) ID(idx int) (int64, bool) {
	if idx < 0 || idx >= len(r.ids) {
		return 0, false
	}
	id := r.ids[idx]
	return id, id != 0
}

func (r *Registry) IDOf(value string) (int64, bool) {
	idx, ok := r.index[value]
	if !ok {
		return 0, false
	}
	return r.ID(idx)
}

// Unresolved filters values down to the ones that still lack an id.
func (r *Registry) Unresolved(values []string) []string {
	var out []string
	for _, v := range values {
		if _, ok := r.IDOf(v); !ok {
			out = append(out, v)
		}
	}
	return out
}

// Complete fails when any registered value lacks an id.
func (r *Registry) Complete() error {
	missing := 0
	for _, id := range r.ids {
		if id == 0 {
			missing++
		}
	}
	if missing > 0 {
		return fmt.Errorf("%s: %d of %d values: %w", r.name, missing, len(r.ids), ErrIncomplete)
	}
	return nil
}
