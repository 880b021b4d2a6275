package activity

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/activitylog-backend/internal/domain"
)

// Detail is one name/value pair inside a context tag, e.g. fødselsnummer=12345678910.
type Detail struct {
	Name  string
	Value string
}

// Context is a typed tag such as "Person" or "Arbeidsgiver" with its details.
type Context struct {
	Type    string
	Details []Detail
}

// Activity is one log entry as parsed from an inbound event.
type Activity struct {
	ID        uuid.UUID
	Level     domain.Level
	Message   string
	Timestamp time.Time
	Contexts  []Context
}

// Row is the parameter tuple of one activity insert.
type Row struct {
	NaturalID uuid.UUID
	MessageID int64
	Level     domain.Level
	Timestamp time.Time
}

// Link is the parameter tuple of one context link insert.
type Link struct {
	ActivityID int64
	TypeID     int64
	NameID     int64
	ValueID    int64
}

type linkRef struct {
	typ   int
	name  int
	value int
}

type entry struct {
	activity Activity
	message  int
	links    []linkRef
	rowID    int64
}

// Batch is the arena for every activity of one inbound event.
type Batch struct {
	Messages *Registry
	Types    *Registry
	Names    *Registry
	Values   *Registry

	entries []entry
	byID    map[uuid.UUID]int
}

func NewBatch() *Batch {
	return &Batch{
		Messages: NewRegistry("message"),
		Types:    NewRegistry("context_type"),
		Names:    NewRegistry("context_name"),
		Values:   NewRegistry("context_value"),
		byID:     map[uuid.UUID]int{},
	}
}

// Add registers an activity and interns its strings. Repeats of an already
// added natural id are ignored and reported as false.
func (b *Batch) Add(a Activity) bool {
	if _, dup := b.byID[a.ID]; dup {
		return false
	}
	e := entry{activity: a, message: b.Messages.Add(a.Message)}
	seen := map[linkRef]struct{}{}
	for _, c := range a.Contexts {
		typ := b.Types.Add(c.Type)
		for _, d := range c.Details {
			ref := linkRef{typ: typ, name: b.Names.Add(d.Name), value: b.Values.Add(d.Value)}
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			e.links = append(e.links, ref)
		}
	}
	b.byID[a.ID] = len(b.entries)
	b.entries = append(b.entries, e)
	return true
}

func (b *Batch) Len() int { return len(b.entries) }

func (b *Batch) Activities() []Activity {
	out := make([]Activity, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e.activity)
	}
	return out
}

// Rows binds insert parameters for entries [from, to). Message ids must be resolved.
func (b *Batch) Rows(from, to int) ([]Row, error) {
	if from < 0 || to > len(b.entries) || from > to {
		return nil, fmt.Errorf("rows: range [%d,%d) out of bounds (len %d)", from, to, len(b.entries))
	}
	out := make([]Row, 0, to-from)
	for _, e := range b.entries[from:to] {
		msgID, ok := b.Messages.ID(e.message)
		if !ok {
			return nil, fmt.Errorf("activity %s has no message id: %w", e.activity.ID, ErrIncomplete)
		}
		out = append(out, Row{
			NaturalID: e.activity.ID,
			MessageID: msgID,
			Level:     e.activity.Level,
			Timestamp: e.activity.Timestamp,
		})
	}
	return out, nil
}

// ResolveActivity records the row id of a newly inserted activity. It reports
// false for unknown natural ids and for ids that were already resolved.
func (b *Batch) ResolveActivity(naturalID uuid.UUID, id int64) bool {
	idx, ok := b.byID[naturalID]
	if !ok || id <= 0 {
		return false
	}
	if b.entries[idx].rowID != 0 {
		return false
	}
	b.entries[idx].rowID = id
	return true
}

// Inserted returns the activities that received a row id in this batch.
func (b *Batch) Inserted() []Activity {
	var out []Activity
	for _, e := range b.entries {
		if e.rowID != 0 {
			out = append(out, e.activity)
		}
	}
	return out
}

// Links builds the context link tuples of every inserted activity.
func (b *Batch) Links() ([]Link, error) {
	var out []Link
	for _, e := range b.entries {
		if e.rowID == 0 {
			continue
		}
		for _, ref := range e.links {
			typeID, ok1 := b.Types.ID(ref.typ)
			nameID, ok2 := b.Names.ID(ref.name)
			valueID, ok3 := b.Values.ID(ref.value)
			if !ok1 || !ok2 || !ok3 {
				return nil, fmt.Errorf("activity %s has unresolved context: %w", e.activity.ID, ErrIncomplete)
			}
			out = append(out, Link{ActivityID: e.rowID, TypeID: typeID, NameID: nameID, ValueID: valueID})
		}
	}
	return out, nil
}
