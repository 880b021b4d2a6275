// Package activity holds the in-memory shape of one inbound event's activities
// before and while they are written.
//
// A Batch collects activities and interns every string they mention into four
// registries (messages, context types, context names, context values). Each
// distinct string gets a stable index in its registry before any database work
// happens; surrogate ids coming back from the database are written into a slot
// per index, exactly once. A second assignment, or an assignment for a value
// the registry never saw, is rejected so that completeness checks after each
// statement can trust the slot state.
package activity
