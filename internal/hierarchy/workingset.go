// Package hierarchy rebuilds the parent/child structure of a flat set of work
// items, orders them depth-first and assigns outline levels.
package hierarchy

import (
	"errors"
	"fmt"

	"github.com/giagar5/ADO-MPP/internal/workitem"
)

var (
	// ErrFrozen is returned when adding to a working set after Freeze.
	ErrFrozen = errors.New("working set is frozen")
	// ErrDuplicateID is returned when an id is already present.
	ErrDuplicateID = errors.New("work item already in working set")
)

// Origin records how an item entered the working set.
type Origin int

const (
	// OriginQuery marks items from the initial fetch.
	OriginQuery Origin = iota
	// OriginAncestor marks items merged by ancestor resolution.
	OriginAncestor
)

// WorkingSet is the id-deduplicated collection of items visible to one run.
// It grows during ancestor resolution and is read-only after Freeze.
type WorkingSet struct {
	order     []int
	items     map[int]workitem.WorkItem
	origins   map[int]Origin
	requested map[int]struct{}
	frozen    bool
}

// NewWorkingSet returns an empty working set.
func NewWorkingSet() *WorkingSet {
	return &WorkingSet{
		items:     map[int]workitem.WorkItem{},
		origins:   map[int]Origin{},
		requested: map[int]struct{}{},
	}
}

// Add inserts item. Existing ids are never overwritten.
func (ws *WorkingSet) Add(item workitem.WorkItem, origin Origin) error {
	if ws.frozen {
		return ErrFrozen
	}
	if _, ok := ws.items[item.ID]; ok {
		return fmt.Errorf("add work item %d: %w", item.ID, ErrDuplicateID)
	}
	ws.items[item.ID] = item
	ws.origins[item.ID] = origin
	ws.order = append(ws.order, item.ID)
	return nil
}

// Freeze makes the working set read-only.
func (ws *WorkingSet) Freeze() {
	ws.frozen = true
}

// Frozen reports whether Freeze was called.
func (ws *WorkingSet) Frozen() bool {
	return ws.frozen
}

// Has reports whether id is present.
func (ws *WorkingSet) Has(id int) bool {
	_, ok := ws.items[id]
	return ok
}

// Get returns the item with id.
func (ws *WorkingSet) Get(id int) (workitem.WorkItem, bool) {
	item, ok := ws.items[id]
	return item, ok
}

// Origin returns how id entered the set.
func (ws *WorkingSet) Origin(id int) (Origin, bool) {
	origin, ok := ws.origins[id]
	return origin, ok
}

// Len returns the number of items.
func (ws *WorkingSet) Len() int {
	return len(ws.order)
}

// IDs returns item ids in insertion order.
func (ws *WorkingSet) IDs() []int {
	return append([]int(nil), ws.order...)
}

// Items returns the items in insertion order.
func (ws *WorkingSet) Items() []workitem.WorkItem {
	out := make([]workitem.WorkItem, 0, len(ws.order))
	for _, id := range ws.order {
		out = append(out, ws.items[id])
	}
	return out
}

func (ws *WorkingSet) markRequested(ids []int) {
	for _, id := range ids {
		ws.requested[id] = struct{}{}
	}
}

func (ws *WorkingSet) wasRequested(id int) bool {
	_, ok := ws.requested[id]
	return ok
}

func (ws *WorkingSet) replaceRelations(id int, relations []workitem.Relation) {
	item, ok := ws.items[id]
	if !ok || ws.frozen {
		return
	}
	item.Relations = relations
	item.RelationsLoaded = true
	ws.items[id] = item
}
