package hierarchy

import (
	"fmt"

	"github.com/giagar5/ADO-MPP/internal/logging"
	"github.com/giagar5/ADO-MPP/internal/workitem"
)

// DefaultMaxOutlineHops caps the parent walk when computing outline levels.
const DefaultMaxOutlineHops = 10

// OutlineLevel returns the 1-based outline level of id. Items without a
// parent use their type default. Items with a parent chain sit one level
// below their parent, anchored on the type default of the chain's root.
// A chain longer than maxHops (a cycle, usually) falls back to the item's
// type default and reports a warning.
func OutlineLevel(id int, ws *WorkingSet, maps *Maps, maxHops int, logger logging.Logger) (int, string) {
	if maxHops <= 0 {
		maxHops = DefaultMaxOutlineHops
	}
	item, _ := ws.Get(id)
	typeDefault := workitem.DefaultOutlineLevel(item.Type)

	current := id
	hops := 0
	for {
		parent, ok := maps.Parent(current)
		if !ok {
			break
		}
		hops++
		if hops > maxHops {
			warning := fmt.Sprintf("work item %d: parent chain exceeds %d levels; using type default outline level %d",
				id, maxHops, typeDefault)
			logging.OrDiscard(logger).Warn("outline depth exceeded", "id", id, "max_hops", maxHops, "fallback", typeDefault)
			return typeDefault, warning
		}
		current = parent
	}

	if hops == 0 {
		return typeDefault, ""
	}
	root, _ := ws.Get(current)
	return workitem.DefaultOutlineLevel(root.Type) + hops, ""
}

// OutlineLevels computes the outline level of every id in sequence.
func OutlineLevels(sequence []int, ws *WorkingSet, maps *Maps, maxHops int, logger logging.Logger) (map[int]int, []string) {
	levels := make(map[int]int, len(sequence))
	var warnings []string
	for _, id := range sequence {
		level, warning := OutlineLevel(id, ws, maps, maxHops, logger)
		levels[id] = level
		if warning != "" {
			warnings = append(warnings, warning)
		}
	}
	return levels, warnings
}
