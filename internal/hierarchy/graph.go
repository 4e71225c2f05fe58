package hierarchy

import (
	"sort"

	"github.com/giagar5/ADO-MPP/internal/logging"
	"github.com/giagar5/ADO-MPP/internal/workitem"
)

// Maps holds the parent/child relationships admitted over a working set.
// Both directions are id-indexed; there are no pointers between items.
type Maps struct {
	ParentToChildren map[int]map[int]struct{}
	ChildToParent    map[int]int
	// Conflicts lists children that were claimed by more than one parent.
	Conflicts []int
}

// HasEdges reports whether at least one parent/child edge was admitted.
func (m *Maps) HasEdges() bool {
	return m != nil && len(m.ChildToParent) > 0
}

// Parent returns the recorded parent of id.
func (m *Maps) Parent(id int) (int, bool) {
	if m == nil {
		return 0, false
	}
	parent, ok := m.ChildToParent[id]
	return parent, ok
}

// Children returns the child ids of id in ascending id order.
func (m *Maps) Children(id int) []int {
	if m == nil {
		return nil
	}
	set := m.ParentToChildren[id]
	out := make([]int, 0, len(set))
	for child := range set {
		out = append(out, child)
	}
	sort.Ints(out)
	return out
}

// BuildMaps admits hierarchy edges whose endpoints are both in ws. When a
// child is claimed by two different parents the later edge wins and the
// child is detached from the earlier parent.
func BuildMaps(ws *WorkingSet, edges []workitem.Edge, logger logging.Logger) *Maps {
	logger = logging.OrDiscard(logger)
	maps := &Maps{
		ParentToChildren: map[int]map[int]struct{}{},
		ChildToParent:    map[int]int{},
	}
	conflicted := map[int]struct{}{}

	for _, edge := range edges {
		var parent, child int
		switch edge.Kind {
		case workitem.EdgeParentForward:
			parent, child = edge.Source, edge.Target
		case workitem.EdgeParentReverse:
			parent, child = edge.Target, edge.Source
		default:
			continue
		}

		if parent == child {
			logger.Debug("dropping self-referencing hierarchy edge", "id", parent)
			continue
		}
		if ws == nil || !ws.Has(parent) || !ws.Has(child) {
			logger.Debug("dropping hierarchy edge with absent endpoint",
				"kind", edge.Kind.String(), "parent", parent, "child", child)
			continue
		}

		if previous, ok := maps.ChildToParent[child]; ok && previous != parent {
			logger.Warn("work item has conflicting parents; keeping the later one",
				"child", child, "previous_parent", previous, "parent", parent)
			delete(maps.ParentToChildren[previous], child)
			if len(maps.ParentToChildren[previous]) == 0 {
				delete(maps.ParentToChildren, previous)
			}
			if _, seen := conflicted[child]; !seen {
				conflicted[child] = struct{}{}
				maps.Conflicts = append(maps.Conflicts, child)
			}
		}

		if maps.ParentToChildren[parent] == nil {
			maps.ParentToChildren[parent] = map[int]struct{}{}
		}
		maps.ParentToChildren[parent][child] = struct{}{}
		maps.ChildToParent[child] = parent
	}

	sort.Ints(maps.Conflicts)
	logger.Debug("hierarchy maps built",
		"parents", len(maps.ParentToChildren),
		"children", len(maps.ChildToParent),
		"conflicts", len(maps.Conflicts),
	)
	return maps
}
