package hierarchy

import (
	"fmt"
	"sort"

	"github.com/giagar5/ADO-MPP/internal/logging"
	"github.com/giagar5/ADO-MPP/internal/workitem"
)

// Ordering is the total order of a working set.
type Ordering struct {
	Sequence      []int
	UsedHierarchy bool
	Warnings      []string
}

// FallbackOrder sorts items by type priority, then title, then id.
func FallbackOrder(items []workitem.WorkItem) []int {
	sorted := append([]workitem.WorkItem(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return workitem.Less(sorted[i], sorted[j])
	})
	ids := make([]int, len(sorted))
	for i, item := range sorted {
		ids[i] = item.ID
	}
	return ids
}

// Order emits every item of ws exactly once. With hierarchy edges it walks
// roots (sorted by type priority and title) depth-first, children sorted by
// title. Without edges, or when no root exists, it uses FallbackOrder.
func Order(ws *WorkingSet, maps *Maps, logger logging.Logger) Ordering {
	logger = logging.OrDiscard(logger)
	items := ws.Items()

	if !maps.HasEdges() {
		logger.Debug("no hierarchy edges; ordering by type")
		return Ordering{Sequence: FallbackOrder(items)}
	}

	var roots []workitem.WorkItem
	for _, item := range items {
		if _, hasParent := maps.ChildToParent[item.ID]; !hasParent {
			roots = append(roots, item)
		}
	}
	if len(roots) == 0 {
		warning := "hierarchy has no root items (cyclic parent links); ordering by type instead"
		logger.Warn(warning, "items", len(items))
		return Ordering{Sequence: FallbackOrder(items), Warnings: []string{warning}}
	}
	sort.SliceStable(roots, func(i, j int) bool {
		return workitem.Less(roots[i], roots[j])
	})

	w := &walker{
		ws:      ws,
		maps:    maps,
		emitted: make(map[int]struct{}, len(items)),
		seq:     make([]int, 0, len(items)),
	}
	for _, root := range roots {
		w.walk(root.ID)
	}

	ordering := Ordering{UsedHierarchy: true}
	if len(w.seq) < len(items) {
		var stranded []workitem.WorkItem
		for _, item := range items {
			if _, ok := w.emitted[item.ID]; !ok {
				stranded = append(stranded, item)
			}
		}
		warning := fmt.Sprintf("%d item(s) sit in parent cycles unreachable from any root; appended after the hierarchy", len(stranded))
		logger.Warn(warning, "ids", FallbackOrder(stranded))
		ordering.Warnings = append(ordering.Warnings, warning)
		for _, id := range FallbackOrder(stranded) {
			w.walk(id)
		}
	}

	ordering.Sequence = w.seq
	logger.Debug("hierarchy order computed", "roots", len(roots), "items", len(w.seq))
	return ordering
}

type walker struct {
	ws      *WorkingSet
	maps    *Maps
	emitted map[int]struct{}
	seq     []int
}

// walk emits id and its descendants in pre-order, skipping anything already
// emitted so duplicate or cyclic edges cannot repeat an item.
func (w *walker) walk(id int) {
	stack := []int{id}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, done := w.emitted[current]; done {
			continue
		}
		w.emitted[current] = struct{}{}
		w.seq = append(w.seq, current)

		children := w.sortedChildren(current)
		for i := len(children) - 1; i >= 0; i-- {
			if _, done := w.emitted[children[i]]; !done {
				stack = append(stack, children[i])
			}
		}
	}
}

func (w *walker) sortedChildren(id int) []int {
	childIDs := w.maps.Children(id)
	children := make([]workitem.WorkItem, 0, len(childIDs))
	for _, childID := range childIDs {
		if item, ok := w.ws.Get(childID); ok {
			children = append(children, item)
		}
	}
	sort.SliceStable(children, func(i, j int) bool {
		return workitem.LessByTitle(children[i], children[j])
	})
	out := make([]int, len(children))
	for i, child := range children {
		out[i] = child.ID
	}
	return out
}
