// Package predecessors converts dependency links between work items into the
// task-number predecessor lists used by scheduling tools.
package predecessors

import (
	"sort"
	"strconv"
	"strings"

	"github.com/giagar5/ADO-MPP/internal/logging"
	"github.com/giagar5/ADO-MPP/internal/workitem"
)

// DefaultDelimiter separates predecessor task numbers.
const DefaultDelimiter = ";"

// DependencyMap maps a successor id to the ids of its predecessors.
type DependencyMap map[int]map[int]struct{}

// Build collects dependency-forward edges. An edge A -> B means A is a
// predecessor of B, so A is recorded under B.
func Build(edges []workitem.Edge) DependencyMap {
	deps := DependencyMap{}
	for _, edge := range edges {
		if edge.Kind != workitem.EdgeDependencyForward {
			continue
		}
		deps.Add(edge.Source, edge.Target)
	}
	return deps
}

// Add records predecessor as a predecessor of successor.
func (d DependencyMap) Add(predecessor, successor int) {
	if predecessor == successor {
		return
	}
	if d[successor] == nil {
		d[successor] = map[int]struct{}{}
	}
	d[successor][predecessor] = struct{}{}
}

// Predecessors returns the predecessor ids of successor in ascending order.
func (d DependencyMap) Predecessors(successor int) []int {
	set := d[successor]
	out := make([]int, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// Resolve renders the predecessor string of every id in sequence. Each
// predecessor is replaced by its 1-based position in sequence; ids not in
// sequence are dropped. Numbers are unique, ascending and joined with
// delimiter. Items without predecessors map to "".
func Resolve(deps DependencyMap, sequence []int, delimiter string, logger logging.Logger) map[int]string {
	logger = logging.OrDiscard(logger)
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}

	positions := make(map[int]int, len(sequence))
	for i, id := range sequence {
		positions[id] = i + 1
	}

	out := make(map[int]string, len(sequence))
	for _, successor := range sequence {
		numbers := make([]int, 0, len(deps[successor]))
		for _, predecessor := range deps.Predecessors(successor) {
			position, ok := positions[predecessor]
			if !ok {
				logger.Debug("dropping predecessor outside the export", "successor", successor, "predecessor", predecessor)
				continue
			}
			numbers = append(numbers, position)
		}
		out[successor] = Join(numbers, delimiter)
	}
	return out
}

// Join deduplicates, sorts and joins task numbers.
func Join(numbers []int, delimiter string) string {
	if len(numbers) == 0 {
		return ""
	}
	sorted := append([]int(nil), numbers...)
	sort.Ints(sorted)

	parts := make([]string, 0, len(sorted))
	for i, n := range sorted {
		if i > 0 && n == sorted[i-1] {
			continue
		}
		parts = append(parts, strconv.Itoa(n))
	}
	return strings.Join(parts, delimiter)
}
