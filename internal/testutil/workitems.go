// Package testutil provides work item fixtures and fakes shared by tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/giagar5/ADO-MPP/internal/workitem"
	"github.com/stretchr/testify/require"
)

const relationBase = "https://dev.azure.com/fabrikam/_apis/wit/workItems/"

// Item builds a work item with relations marked as loaded.
func Item(id int, itemType, title string, relations ...workitem.Relation) workitem.WorkItem {
	return workitem.WorkItem{
		ID:              id,
		Type:            itemType,
		Title:           title,
		Relations:       relations,
		RelationsLoaded: true,
	}
}

// ChildOf declares that the owning item is a child of parentID.
func ChildOf(parentID int) workitem.Relation {
	return workitem.Relation{Rel: workitem.RelHierarchyReverse, URL: RelationURL(parentID)}
}

// ParentOf declares that the owning item is the parent of childID.
func ParentOf(childID int) workitem.Relation {
	return workitem.Relation{Rel: workitem.RelHierarchyForward, URL: RelationURL(childID)}
}

// PredecessorOf declares that the owning item must finish before successorID.
func PredecessorOf(successorID int) workitem.Relation {
	return workitem.Relation{Rel: workitem.RelDependencyForward, URL: RelationURL(successorID)}
}

// TestedBy declares a relation the engine ignores.
func TestedBy(id int) workitem.Relation {
	return workitem.Relation{Rel: "Microsoft.VSTS.Common.TestedBy-Forward", URL: RelationURL(id)}
}

// RelationURL returns a relation reference ending in id.
func RelationURL(id int) string {
	return fmt.Sprintf("%s%d", relationBase, id)
}

// StubFetcher serves FetchByIDs from an in-memory catalog and records calls.
type StubFetcher struct {
	Catalog map[int]workitem.WorkItem
	Err     error
	Calls   [][]int
}

// NewStubFetcher indexes items by id.
func NewStubFetcher(items ...workitem.WorkItem) *StubFetcher {
	catalog := make(map[int]workitem.WorkItem, len(items))
	for _, item := range items {
		catalog[item.ID] = item
	}
	return &StubFetcher{Catalog: catalog}
}

// FetchByIDs returns the catalog entries for ids, in ascending id order, and Err.
func (f *StubFetcher) FetchByIDs(_ context.Context, ids []int) ([]workitem.WorkItem, error) {
	f.Calls = append(f.Calls, append([]int(nil), ids...))
	var out []workitem.WorkItem
	for _, id := range ids {
		if item, ok := f.Catalog[id]; ok {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, f.Err
}

// Positions maps each id in sequence to its 1-based position.
func Positions(t *testing.T, sequence []int) map[int]int {
	t.Helper()
	positions := make(map[int]int, len(sequence))
	for i, id := range sequence {
		_, dup := positions[id]
		require.False(t, dup, "id %d appears more than once in %v", id, sequence)
		positions[id] = i + 1
	}
	return positions
}

// Shuffled returns a deterministic permutation of items.
func Shuffled(items []workitem.WorkItem, seed int) []workitem.WorkItem {
	out := append([]workitem.WorkItem(nil), items...)
	n := len(out)
	if n < 2 {
		return out
	}
	state := uint32(seed)*2654435761 + 1
	for i := n - 1; i > 0; i-- {
		state = state*1664525 + 1013904223
		j := int(state % uint32(i+1))
		out[i], out[j] = out[j], out[i]
	}
	return out
}
