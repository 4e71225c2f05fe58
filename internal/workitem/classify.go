package workitem

import (
	"strconv"
	"strings"
)

// Relation type names used by Azure DevOps link relations.
const (
	RelHierarchyForward  = "System.LinkTypes.Hierarchy-Forward"
	RelHierarchyReverse  = "System.LinkTypes.Hierarchy-Reverse"
	RelDependencyForward = "System.LinkTypes.Dependency-Forward"
)

// EdgeKind is the semantic type of a classified relation.
type EdgeKind int

const (
	// EdgeOther marks relations the engine ignores.
	EdgeOther EdgeKind = iota
	// EdgeParentForward means Source is the parent of Target.
	EdgeParentForward
	// EdgeParentReverse means Source is a child of Target.
	EdgeParentReverse
	// EdgeDependencyForward means Source is a predecessor of Target.
	EdgeDependencyForward
)

// String returns a short name for logs.
func (k EdgeKind) String() string {
	switch k {
	case EdgeParentForward:
		return "parent-forward"
	case EdgeParentReverse:
		return "parent-reverse"
	case EdgeDependencyForward:
		return "dependency-forward"
	default:
		return "other"
	}
}

// Edge is one typed, directed relation between two work items.
type Edge struct {
	Kind   EdgeKind
	Source int
	Target int
}

// KindOf maps a raw relation type name to an EdgeKind.
func KindOf(rel string) EdgeKind {
	switch strings.TrimSpace(rel) {
	case RelHierarchyForward:
		return EdgeParentForward
	case RelHierarchyReverse:
		return EdgeParentReverse
	case RelDependencyForward:
		return EdgeDependencyForward
	default:
		return EdgeOther
	}
}

// Classify extracts the typed edges declared on item. Unrecognized relation
// kinds and references without a trailing integer id are skipped.
func Classify(item WorkItem) []Edge {
	if len(item.Relations) == 0 {
		return nil
	}

	edges := make([]Edge, 0, len(item.Relations))
	for _, relation := range item.Relations {
		kind := KindOf(relation.Rel)
		if kind == EdgeOther {
			continue
		}
		target, ok := ParseTargetID(relation.URL)
		if !ok {
			continue
		}
		edges = append(edges, Edge{Kind: kind, Source: item.ID, Target: target})
	}
	return edges
}

// ClassifyAll classifies every item and concatenates the edges in input order.
func ClassifyAll(items []WorkItem) []Edge {
	var edges []Edge
	for _, item := range items {
		edges = append(edges, Classify(item)...)
	}
	return edges
}

// ParseTargetID extracts the trailing integer id from a relation reference,
// e.g. https://dev.azure.com/org/_apis/wit/workItems/123.
func ParseTargetID(ref string) (int, bool) {
	ref = strings.TrimSpace(ref)
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	ref = strings.TrimRight(ref, "/")
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		ref = ref[i+1:]
	}
	if ref == "" {
		return 0, false
	}
	id, err := strconv.Atoi(ref)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
