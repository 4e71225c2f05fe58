// Package workitem defines the tracker-neutral work item model and the
// relation classifier that turns raw link entries into typed edges.
package workitem

import (
	"strings"
	"time"
)

// Well-known work item types. The set is open; anything else is ordered last.
const (
	TypeEpic       = "Epic"
	TypeFeature    = "Feature"
	TypeUserStory  = "User Story"
	TypeTask       = "Task"
	TypeBug        = "Bug"
	TypeDependency = "Dependency"
	TypeMilestone  = "Milestone"
)

// Relation is one raw link entry as returned by the tracker.
type Relation struct {
	Rel string `json:"rel"`
	URL string `json:"url"`
}

// WorkItem is one tracked unit of work. Only ID, Type, Title and Relations
// feed the hierarchy engine; the remaining fields are carried for row output.
type WorkItem struct {
	ID        int        `json:"id"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Relations []Relation `json:"relations,omitempty"`
	// RelationsLoaded is false when the source returned the item without its
	// relation list (as opposed to an item that has no relations).
	RelationsLoaded bool `json:"relationsLoaded"`

	State         string   `json:"state,omitempty"`
	AssignedTo    string   `json:"assignedTo,omitempty"`
	AreaPath      string   `json:"areaPath,omitempty"`
	IterationPath string   `json:"iterationPath,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	URL           string   `json:"url,omitempty"`

	StartDate  *time.Time `json:"startDate,omitempty"`
	FinishDate *time.Time `json:"finishDate,omitempty"`
	TargetDate *time.Time `json:"targetDate,omitempty"`

	OriginalEstimate *float64 `json:"originalEstimate,omitempty"`
	RemainingWork    *float64 `json:"remainingWork,omitempty"`
	CompletedWork    *float64 `json:"completedWork,omitempty"`
}

const otherPriority = 6

var typePriorities = map[string]int{
	"epic":       0,
	"feature":    1,
	"user story": 2,
	"task":       3,
	"bug":        3,
	"dependency": 4,
	"milestone":  5,
}

var defaultOutlineLevels = map[string]int{
	"epic":       1,
	"feature":    2,
	"user story": 3,
	"task":       4,
	"bug":        4,
	"dependency": 4,
	"milestone":  4,
}

const otherOutlineLevel = 5

// TypePriority returns the ordering rank of a work item type; lower sorts first.
// Task and Bug share a rank. Unknown types rank after Milestone.
func TypePriority(itemType string) int {
	if rank, ok := typePriorities[normalizeType(itemType)]; ok {
		return rank
	}
	return otherPriority
}

// DefaultOutlineLevel returns the outline level used when an item's depth
// cannot be derived from the hierarchy.
func DefaultOutlineLevel(itemType string) int {
	if level, ok := defaultOutlineLevels[normalizeType(itemType)]; ok {
		return level
	}
	return otherOutlineLevel
}

// Less orders two items by type priority, then title, then id.
func Less(a, b WorkItem) bool {
	pa, pb := TypePriority(a.Type), TypePriority(b.Type)
	if pa != pb {
		return pa < pb
	}
	return LessByTitle(a, b)
}

// LessByTitle orders two items by title, then id.
func LessByTitle(a, b WorkItem) bool {
	if a.Title != b.Title {
		return a.Title < b.Title
	}
	return a.ID < b.ID
}

func normalizeType(itemType string) string {
	return strings.ToLower(strings.TrimSpace(itemType))
}
