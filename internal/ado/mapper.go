package ado

import (
	"strings"
	"time"

	"github.com/giagar5/ADO-MPP/internal/workitem"
)

// dateLayouts are tried in order when reading date fields.
var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// ToModel converts a wire work item into the exporter model. Relations are
// marked as loaded: ADO omits the list when an item has none.
func ToModel(wi WorkItem) workitem.WorkItem {
	item := workitem.WorkItem{
		ID:               wi.ID,
		Type:             strings.TrimSpace(wi.Fields.WorkItemType),
		Title:            wi.Fields.Title,
		RelationsLoaded:  true,
		State:            wi.Fields.State,
		AreaPath:         wi.Fields.AreaPath,
		IterationPath:    wi.Fields.IterationPath,
		Tags:             splitTags(wi.Fields.Tags),
		StartDate:        parseDate(wi.Fields.StartDate),
		FinishDate:       parseDate(wi.Fields.FinishDate),
		TargetDate:       parseDate(wi.Fields.TargetDate),
		OriginalEstimate: wi.Fields.OriginalEstimate,
		RemainingWork:    wi.Fields.RemainingWork,
		CompletedWork:    wi.Fields.CompletedWork,
	}
	if wi.Fields.AssignedTo != nil {
		item.AssignedTo = wi.Fields.AssignedTo.DisplayName
	}
	if wi.Links != nil {
		item.URL = wi.Links.HTML.Href
	}
	if len(wi.Relations) > 0 {
		item.Relations = make([]workitem.Relation, 0, len(wi.Relations))
		for _, rel := range wi.Relations {
			item.Relations = append(item.Relations, workitem.Relation{Rel: rel.Rel, URL: rel.URL})
		}
	}
	return item
}

// FromModel converts a model item back into the wire form used by dumps.
func FromModel(item workitem.WorkItem) WorkItem {
	wi := WorkItem{
		ID: item.ID,
		Fields: WorkItemFields{
			WorkItemType:     item.Type,
			Title:            item.Title,
			State:            item.State,
			AreaPath:         item.AreaPath,
			IterationPath:    item.IterationPath,
			Tags:             strings.Join(item.Tags, "; "),
			StartDate:        formatDate(item.StartDate),
			FinishDate:       formatDate(item.FinishDate),
			TargetDate:       formatDate(item.TargetDate),
			OriginalEstimate: item.OriginalEstimate,
			RemainingWork:    item.RemainingWork,
			CompletedWork:    item.CompletedWork,
		},
	}
	if item.AssignedTo != "" {
		wi.Fields.AssignedTo = &Identity{DisplayName: item.AssignedTo}
	}
	if item.URL != "" {
		wi.Links = &WorkItemLinks{HTML: Link{Href: item.URL}}
	}
	for _, rel := range item.Relations {
		wi.Relations = append(wi.Relations, WorkItemRelation{Rel: rel.Rel, URL: rel.URL})
	}
	return wi
}

func splitTags(raw string) []string {
	var tags []string
	for _, tag := range strings.Split(raw, ";") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func parseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
