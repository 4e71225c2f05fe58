package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/giagar5/ADO-MPP/internal/logging"
	"github.com/giagar5/ADO-MPP/internal/workitem"
)

// Fetcher retrieves work items by id. Implementations may return a subset
// of the requested ids; a non-nil error alongside items means partial success.
type Fetcher interface {
	FetchByIDs(ctx context.Context, ids []int) ([]workitem.WorkItem, error)
}

// RelationLoader is an optional Fetcher capability for sources that can
// return items without relations and attach them in a second request.
type RelationLoader interface {
	LoadRelations(ctx context.Context, ids []int) (map[int][]workitem.Relation, error)
}

// AncestorReport summarizes one ancestor resolution pass.
type AncestorReport struct {
	Requested  []int
	Added      []int
	Unresolved []int
	Warnings   []string
}

// ResolveMissingAncestors fetches parents referenced by query items that are
// absent from ws and merges them in. It performs a single pass: parents of
// the fetched ancestors are not requested, so their descendants become roots.
// Fetch failures degrade to warnings; only context cancellation is returned.
func ResolveMissingAncestors(
	ctx context.Context,
	ws *WorkingSet,
	fetcher Fetcher,
	logger logging.Logger,
) (AncestorReport, error) {
	logger = logging.OrDiscard(logger)
	report := AncestorReport{}

	if ws == nil {
		return report, errors.New("working set must not be nil")
	}
	if ws.Frozen() {
		return report, ErrFrozen
	}

	missing := missingParentIDs(ws)
	if len(missing) == 0 {
		return report, nil
	}
	report.Requested = missing

	if fetcher == nil {
		report.Unresolved = missing
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("%d parent item(s) outside the query and no fetcher configured", len(missing)))
		logger.Warn("missing ancestors left unresolved", "count", len(missing), "reason", "no fetcher")
		return report, nil
	}

	ws.markRequested(missing)
	logger.Debug("fetching missing ancestors", "ids", missing)

	fetched, fetchErr := fetcher.FetchByIDs(ctx, missing)
	if fetchErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, fmt.Errorf("fetch missing ancestors: %w", ctxErr)
		}
		report.Warnings = append(report.Warnings, fmt.Sprintf("fetch missing ancestors: %v", fetchErr))
		logger.Warn("ancestor fetch failed", "err", fetchErr, "received", len(fetched))
	}

	wanted := make(map[int]struct{}, len(missing))
	for _, id := range missing {
		wanted[id] = struct{}{}
	}

	var needRelations []int
	for _, item := range fetched {
		if _, ok := wanted[item.ID]; !ok {
			logger.Debug("ignoring unrequested item from fetch", "id", item.ID)
			continue
		}
		if ws.Has(item.ID) {
			continue
		}
		if err := ws.Add(item, OriginAncestor); err != nil {
			logger.Debug("skipping ancestor", "id", item.ID, "err", err)
			continue
		}
		report.Added = append(report.Added, item.ID)
		if !item.RelationsLoaded {
			needRelations = append(needRelations, item.ID)
		}
	}

	if len(needRelations) > 0 {
		if warning := attachRelations(ctx, ws, fetcher, needRelations, logger); warning != "" {
			report.Warnings = append(report.Warnings, warning)
		}
	}

	for _, id := range missing {
		if !ws.Has(id) {
			report.Unresolved = append(report.Unresolved, id)
		}
	}
	if len(report.Unresolved) > 0 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("%d parent item(s) could not be retrieved; their children are exported as top-level items: %v",
				len(report.Unresolved), report.Unresolved))
		logger.Warn("ancestors unresolved", "ids", report.Unresolved)
	}

	logger.Info("ancestor resolution complete",
		"requested", len(report.Requested),
		"added", len(report.Added),
		"unresolved", len(report.Unresolved),
	)
	return report, nil
}

func attachRelations(
	ctx context.Context,
	ws *WorkingSet,
	fetcher Fetcher,
	ids []int,
	logger logging.Logger,
) string {
	loader, ok := fetcher.(RelationLoader)
	if !ok {
		logger.Debug("ancestors fetched without relations", "ids", ids)
		return ""
	}
	relations, err := loader.LoadRelations(ctx, ids)
	if err != nil {
		logger.Warn("loading ancestor relations failed", "err", err)
		return fmt.Sprintf("load ancestor relations: %v", err)
	}
	for _, id := range ids {
		if rels, ok := relations[id]; ok {
			ws.replaceRelations(id, rels)
		}
	}
	return ""
}

// missingParentIDs returns the sorted, not yet requested parent ids named by
// parent-reverse edges of query items that are absent from ws.
func missingParentIDs(ws *WorkingSet) []int {
	seen := map[int]struct{}{}
	var missing []int
	for _, item := range ws.Items() {
		if origin, _ := ws.Origin(item.ID); origin != OriginQuery {
			continue
		}
		for _, edge := range workitem.Classify(item) {
			if edge.Kind != workitem.EdgeParentReverse {
				continue
			}
			if ws.Has(edge.Target) || ws.wasRequested(edge.Target) {
				continue
			}
			if _, ok := seen[edge.Target]; ok {
				continue
			}
			seen[edge.Target] = struct{}{}
			missing = append(missing, edge.Target)
		}
	}
	sort.Ints(missing)
	return missing
}
