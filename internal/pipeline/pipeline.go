// Package pipeline runs one export: it turns fetched work items into an
// ordered task list with outline levels and predecessor references.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/giagar5/ADO-MPP/internal/hierarchy"
	"github.com/giagar5/ADO-MPP/internal/logging"
	"github.com/giagar5/ADO-MPP/internal/predecessors"
	"github.com/giagar5/ADO-MPP/internal/telemetry/invariants"
	"github.com/giagar5/ADO-MPP/internal/workitem"
)

// ErrNoItems is returned when a run starts without any work items.
var ErrNoItems = errors.New("no work items to export")

const tracerName = "adompp/pipeline"

// Options configures one run.
type Options struct {
	// Delimiter joins predecessor task numbers. Defaults to ";".
	Delimiter string
	// MaxOutlineHops caps the parent walk for outline levels. Defaults to 10.
	MaxOutlineHops int
}

// Result is the outcome of one run. Positions are 1-based.
type Result struct {
	Sequence      []int
	UsedHierarchy bool
	Warnings      []string
	Ancestors     hierarchy.AncestorReport

	items        map[int]workitem.WorkItem
	positions    map[int]int
	levels       map[int]int
	predecessors map[int]string
}

// Position returns the task number of id, or 0 when id is not exported.
func (r *Result) Position(id int) int {
	return r.positions[id]
}

// OutlineLevel returns the outline level of id.
func (r *Result) OutlineLevel(id int) int {
	return r.levels[id]
}

// Predecessors returns the rendered predecessor list of id.
func (r *Result) Predecessors(id int) string {
	return r.predecessors[id]
}

// Item returns the work item with id.
func (r *Result) Item(id int) (workitem.WorkItem, bool) {
	item, ok := r.items[id]
	return item, ok
}

// Len returns the number of exported items.
func (r *Result) Len() int {
	return len(r.Sequence)
}

// Run resolves hierarchy and dependencies for items. fetcher supplies parents
// that are referenced but missing from items; it may be nil.
func Run(
	ctx context.Context,
	items []workitem.WorkItem,
	fetcher hierarchy.Fetcher,
	opts Options,
	logger logging.Logger,
) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger = logging.OrDiscard(logger)
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	if opts.MaxOutlineHops <= 0 {
		opts.MaxOutlineHops = hierarchy.DefaultMaxOutlineHops
	}
	if opts.Delimiter == "" {
		opts.Delimiter = predecessors.DefaultDelimiter
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(attribute.Int("input_items", len(items))))
	defer span.End()

	ws := hierarchy.NewWorkingSet()
	for _, item := range items {
		if err := ws.Add(item, hierarchy.OriginQuery); err != nil {
			logger.Debug("skipping duplicate input item", "id", item.ID)
		}
	}

	result := &Result{}

	ancestorCtx, ancestorSpan := tracer.Start(ctx, "pipeline.resolve_ancestors")
	report, err := hierarchy.ResolveMissingAncestors(ancestorCtx, ws, fetcher, logger)
	ancestorSpan.SetAttributes(
		attribute.Int("requested", len(report.Requested)),
		attribute.Int("added", len(report.Added)),
		attribute.Int("unresolved", len(report.Unresolved)),
	)
	if err == nil {
		invariants.CheckAncestorsResolved(ancestorCtx, "pipeline.resolve_ancestors", report.Unresolved)
	}
	ancestorSpan.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("resolve ancestors: %w", err)
	}
	result.Ancestors = report
	result.Warnings = append(result.Warnings, report.Warnings...)
	ws.Freeze()

	orderCtx, orderSpan := tracer.Start(ctx, "pipeline.order")
	edges := workitem.ClassifyAll(ws.Items())
	maps := hierarchy.BuildMaps(ws, edges, logger)
	for _, child := range maps.Conflicts {
		parent, _ := maps.Parent(child)
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("work item %d has more than one parent; placed under %d", child, parent))
	}
	invariants.CheckSingleParent(orderCtx, "pipeline.order", maps.Conflicts)
	ordering := hierarchy.Order(ws, maps, logger)
	invariants.CheckRootsPresent(orderCtx, "pipeline.order", maps.HasEdges(), ordering.UsedHierarchy)
	invariants.CheckSequenceComplete(orderCtx, "pipeline.order", len(ordering.Sequence), ws.Len())
	result.Sequence = ordering.Sequence
	result.UsedHierarchy = ordering.UsedHierarchy
	result.Warnings = append(result.Warnings, ordering.Warnings...)
	orderSpan.SetAttributes(
		attribute.Bool("used_hierarchy", ordering.UsedHierarchy),
		attribute.Int("hierarchy_edges", len(maps.ChildToParent)),
	)
	orderSpan.End()

	outlineCtx, outlineSpan := tracer.Start(ctx, "pipeline.outline")
	levels, levelWarnings := hierarchy.OutlineLevels(result.Sequence, ws, maps, opts.MaxOutlineHops, logger)
	invariants.CheckOutlineDepth(outlineCtx, "pipeline.outline", len(levelWarnings), opts.MaxOutlineHops)
	result.levels = levels
	result.Warnings = append(result.Warnings, levelWarnings...)
	outlineSpan.End()

	_, depSpan := tracer.Start(ctx, "pipeline.predecessors")
	deps := predecessors.Build(edges)
	result.predecessors = predecessors.Resolve(deps, result.Sequence, opts.Delimiter, logger)
	depSpan.SetAttributes(attribute.Int("successors", len(deps)))
	depSpan.End()

	result.items = make(map[int]workitem.WorkItem, ws.Len())
	result.positions = make(map[int]int, len(result.Sequence))
	for i, id := range result.Sequence {
		item, _ := ws.Get(id)
		result.items[id] = item
		result.positions[id] = i + 1
	}

	span.SetAttributes(
		attribute.Int("exported_items", len(result.Sequence)),
		attribute.Int("warnings", len(result.Warnings)),
	)
	logger.Info("export resolved",
		"items", len(result.Sequence),
		"used_hierarchy", result.UsedHierarchy,
		"warnings", len(result.Warnings),
	)
	return result, nil
}
