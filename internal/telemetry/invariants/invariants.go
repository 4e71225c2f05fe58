package invariants

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// InvariantSingleParent requires every work item to have at most one parent.
	InvariantSingleParent = "single_parent"
	// InvariantAncestorsResolved requires every referenced parent to be present in the export.
	InvariantAncestorsResolved = "ancestors_resolved"
	// InvariantRootsPresent requires a hierarchy with edges to have at least one root.
	InvariantRootsPresent = "roots_present"
	// InvariantSequenceComplete requires every working-set item to be exported exactly once.
	InvariantSequenceComplete = "sequence_complete"
	// InvariantOutlineDepthWithinCap requires parent chains to stay within the outline hop cap.
	InvariantOutlineDepthWithinCap = "outline_depth_within_cap"
)

const (
	// SeverityWarn is used for non-fatal invariant violations.
	SeverityWarn = "warn"
	// SeverityError is used for fatal invariant violations.
	SeverityError = "error"
)

var invariantChecksEnabled atomic.Bool

func init() {
	invariantChecksEnabled.Store(true)
}

// ViolationDetails captures invariant violation context for telemetry events.
type ViolationDetails struct {
	WhatInvariant string
	WhereDetected string
	WhyViolated   string
	Additional    map[string]string
}

// SetEnabled globally enables or disables invariant checks.
func SetEnabled(enabled bool) {
	invariantChecksEnabled.Store(enabled)
}

// Enabled reports whether invariant checks are currently enabled.
func Enabled() bool {
	return invariantChecksEnabled.Load()
}

// InvariantViolation emits an invariant.violation event on the active span.
// Without an active span a short synthetic span carries the event.
func InvariantViolation(
	ctx context.Context,
	invariantName string,
	severity string,
	details ViolationDetails,
) {
	if !Enabled() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	invariantName = strings.TrimSpace(invariantName)
	if invariantName == "" {
		invariantName = "unknown_invariant"
	}
	severity = normalizeSeverity(severity)

	attrs := []attribute.KeyValue{
		attribute.String("invariant_name", invariantName),
		attribute.String("severity", severity),
		attribute.String("what_invariant", strings.TrimSpace(details.WhatInvariant)),
		attribute.String("where_detected", strings.TrimSpace(details.WhereDetected)),
		attribute.String("why_violated", strings.TrimSpace(details.WhyViolated)),
	}

	if len(details.Additional) > 0 {
		keys := make([]string, 0, len(details.Additional))
		for key := range details.Additional {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			value := strings.TrimSpace(details.Additional[key])
			if value == "" {
				continue
			}
			attrs = append(attrs, attribute.String("context."+key, value))
		}
	}

	span := trace.SpanFromContext(ctx)
	if span != nil && span.SpanContext().IsValid() {
		span.AddEvent("invariant.violation", trace.WithAttributes(attrs...))
		return
	}

	_, temporarySpan := otel.Tracer("adompp/invariants").Start(ctx, "invariant.violation")
	defer temporarySpan.End()
	temporarySpan.AddEvent("invariant.violation", trace.WithAttributes(attrs...))
}

// CheckSingleParent validates the single_parent invariant. conflicts lists
// children that were linked to more than one parent.
func CheckSingleParent(ctx context.Context, whereDetected string, conflicts []int) bool {
	if len(conflicts) == 0 {
		return true
	}
	InvariantViolation(ctx, InvariantSingleParent, SeverityWarn, ViolationDetails{
		WhatInvariant: "work item has at most one parent",
		WhereDetected: whereDetected,
		WhyViolated:   fmt.Sprintf("%d work item(s) linked to more than one parent", len(conflicts)),
		Additional: map[string]string{
			"work_item_ids": joinIDs(conflicts),
		},
	})
	return false
}

// CheckAncestorsResolved validates the ancestors_resolved invariant.
func CheckAncestorsResolved(ctx context.Context, whereDetected string, unresolved []int) bool {
	if len(unresolved) == 0 {
		return true
	}
	InvariantViolation(ctx, InvariantAncestorsResolved, SeverityWarn, ViolationDetails{
		WhatInvariant: "every referenced parent is part of the export",
		WhereDetected: whereDetected,
		WhyViolated:   fmt.Sprintf("%d parent(s) could not be retrieved", len(unresolved)),
		Additional: map[string]string{
			"work_item_ids": joinIDs(unresolved),
		},
	})
	return false
}

// CheckRootsPresent validates the roots_present invariant.
func CheckRootsPresent(ctx context.Context, whereDetected string, hasEdges, usedHierarchy bool) bool {
	if !hasEdges || usedHierarchy {
		return true
	}
	InvariantViolation(ctx, InvariantRootsPresent, SeverityWarn, ViolationDetails{
		WhatInvariant: "hierarchy with parent links has at least one root",
		WhereDetected: whereDetected,
		WhyViolated:   "every item has a parent; ordering fell back to type priority",
	})
	return false
}

// CheckSequenceComplete validates the sequence_complete invariant.
func CheckSequenceComplete(ctx context.Context, whereDetected string, emitted, total int) bool {
	if emitted == total {
		return true
	}
	InvariantViolation(ctx, InvariantSequenceComplete, SeverityError, ViolationDetails{
		WhatInvariant: "every work item is exported exactly once",
		WhereDetected: whereDetected,
		WhyViolated:   fmt.Sprintf("emitted=%d total=%d", emitted, total),
		Additional: map[string]string{
			"emitted": strconv.Itoa(emitted),
			"total":   strconv.Itoa(total),
		},
	})
	return false
}

// CheckOutlineDepth validates the outline_depth_within_cap invariant.
func CheckOutlineDepth(ctx context.Context, whereDetected string, exceeded, maxHops int) bool {
	if exceeded == 0 {
		return true
	}
	InvariantViolation(ctx, InvariantOutlineDepthWithinCap, SeverityWarn, ViolationDetails{
		WhatInvariant: "parent chains stay within the outline hop cap",
		WhereDetected: whereDetected,
		WhyViolated:   fmt.Sprintf("%d item(s) exceeded max_hops=%d", exceeded, maxHops),
		Additional: map[string]string{
			"exceeded": strconv.Itoa(exceeded),
			"max_hops": strconv.Itoa(maxHops),
		},
	})
	return false
}

func normalizeSeverity(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case SeverityWarn:
		return SeverityWarn
	default:
		return SeverityError
	}
}

func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}
