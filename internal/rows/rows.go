// Package rows flattens an export result into the task table MS Project
// imports, and writes it as CSV or XLSX.
package rows

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/giagar5/ADO-MPP/internal/pipeline"
)

// DefaultDateLayout is used when no layout is configured.
const DefaultDateLayout = "2006-01-02"

// Columns is the header row, in output order.
var Columns = []string{
	"ID",
	"Name",
	"Outline Level",
	"Predecessors",
	"Work Item ID",
	"Type",
	"State",
	"Resource Names",
	"Start",
	"Finish",
	"Work",
	"Remaining Work",
	"Tags",
	"URL",
}

// Row is one task line.
type Row struct {
	ID            int
	Name          string
	OutlineLevel  int
	Predecessors  string
	WorkItemID    int
	Type          string
	State         string
	ResourceNames string
	Start         string
	Finish        string
	Work          string
	RemainingWork string
	Tags          string
	URL           string
}

// Build returns one row per item of result, in sequence order.
func Build(result *pipeline.Result, dateLayout string) []Row {
	if result == nil {
		return nil
	}
	if dateLayout == "" {
		dateLayout = DefaultDateLayout
	}

	out := make([]Row, 0, result.Len())
	for _, id := range result.Sequence {
		item, _ := result.Item(id)
		finish := item.FinishDate
		if finish == nil {
			finish = item.TargetDate
		}
		out = append(out, Row{
			ID:            result.Position(id),
			Name:          item.Title,
			OutlineLevel:  result.OutlineLevel(id),
			Predecessors:  result.Predecessors(id),
			WorkItemID:    item.ID,
			Type:          item.Type,
			State:         item.State,
			ResourceNames: item.AssignedTo,
			Start:         formatDate(item.StartDate, dateLayout),
			Finish:        formatDate(finish, dateLayout),
			Work:          formatHours(item.OriginalEstimate),
			RemainingWork: formatHours(item.RemainingWork),
			Tags:          strings.Join(item.Tags, "; "),
			URL:           item.URL,
		})
	}
	return out
}

// Strings returns the row cells in Columns order.
func (r Row) Strings() []string {
	return []string{
		strconv.Itoa(r.ID),
		r.Name,
		strconv.Itoa(r.OutlineLevel),
		r.Predecessors,
		strconv.Itoa(r.WorkItemID),
		r.Type,
		r.State,
		r.ResourceNames,
		r.Start,
		r.Finish,
		r.Work,
		r.RemainingWork,
		r.Tags,
		r.URL,
	}
}

// cells returns the row cells with numeric columns kept as numbers.
func (r Row) cells() []interface{} {
	values := r.Strings()
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	out[0] = r.ID
	out[2] = r.OutlineLevel
	out[4] = r.WorkItemID
	return out
}

func formatDate(t *time.Time, layout string) string {
	if t == nil {
		return ""
	}
	return t.Format(layout)
}

func formatHours(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64) + "h"
}

// Format is an output file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// FormatFor picks the output format from override, falling back to the
// extension of path. Writing to stdout (empty path or "-") defaults to CSV.
func FormatFor(path, override string) (Format, error) {
	if override = strings.ToLower(strings.TrimSpace(override)); override != "" {
		switch Format(override) {
		case FormatCSV, FormatXLSX:
			return Format(override), nil
		default:
			return "", fmt.Errorf("unsupported format %q (want csv or xlsx)", override)
		}
	}
	if path == "" || path == "-" {
		return FormatCSV, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("cannot infer format from %q; pass --format csv or xlsx", path)
	}
}
