package ado

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/giagar5/ADO-MPP/internal/workitem"
)

// Dump is an offline snapshot of a query and the items fetched for it. The
// file uses the batch response shape plus an optional queryIds list; a bare
// array of work items is accepted too.
type Dump struct {
	QueryIDs []int
	Items    []workitem.WorkItem
}

type dumpFile struct {
	Count    int         `json:"count"`
	Value    []*WorkItem `json:"value"`
	QueryIDs []int       `json:"queryIds,omitempty"`
}

// LoadDump reads a dump file.
func LoadDump(path string) (*Dump, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dump %s: %w", path, err)
	}

	var file dumpFile
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &file.Value)
	} else {
		err = json.Unmarshal(trimmed, &file)
	}
	if err != nil {
		return nil, fmt.Errorf("parse dump %s: %w", path, err)
	}

	dump := &Dump{QueryIDs: file.QueryIDs}
	seen := map[int]struct{}{}
	for _, wi := range file.Value {
		if wi == nil {
			continue
		}
		if _, dup := seen[wi.ID]; dup {
			continue
		}
		seen[wi.ID] = struct{}{}
		dump.Items = append(dump.Items, ToModel(*wi))
	}
	return dump, nil
}

// WriteDump writes queryIDs and items to path, creating parent directories.
func WriteDump(path string, queryIDs []int, items []workitem.WorkItem) error {
	file := dumpFile{
		Count:    len(items),
		Value:    make([]*WorkItem, 0, len(items)),
		QueryIDs: queryIDs,
	}
	for _, item := range items {
		wi := FromModel(item)
		file.Value = append(file.Value, &wi)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode dump: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dump directory: %w", err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write dump %s: %w", path, err)
	}
	return nil
}

// QueryItems returns the items named by QueryIDs, or every item when the
// dump carries no query list.
func (d *Dump) QueryItems() []workitem.WorkItem {
	if len(d.QueryIDs) == 0 {
		return append([]workitem.WorkItem(nil), d.Items...)
	}
	byID := make(map[int]workitem.WorkItem, len(d.Items))
	for _, item := range d.Items {
		byID[item.ID] = item
	}
	out := make([]workitem.WorkItem, 0, len(d.QueryIDs))
	for _, id := range d.QueryIDs {
		if item, ok := byID[id]; ok {
			out = append(out, item)
		}
	}
	return out
}

// DumpSource serves FetchByIDs from a dump.
type DumpSource struct {
	items map[int]workitem.WorkItem
}

// NewDumpSource indexes the items of d.
func NewDumpSource(d *Dump) *DumpSource {
	src := &DumpSource{items: map[int]workitem.WorkItem{}}
	if d == nil {
		return src
	}
	for _, item := range d.Items {
		src.items[item.ID] = item
	}
	return src
}

// FetchByIDs returns the dump entries for ids in ascending id order. Ids
// missing from the dump are left out.
func (s *DumpSource) FetchByIDs(ctx context.Context, ids []int) ([]workitem.WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []workitem.WorkItem
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
