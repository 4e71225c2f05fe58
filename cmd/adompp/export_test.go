package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giagar5/ADO-MPP/internal/ado"
	"github.com/giagar5/ADO-MPP/internal/config"
	"github.com/giagar5/ADO-MPP/internal/rows"
	"github.com/giagar5/ADO-MPP/internal/testutil"
	"github.com/giagar5/ADO-MPP/internal/workitem"
)

const (
	colOutlineLevel = 2
	colPredecessors = 3
	colWorkItemID   = 4
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cfg, err := config.Load(context.Background())
	require.NoError(t, err)
	return cfg
}

func sampleItems() []workitem.WorkItem {
	return []workitem.WorkItem{
		testutil.Item(1, workitem.TypeEpic, "Platform", testutil.PredecessorOf(3)),
		testutil.Item(2, workitem.TypeFeature, "Login", testutil.ChildOf(1)),
		testutil.Item(3, workitem.TypeUserStory, "Form", testutil.ChildOf(2)),
	}
}

func readCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, records)
	require.Equal(t, rows.Columns, records[0])
	return records[1:]
}

func workItemIDs(records [][]string) []string {
	ids := make([]string, len(records))
	for i, record := range records {
		ids[i] = record[colWorkItemID]
	}
	return ids
}

func TestRunExportFromDumpResolvesAncestorFromDump(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	dumpPath := filepath.Join(dir, "dump.json")
	require.NoError(t, ado.WriteDump(dumpPath, []int{2, 3}, sampleItems()))

	outPath := filepath.Join(dir, "out", "plan.csv")
	var stdout, stderr bytes.Buffer
	err := runExport(context.Background(), cfg, exportFlags{input: dumpPath, output: outPath}, "run-1", testLogger(), &stdout, &stderr)
	require.NoError(t, err)
	assert.Empty(t, stdout.String())

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	records := readCSV(t, data)

	require.Equal(t, []string{"1", "2", "3"}, workItemIDs(records))
	assert.Equal(t, "1", records[2][colPredecessors])

	previous := 0
	for _, record := range records {
		level, err := strconv.Atoi(record[colOutlineLevel])
		require.NoError(t, err)
		assert.Greater(t, level, previous)
		previous = level
	}
}

func TestRunExportSaveDumpReproducesRun(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	dumpPath := filepath.Join(dir, "dump.json")
	require.NoError(t, ado.WriteDump(dumpPath, []int{2, 3}, sampleItems()))

	savedPath := filepath.Join(dir, "saved.json")
	var first, second, stderr bytes.Buffer
	require.NoError(t, runExport(context.Background(), cfg,
		exportFlags{input: dumpPath, saveDump: savedPath}, "run-1", testLogger(), &first, &stderr))

	saved, err := ado.LoadDump(savedPath)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, saved.QueryIDs)
	assert.Len(t, saved.Items, 3)

	require.NoError(t, runExport(context.Background(), cfg,
		exportFlags{input: savedPath}, "run-2", testLogger(), &second, &stderr))
	assert.Equal(t, first.String(), second.String())
}

func TestRunExportPrintsWarningsToStderr(t *testing.T) {
	cfg := testConfig(t)
	dumpPath := filepath.Join(t.TempDir(), "dump.json")
	orphan := testutil.Item(3, workitem.TypeTask, "Orphan", testutil.ChildOf(2))
	require.NoError(t, ado.WriteDump(dumpPath, []int{3}, []workitem.WorkItem{orphan}))

	var stdout, stderr bytes.Buffer
	require.NoError(t, runExport(context.Background(), cfg, exportFlags{input: dumpPath}, "run-1", testLogger(), &stdout, &stderr))

	assert.Contains(t, stderr.String(), "warning: ")
	assert.Contains(t, stderr.String(), "could not be retrieved")
	assert.Equal(t, []string{"3"}, workItemIDs(readCSV(t, stdout.Bytes())))
}

func TestRunExportUsesDelimiterFlag(t *testing.T) {
	cfg := testConfig(t)
	dumpPath := filepath.Join(t.TempDir(), "dump.json")
	items := []workitem.WorkItem{
		testutil.Item(1, workitem.TypeTask, "A", testutil.PredecessorOf(3)),
		testutil.Item(2, workitem.TypeTask, "B", testutil.PredecessorOf(3)),
		testutil.Item(3, workitem.TypeTask, "C"),
	}
	require.NoError(t, ado.WriteDump(dumpPath, nil, items))

	var stdout, stderr bytes.Buffer
	require.NoError(t, runExport(context.Background(), cfg,
		exportFlags{input: dumpPath, delimiter: ","}, "run-1", testLogger(), &stdout, &stderr))

	records := readCSV(t, stdout.Bytes())
	require.Len(t, records, 3)
	assert.Equal(t, "1,2", records[2][colPredecessors])
}

func TestRunExportRejectsMissingSourceAndBadFormat(t *testing.T) {
	cfg := testConfig(t)
	var stdout, stderr bytes.Buffer

	err := runExport(context.Background(), cfg, exportFlags{}, "run-1", testLogger(), &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--query")

	err = runExport(context.Background(), cfg, exportFlags{input: "dump.json", output: "plan.mpp"}, "run-1", testLogger(), &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plan.mpp")
}

func TestRunExportRequiresConnectionForQueries(t *testing.T) {
	cfg := testConfig(t)
	var stdout, stderr bytes.Buffer

	err := runExport(context.Background(), cfg, exportFlags{query: "SELECT [System.Id] FROM WorkItems"}, "run-1", testLogger(), &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "organization")
}

// fakeADO serves WIQL and batch work item requests.
type fakeADO struct {
	*httptest.Server

	mu         sync.Mutex
	items      map[int]ado.WorkItem
	queryIDs   []int
	authHeader string
	fetched    [][]string
}

func newFakeADO(t *testing.T, queryIDs []int, items []workitem.WorkItem) *fakeADO {
	t.Helper()
	f := &fakeADO{items: map[int]ado.WorkItem{}, queryIDs: queryIDs}
	for _, item := range items {
		f.items[item.ID] = ado.FromModel(item)
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeADO) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authHeader = r.Header.Get("Authorization")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case strings.HasSuffix(r.URL.Path, "/_apis/wit/wiql"):
		resp := ado.WIQLQueryResponse{QueryType: "flat", QueryResultType: "workItem"}
		for _, id := range f.queryIDs {
			resp.WorkItems = append(resp.WorkItems, ado.WorkItemRef{ID: id})
		}
		_ = json.NewEncoder(w).Encode(resp)
	case strings.HasSuffix(r.URL.Path, "/_apis/wit/workitems"):
		ids := strings.Split(r.URL.Query().Get("ids"), ",")
		f.fetched = append(f.fetched, ids)
		resp := ado.WorkItemBatchResponse{}
		for _, raw := range ids {
			id, _ := strconv.Atoi(raw)
			if item, ok := f.items[id]; ok {
				item := item
				resp.Value = append(resp.Value, &item)
			}
		}
		resp.Count = len(resp.Value)
		_ = json.NewEncoder(w).Encode(resp)
	default:
		http.NotFound(w, r)
	}
}

func onlineConfig(t *testing.T, endpoint string) *config.Config {
	t.Helper()
	cfg := testConfig(t)
	cfg.Organization = "fabrikam"
	cfg.Project = "Fiber"
	cfg.Endpoint = endpoint

	previous := lookupEnvFn
	lookupEnvFn = func(key string) (string, bool) {
		if key == cfg.PATEnv {
			return "secret-pat", true
		}
		return "", false
	}
	t.Cleanup(func() { lookupEnvFn = previous })
	return cfg
}

func TestRunExportOnlineFetchesMissingAncestor(t *testing.T) {
	server := newFakeADO(t, []int{2, 3}, sampleItems())
	cfg := onlineConfig(t, server.URL)

	var stdout, stderr bytes.Buffer
	err := runExport(context.Background(), cfg,
		exportFlags{query: "SELECT [System.Id] FROM WorkItems"}, "run-1", testLogger(), &stdout, &stderr)
	require.NoError(t, err)

	records := readCSV(t, stdout.Bytes())
	require.Equal(t, []string{"1", "2", "3"}, workItemIDs(records))
	assert.Equal(t, "1", records[2][colPredecessors])
	assert.Contains(t, records[0][len(rows.Columns)-1], "/Fiber/_workitems/edit/1")

	server.mu.Lock()
	defer server.mu.Unlock()
	assert.True(t, strings.HasPrefix(server.authHeader, "Basic "))
	require.Len(t, server.fetched, 2)
	assert.Equal(t, []string{"1"}, server.fetched[1])
}

func TestRunExportOnlineRequiresPAT(t *testing.T) {
	server := newFakeADO(t, []int{1}, sampleItems())
	cfg := onlineConfig(t, server.URL)
	lookupEnvFn = func(string) (string, bool) { return "", false }

	var stdout, stderr bytes.Buffer
	err := runExport(context.Background(), cfg,
		exportFlags{query: "SELECT [System.Id] FROM WorkItems"}, "run-1", testLogger(), &stdout, &stderr)
	require.ErrorIs(t, err, config.ErrMissingPAT)
}

func TestQueryCommandPrintsIDs(t *testing.T) {
	server := newFakeADO(t, []int{5, 8}, nil)
	cfg := onlineConfig(t, server.URL)

	cmd := newRootCommand(context.Background(), cfg, testLogger(), "run-1")
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs([]string{"query", "--query", "SELECT [System.Id] FROM WorkItems"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "5\n8\n", stdout.String())
}

func TestExportCommandRejectsConflictingSources(t *testing.T) {
	cmd := newRootCommand(context.Background(), testConfig(t), testLogger(), "run-1")
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs([]string{"export", "--query", "SELECT 1", "--input", "dump.json"})

	require.Error(t, cmd.Execute())
}
