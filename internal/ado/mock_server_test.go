package ado

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockServer is an in-memory Azure DevOps work item service.
type mockServer struct {
	*httptest.Server

	mu        sync.Mutex
	workItems map[int]*WorkItem
	omitted   map[int]bool
	failIDs   map[int]int
	wiql      WIQLQueryResponse
	requests  []*http.Request
	bodies    []string
	failures  []int // statuses returned before serving normally
}

func newMockServer(t *testing.T) *mockServer {
	t.Helper()
	m := &mockServer{
		workItems: map[int]*WorkItem{},
		omitted:   map[int]bool{},
		failIDs:   map[int]int{},
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.Close)
	return m
}

func (m *mockServer) client(opts ...Option) *Client {
	c := NewClient("fabrikam", "Fabrikam", "secret-pat", append([]Option{WithEndpoint(m.URL)}, opts...)...)
	c.retryInitial = time.Millisecond
	return c
}

func (m *mockServer) addItem(id int, itemType, title string, relations ...WorkItemRelation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workItems[id] = &WorkItem{
		ID:        id,
		Fields:    WorkItemFields{WorkItemType: itemType, Title: title},
		Relations: relations,
	}
}

func (m *mockServer) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *mockServer) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	m.mu.Lock()
	m.requests = append(m.requests, r)
	m.bodies = append(m.bodies, string(body))
	if len(m.failures) > 0 {
		status := m.failures[0]
		m.failures = m.failures[1:]
		m.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"message":"injected failure"}`))
		return
	}
	m.mu.Unlock()

	path := r.URL.Path
	switch {
	case strings.Contains(path, "/_apis/wit/wiql"):
		m.writeJSON(w, m.wiql)
	case strings.HasSuffix(path, "/_apis/wit/workitems") && r.Method == http.MethodGet:
		m.handleGetWorkItems(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
		m.writeJSON(w, map[string]string{"message": "not found"})
	}
}

func (m *mockServer) handleGetWorkItems(w http.ResponseWriter, r *http.Request) {
	idsParam := r.URL.Query().Get("ids")
	if idsParam == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	response := WorkItemBatchResponse{}
	for _, idStr := range strings.Split(idsParam, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(idStr))
		if err != nil {
			continue
		}
		if status, ok := m.failIDs[id]; ok {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"message":"page failed"}`))
			return
		}
		if m.omitted[id] {
			response.Value = append(response.Value, nil)
			continue
		}
		if wi, ok := m.workItems[id]; ok {
			response.Value = append(response.Value, wi)
		}
	}
	response.Count = len(response.Value)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (m *mockServer) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
