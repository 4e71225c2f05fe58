package ado

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/giagar5/ADO-MPP/internal/logging"
	"github.com/giagar5/ADO-MPP/internal/workitem"
)

const tracerName = "adompp/ado"

// Client provides methods to read work items from the Azure DevOps REST API.
type Client struct {
	Organization string
	Project      string
	BaseURL      string // Full base URL (derived from Organization)

	pat             string
	httpClient      *http.Client
	batchSize       int
	concurrency     int
	retryMaxElapsed time.Duration
	retryInitial    time.Duration
	logger          logging.Logger
	tracer          trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the base URL, e.g. for Azure DevOps Server.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
			c.BaseURL = strings.TrimSuffix(endpoint, "/")
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithBatchSize sets how many ids are requested per page, capped at MaxPageSize.
func WithBatchSize(size int) Option {
	return func(c *Client) {
		if size > 0 && size <= MaxPageSize {
			c.batchSize = size
		}
	}
}

// WithConcurrency bounds the number of pages fetched at once.
func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithRetryMaxElapsed bounds the total time spent retrying one request.
// Zero disables retries.
func WithRetryMaxElapsed(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.retryMaxElapsed = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		c.logger = logging.OrDiscard(logger)
	}
}

// NewClient creates a new Azure DevOps client. organization may be a name
// or a full collection URL.
func NewClient(organization, project, pat string, opts ...Option) *Client {
	baseURL := organization
	if !strings.HasPrefix(organization, "http") {
		baseURL = fmt.Sprintf("%s/%s", defaultOrganizationHost, organization)
	}

	c := &Client{
		Organization:    organization,
		Project:         project,
		BaseURL:         strings.TrimSuffix(baseURL, "/"),
		pat:             pat,
		httpClient:      &http.Client{Timeout: DefaultTimeout},
		batchSize:       MaxPageSize,
		concurrency:     DefaultConcurrency,
		retryMaxElapsed: DefaultRetryMaxElapsed,
		retryInitial:    defaultRetryInitial,
		logger:          logging.Discard(),
		tracer:          otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// QueryIDs runs a WIQL query and returns the matched work item ids.
func (c *Client) QueryIDs(ctx context.Context, wiql string) ([]int, error) {
	if strings.TrimSpace(wiql) == "" {
		return nil, errors.New("wiql query is empty")
	}
	respBody, err := c.doRequest(ctx, http.MethodPost, c.projectPath("_apis/wit/wiql"), nil, WIQLQueryRequest{Query: wiql})
	if err != nil {
		return nil, fmt.Errorf("WIQL query failed: %w", err)
	}
	return parseQueryIDs(respBody)
}

// SavedQueryIDs runs a stored query by its GUID.
func (c *Client) SavedQueryIDs(ctx context.Context, queryID string) ([]int, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(queryID))
	if err != nil {
		return nil, fmt.Errorf("invalid query id %q: %w", queryID, err)
	}
	respBody, err := c.doRequest(ctx, http.MethodGet, c.projectPath("_apis/wit/wiql/"+parsed.String()), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("saved query %s failed: %w", parsed, err)
	}
	return parseQueryIDs(respBody)
}

func parseQueryIDs(respBody []byte) ([]int, error) {
	var queryResp WIQLQueryResponse
	if err := json.Unmarshal(respBody, &queryResp); err != nil {
		return nil, fmt.Errorf("failed to parse WIQL response: %w", err)
	}

	seen := map[int]struct{}{}
	var ids []int
	add := func(ref *WorkItemRef) {
		if ref == nil || ref.ID <= 0 {
			return
		}
		if _, ok := seen[ref.ID]; ok {
			return
		}
		seen[ref.ID] = struct{}{}
		ids = append(ids, ref.ID)
	}
	for i := range queryResp.WorkItems {
		add(&queryResp.WorkItems[i])
	}
	for _, rel := range queryResp.WorkItemRelations {
		add(rel.Source)
		add(rel.Target)
	}
	return ids, nil
}

// GetWorkItems fetches ids with their relations. Ids the service omits
// (deleted or not visible) are skipped. Any failed page fails the call.
func (c *Client) GetWorkItems(ctx context.Context, ids []int) ([]workitem.WorkItem, error) {
	pages := c.pages(ids)
	results := make([][]*WorkItem, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, page := range pages {
		i, page := i, page
		g.Go(func() error {
			items, err := c.fetchPage(gctx, page)
			if err != nil {
				return err
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return c.merge(results), nil
}

// FetchByIDs fetches ids page by page. Pages that fail are reported in the
// joined error while the items of successful pages are still returned.
func (c *Client) FetchByIDs(ctx context.Context, ids []int) ([]workitem.WorkItem, error) {
	pages := c.pages(ids)
	results := make([][]*WorkItem, len(pages))
	errs := make([]error, len(pages))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, page := range pages {
		i, page := i, page
		g.Go(func() error {
			results[i], errs[i] = c.fetchPage(ctx, page)
			return nil
		})
	}
	_ = g.Wait()
	return c.merge(results), errors.Join(errs...)
}

func (c *Client) pages(ids []int) [][]int {
	seen := make(map[int]struct{}, len(ids))
	unique := make([]int, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	var pages [][]int
	for i := 0; i < len(unique); i += c.batchSize {
		end := i + c.batchSize
		if end > len(unique) {
			end = len(unique)
		}
		pages = append(pages, unique[i:end])
	}
	return pages
}

func (c *Client) fetchPage(ctx context.Context, ids []int) ([]*WorkItem, error) {
	idStrings := make([]string, len(ids))
	for i, id := range ids {
		idStrings[i] = strconv.Itoa(id)
	}

	query := url.Values{}
	query.Set("ids", strings.Join(idStrings, ","))
	query.Set("$expand", "relations")
	query.Set("errorPolicy", "omit")

	respBody, err := c.doRequest(ctx, http.MethodGet, c.projectPath("_apis/wit/workitems"), query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch work items %d..%d: %w", ids[0], ids[len(ids)-1], err)
	}

	var batchResp WorkItemBatchResponse
	if err := json.Unmarshal(respBody, &batchResp); err != nil {
		return nil, fmt.Errorf("failed to parse work items response: %w", err)
	}
	return batchResp.Value, nil
}

func (c *Client) merge(pages [][]*WorkItem) []workitem.WorkItem {
	var out []workitem.WorkItem
	for _, page := range pages {
		for _, wi := range page {
			if wi == nil {
				continue
			}
			item := ToModel(*wi)
			if item.URL == "" {
				item.URL = c.BuildWorkItemURL(item.ID)
			}
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// BuildWorkItemURL returns the web URL for a work item.
func (c *Client) BuildWorkItemURL(id int) string {
	return fmt.Sprintf("%s/%s/_workitems/edit/%d", c.BaseURL, url.PathEscape(c.Project), id)
}

func (c *Client) projectPath(rest string) string {
	return "/" + url.PathEscape(c.Project) + "/" + rest
}

// doRequest performs an authenticated request, retrying throttled, server
// and transport failures with exponential backoff.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body interface{}) ([]byte, error) {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = data
	}

	if query == nil {
		query = url.Values{}
	}
	query.Set("api-version", APIVersion)
	reqURL := c.BaseURL + path + "?" + query.Encode()

	var respBody []byte
	attempt := 0
	op := func() error {
		attempt++
		data, err := c.send(ctx, method, path, reqURL, payload, attempt)
		if err == nil {
			respBody = data
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return backoff.Permanent(err)
		}
		c.logger.Debug("retrying request", "method", method, "path", path, "attempt", attempt, "err", err)
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(c.newBackoff(), ctx)); err != nil {
		return nil, err
	}
	return respBody, nil
}

func (c *Client) newBackoff() backoff.BackOff {
	if c.retryMaxElapsed == 0 {
		return &backoff.StopBackOff{}
	}
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInitial
	bo.MaxElapsedTime = c.retryMaxElapsed
	return bo
}

func (c *Client) send(ctx context.Context, method, path, reqURL string, payload []byte, attempt int) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "ado.request", trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("ado.path", path),
		attribute.Int("ado.attempt", attempt),
	))
	defer span.End()

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Azure DevOps uses Basic auth with empty username and PAT as password
	auth := base64.StdEncoding.EncodeToString([]byte(":" + c.pat))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		return nil, apiErr
	}
	return respBody, nil
}
