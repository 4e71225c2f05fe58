// Package ado reads work items from the Azure DevOps REST API and from
// offline JSON dumps of it.
package ado

import (
	"fmt"
	"time"
)

// API constants
const (
	DefaultTimeout          = 30 * time.Second
	MaxPageSize             = 200
	APIVersion              = "7.0"
	DefaultConcurrency      = 4
	DefaultRetryMaxElapsed  = time.Minute
	defaultRetryInitial     = 500 * time.Millisecond
	maxErrorBodyLen         = 512
	defaultOrganizationHost = "https://dev.azure.com"
)

// WorkItem is the wire form of an Azure DevOps work item.
type WorkItem struct {
	ID        int                `json:"id"`
	Rev       int                `json:"rev,omitempty"`
	URL       string             `json:"url,omitempty"`
	Fields    WorkItemFields     `json:"fields"`
	Relations []WorkItemRelation `json:"relations,omitempty"`
	Links     *WorkItemLinks     `json:"_links,omitempty"`
}

// WorkItemFields contains the field values the exporter reads.
type WorkItemFields struct {
	WorkItemType     string    `json:"System.WorkItemType"`
	Title            string    `json:"System.Title"`
	State            string    `json:"System.State,omitempty"`
	AssignedTo       *Identity `json:"System.AssignedTo,omitempty"`
	AreaPath         string    `json:"System.AreaPath,omitempty"`
	IterationPath    string    `json:"System.IterationPath,omitempty"`
	Tags             string    `json:"System.Tags,omitempty"` // Semicolon-separated
	StartDate        string    `json:"Microsoft.VSTS.Scheduling.StartDate,omitempty"`
	FinishDate       string    `json:"Microsoft.VSTS.Scheduling.FinishDate,omitempty"`
	TargetDate       string    `json:"Microsoft.VSTS.Scheduling.TargetDate,omitempty"`
	OriginalEstimate *float64  `json:"Microsoft.VSTS.Scheduling.OriginalEstimate,omitempty"`
	RemainingWork    *float64  `json:"Microsoft.VSTS.Scheduling.RemainingWork,omitempty"`
	CompletedWork    *float64  `json:"Microsoft.VSTS.Scheduling.CompletedWork,omitempty"`
}

// Identity represents an Azure DevOps user identity.
type Identity struct {
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"displayName"`
	UniqueName  string `json:"uniqueName,omitempty"`
}

// WorkItemLinks contains hypermedia links.
type WorkItemLinks struct {
	HTML Link `json:"html"`
}

// Link is a hypermedia link.
type Link struct {
	Href string `json:"href"`
}

// WorkItemRelation represents a link between work items.
type WorkItemRelation struct {
	Rel        string                 `json:"rel"`
	URL        string                 `json:"url"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// WIQLQueryRequest is the request body for WIQL queries.
type WIQLQueryRequest struct {
	Query string `json:"query"`
}

// WIQLQueryResponse is the response from a WIQL query. Flat queries fill
// WorkItems; tree and one-hop queries fill WorkItemRelations.
type WIQLQueryResponse struct {
	QueryType         string           `json:"queryType"`
	QueryResultType   string           `json:"queryResultType"`
	AsOf              string           `json:"asOf,omitempty"`
	WorkItems         []WorkItemRef    `json:"workItems"`
	WorkItemRelations []WorkItemRelRef `json:"workItemRelations,omitempty"`
}

// WorkItemRef is a reference to a work item in WIQL results.
type WorkItemRef struct {
	ID  int    `json:"id"`
	URL string `json:"url,omitempty"`
}

// WorkItemRelRef is a reference with relation info.
type WorkItemRelRef struct {
	Source *WorkItemRef `json:"source,omitempty"`
	Target *WorkItemRef `json:"target"`
	Rel    string       `json:"rel,omitempty"`
}

// WorkItemBatchResponse is the response from a batch get. Entries are nil
// for ids the caller cannot see when errorPolicy=omit is set.
type WorkItemBatchResponse struct {
	Count int         `json:"count"`
	Value []*WorkItem `json:"value"`
}

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > maxErrorBodyLen {
		body = body[:maxErrorBodyLen] + "..."
	}
	return fmt.Sprintf("API error %d: %s", e.StatusCode, body)
}

// Temporary reports whether the request may succeed when retried.
func (e *APIError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
