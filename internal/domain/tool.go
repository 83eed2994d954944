package domain

import "github.com/google/jsonschema-go/jsonschema"

// ToolDescriptor is one discovered operation in the router catalog.
// (WorkerID, OriginalName) is the catalog primary key; PublicName is the
// derived dotted form "<workerShortName>.<originalName>".
type ToolDescriptor struct {
	WorkerID     WorkerID           `json:"workerId"`
	OriginalName string             `json:"originalName"`
	PublicName   string             `json:"publicName"`
	Description  string             `json:"description,omitempty"`
	InputSchema  *jsonschema.Schema `json:"inputSchema,omitempty"`
}

// CatalogSummary is an aggregate view over the router catalog.
type CatalogSummary struct {
	TotalTools    int                 `json:"totalTools"`
	TotalWorkers  int                 `json:"totalWorkers"`
	ToolsByWorker map[string][]string `json:"toolsByWorker"`
	AllTools      []string            `json:"allTools"`
}

// TenantToolsSummary groups a tenant's tools by owning worker.
type TenantToolsSummary struct {
	TenantID      string              `json:"tenantId"`
	Exists        bool                `json:"exists"`
	TotalTools    int                 `json:"totalTools"`
	ActiveWorkers int                 `json:"activeWorkers"`
	ToolsByWorker map[string][]string `json:"toolsByWorker"`
	AllTools      []string            `json:"allTools"`
}
