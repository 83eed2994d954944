package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// OperationDescriptor describes one callable operation exposed by a worker.
type OperationDescriptor struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	InputSchema *jsonschema.Schema `json:"inputSchema,omitempty"`
}

// ServerInfo is the identity a worker reports during initialization.
type ServerInfo struct {
	Name         string         `json:"name"`
	Version      string         `json:"version,omitempty"`
	Capabilities map[string]any `json:"capabilities,omitempty"`
}

// ProtocolClient is the consumed capability for talking to one spawned
// worker process. Connect, Initialize, ListOperations, CallOperation and
// Disconnect are all suspension points; Disconnect is idempotent.
type ProtocolClient interface {
	Connect(ctx context.Context) error
	Initialize(ctx context.Context) (ServerInfo, error)
	ListOperations(ctx context.Context) ([]OperationDescriptor, error)
	CallOperation(ctx context.Context, name string, args json.RawMessage, timeout time.Duration) (json.RawMessage, error)
	Disconnect(ctx context.Context) error
	IsConnected() bool
	IsInitialized() bool
}

// ClientFactory builds a protocol client for one worker spec.
type ClientFactory func(spec WorkerSpec, settings Settings) ProtocolClient
