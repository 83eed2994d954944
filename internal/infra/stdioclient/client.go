// Package stdioclient implements the worker protocol client over a
// spawned process speaking MCP on stdio.
package stdioclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"mcphub/internal/domain"
)

const protocolVersion = "2025-06-18"

var requestSeq atomic.Uint64

// Client drives one worker process. Connect spawns the process and opens
// the stdio transport; Initialize performs the MCP handshake. Disconnect
// is idempotent and resets the client to its pre-connect shape.
type Client struct {
	spec     domain.WorkerSpec
	settings domain.Settings
	logger   *zap.Logger

	mu          sync.Mutex
	conn        mcp.Connection
	connected   bool
	initialized bool
	serverInfo  domain.ServerInfo
}

// New builds a disconnected client for the given worker spec.
func New(spec domain.WorkerSpec, settings domain.Settings, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		spec:     spec,
		settings: settings,
		logger:   logger.Named("stdioclient").With(zap.String("worker", spec.Name)),
	}
}

// Factory adapts New to the domain client factory shape.
func Factory(logger *zap.Logger) domain.ClientFactory {
	return func(spec domain.WorkerSpec, settings domain.Settings) domain.ProtocolClient {
		return New(spec, settings, logger)
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.logger.Warn("connect called on connected client")
		return nil
	}

	cmd := exec.Command(c.spec.Command, c.spec.Args...)
	cmd.Env = os.Environ()

	transport := &mcp.CommandTransport{Command: cmd}
	conn, err := transport.Connect(ctx)
	if err != nil {
		return domain.E(domain.CodeConnection, "stdioclient.Connect",
			fmt.Sprintf("spawn %s: %v", c.spec.Command, err), err)
	}

	c.conn = conn
	c.connected = true
	c.logger.Info("connection established", zap.String("command", c.spec.Command))
	return nil
}

func (c *Client) Initialize(ctx context.Context) (domain.ServerInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return domain.ServerInfo{}, domain.E(domain.CodeUnavailable, "stdioclient.Initialize", "", domain.ErrNotConnected)
	}
	if c.initialized {
		return c.serverInfo, nil
	}

	initCtx, cancel := context.WithTimeout(ctx, c.settings.StartupTimeout())
	defer cancel()

	params := &mcp.InitializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo: &mcp.Implementation{
			Name:    "mcphub",
			Version: "0.1.0",
		},
		Capabilities: &mcp.ClientCapabilities{},
	}

	var result struct {
		ProtocolVersion string              `json:"protocolVersion"`
		ServerInfo      *mcp.Implementation `json:"serverInfo"`
		Capabilities    map[string]any      `json:"capabilities"`
	}
	if err := c.roundTripLocked(initCtx, "initialize", params, &result); err != nil {
		// A half-initialized session is unusable; drop the connection so
		// the caller observes a clean disconnected client.
		c.disconnectLocked()
		return domain.ServerInfo{}, domain.E(domain.CodeInitialization, "stdioclient.Initialize", "", err)
	}

	if err := c.notifyLocked(initCtx, "notifications/initialized", struct{}{}); err != nil {
		c.disconnectLocked()
		return domain.ServerInfo{}, domain.E(domain.CodeInitialization, "stdioclient.Initialize", "", err)
	}

	info := domain.ServerInfo{Name: "unknown", Version: "1.0.0"}
	if result.ServerInfo != nil {
		if result.ServerInfo.Name != "" {
			info.Name = result.ServerInfo.Name
		}
		if result.ServerInfo.Version != "" {
			info.Version = result.ServerInfo.Version
		}
	}
	info.Capabilities = result.Capabilities

	c.serverInfo = info
	c.initialized = true
	c.logger.Info("session initialized", zap.String("server", info.Name))
	return info, nil
}

func (c *Client) ListOperations(ctx context.Context) ([]domain.OperationDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return nil, domain.E(domain.CodeUnavailable, "stdioclient.ListOperations", "session not initialized", domain.ErrNotConnected)
	}

	listCtx, cancel := context.WithTimeout(ctx, c.settings.StartupTimeout())
	defer cancel()

	var result struct {
		Tools []domain.OperationDescriptor `json:"tools"`
	}
	if err := c.roundTripLocked(listCtx, "tools/list", struct{}{}, &result); err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	return result.Tools, nil
}

func (c *Client) CallOperation(ctx context.Context, name string, args json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return nil, domain.E(domain.CodeUnavailable, "stdioclient.CallOperation", "session not initialized", domain.ErrNotConnected)
	}

	if timeout <= 0 {
		timeout = c.settings.StartupTimeout()
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	params := struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}{Name: name, Arguments: args}

	attempts := c.settings.RestartMaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		var result json.RawMessage
		err := c.roundTripLocked(callCtx, "tools/call", params, &result)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
		// Only per-attempt deadline expiry is retried; protocol errors
		// and caller cancellation are final.
		if !errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			break
		}
		if attempt < attempts {
			c.logger.Warn("tool call timed out, retrying",
				zap.String("tool", name),
				zap.Int("attempt", attempt),
				zap.Int("maxAttempts", attempts),
			)
			time.Sleep(time.Second)
		}
	}
	return nil, domain.E(domain.CodeToolCall, "stdioclient.CallOperation",
		fmt.Sprintf("call %s: %v", name, lastErr), lastErr)
}

// Ping probes the session with a jsonrpc ping round-trip.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return domain.E(domain.CodeUnavailable, "stdioclient.Ping", "", domain.ErrNotConnected)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.roundTripLocked(pingCtx, "ping", struct{}{}, nil); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

func (c *Client) Disconnect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	return c.disconnectLocked()
}

func (c *Client) disconnectLocked() error {
	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	c.initialized = false
	c.serverInfo = domain.ServerInfo{}
	if err != nil {
		c.logger.Error("connection close failed", zap.Error(err))
		return fmt.Errorf("close connection: %w", err)
	}
	c.logger.Info("connection closed")
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// ServerInfo returns the identity recorded during initialization.
func (c *Client) ServerInfo() (domain.ServerInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo, c.initialized
}

// roundTripLocked sends one request and decodes the matching response,
// skipping server-initiated notifications in between.
func (c *Client) roundTripLocked(ctx context.Context, method string, params any, out any) error {
	if c.conn == nil {
		return domain.ErrNotConnected
	}

	seq := requestSeq.Add(1)
	id, err := jsonrpc.MakeID(fmt.Sprintf("mcphub-%d", seq))
	if err != nil {
		return fmt.Errorf("build request id: %w", err)
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}

	req := &jsonrpc.Request{
		ID:     id,
		Method: method,
		Params: rawParams,
	}
	if err := c.conn.Write(ctx, req); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	for {
		msg, err := c.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("recv %s: %w", method, err)
		}
		resp, ok := msg.(*jsonrpc.Response)
		if !ok {
			continue
		}
		if resp.Error != nil {
			return fmt.Errorf("%s error: %w", method, resp.Error)
		}
		if out == nil || resp.Result == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	}
}

func (c *Client) notifyLocked(ctx context.Context, method string, params any) error {
	if c.conn == nil {
		return domain.ErrNotConnected
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}
	note := &jsonrpc.Request{
		Method: method,
		Params: rawParams,
	}
	return c.conn.Write(ctx, note)
}

var _ domain.ProtocolClient = (*Client)(nil)
