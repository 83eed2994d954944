package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mcphub/internal/app/engine"
	"mcphub/internal/domain"
)

type fakeClient struct {
	mu sync.Mutex

	connected   bool
	initialized bool

	ops     []domain.OperationDescriptor
	callErr error

	lastCall string
	lastArgs json.RawMessage
}

func (f *fakeClient) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeClient) Initialize(context.Context) (domain.ServerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initialized = true
	return domain.ServerInfo{Name: "fake"}, nil
}

func (f *fakeClient) ListOperations(context.Context) ([]domain.OperationDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ops, nil
}

func (f *fakeClient) CallOperation(_ context.Context, name string, args json.RawMessage, _ time.Duration) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCall = name
	f.lastArgs = args
	if f.callErr != nil {
		return nil, f.callErr
	}
	return json.RawMessage(`{"content":"ok"}`), nil
}

func (f *fakeClient) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.initialized = false
	return nil
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) IsInitialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initialized
}

type staticProvider struct {
	cfg domain.Config
}

func (p staticProvider) Snapshot() domain.Config { return p.cfg }

func ops(names ...string) []domain.OperationDescriptor {
	out := make([]domain.OperationDescriptor, 0, len(names))
	for _, name := range names {
		out = append(out, domain.OperationDescriptor{Name: name, Description: name + " op"})
	}
	return out
}

// fixture wires an engine plus router where every tenant declares a
// worker named "files", so dotted names can collide across tenants.
type fixture struct {
	eng    *engine.Engine
	router *Router

	mu      sync.Mutex
	clients map[domain.WorkerID]*fakeClient
	planted map[domain.WorkerID]*fakeClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := domain.Config{
		Settings: domain.Settings{StartupTimeoutSeconds: 5},
		Tenants: map[string]domain.TenantSpec{
			"acme": {
				TenantID: "acme",
				Workers: map[string]domain.WorkerSpec{
					"files":  {Name: "files", Command: "files-worker", Enabled: true},
					"search": {Name: "search", Command: "search-worker", Enabled: true},
				},
			},
			"beta": {
				TenantID: "beta",
				Workers: map[string]domain.WorkerSpec{
					"files": {Name: "files", Command: "files-worker", Enabled: true},
				},
			},
		},
	}

	fx := &fixture{
		clients: make(map[domain.WorkerID]*fakeClient),
		planted: make(map[domain.WorkerID]*fakeClient),
	}
	factory := func(spec domain.WorkerSpec, _ domain.Settings) domain.ProtocolClient {
		fx.mu.Lock()
		defer fx.mu.Unlock()
		// the planted map is keyed by full id; the factory only sees the
		// spec, so match on any planted entry with the same worker name
		for id, client := range fx.planted {
			if id.Worker == spec.Name {
				delete(fx.planted, id)
				fx.clients[id] = client
				return client
			}
		}
		client := &fakeClient{}
		return client
	}
	fx.eng = engine.New(staticProvider{cfg: cfg}, factory, nil, nil)
	fx.router = New(fx.eng, nil, nil)
	return fx
}

func (fx *fixture) startWith(t *testing.T, id domain.WorkerID, client *fakeClient) {
	t.Helper()
	fx.mu.Lock()
	fx.planted[id] = client
	fx.mu.Unlock()
	require.NoError(t, fx.eng.Start(context.Background(), id))
}

func TestDiscoverRegistersDottedNames(t *testing.T) {
	fx := newFixture(t)
	id := domain.MakeWorkerID("acme", "files")
	fx.startWith(t, id, &fakeClient{ops: ops("read", "write")})

	registered, err := fx.router.Discover(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, registered, 2)

	desc, ok := fx.router.Get("files.read")
	require.True(t, ok)
	require.Equal(t, id, desc.WorkerID)
	require.Equal(t, "read", desc.OriginalName)

	_, ok = fx.router.Get("files.write")
	require.True(t, ok)
}

func TestDiscoverRequiresRunningWorker(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.router.Discover(context.Background(), domain.MakeWorkerID("acme", "files"))
	require.ErrorIs(t, err, domain.ErrWorkerUnavailable)
}

func TestDiscoverRejectsForeignNameCollision(t *testing.T) {
	fx := newFixture(t)
	acme := domain.MakeWorkerID("acme", "files")
	beta := domain.MakeWorkerID("beta", "files")
	fx.startWith(t, acme, &fakeClient{ops: ops("read")})
	fx.startWith(t, beta, &fakeClient{ops: ops("read", "stat")})

	_, err := fx.router.Discover(context.Background(), acme)
	require.NoError(t, err)

	registered, err := fx.router.Discover(context.Background(), beta)
	require.ErrorIs(t, err, domain.ErrToolNameConflict)

	// the colliding entry was rejected, the rest still registered
	require.Len(t, registered, 1)
	require.Equal(t, "files.stat", registered[0].PublicName)

	desc, ok := fx.router.Get("files.read")
	require.True(t, ok)
	require.Equal(t, acme, desc.WorkerID)
}

func TestDiscoverReplacesStaleEntries(t *testing.T) {
	fx := newFixture(t)
	id := domain.MakeWorkerID("acme", "files")
	client := &fakeClient{ops: ops("read", "write")}
	fx.startWith(t, id, client)

	_, err := fx.router.Discover(context.Background(), id)
	require.NoError(t, err)

	client.mu.Lock()
	client.ops = ops("read")
	client.mu.Unlock()

	_, err = fx.router.Discover(context.Background(), id)
	require.NoError(t, err)

	_, ok := fx.router.Get("files.write")
	require.False(t, ok)
	require.Equal(t, 1, fx.router.Summary().TotalTools)
}

func TestCallRoutesOriginalNameToOwner(t *testing.T) {
	fx := newFixture(t)
	id := domain.MakeWorkerID("acme", "files")
	client := &fakeClient{ops: ops("read")}
	fx.startWith(t, id, client)
	_, err := fx.router.Discover(context.Background(), id)
	require.NoError(t, err)

	args := json.RawMessage(`{"path":"/tmp/a"}`)
	result, err := fx.router.Call(context.Background(), "files.read", args, 0)
	require.NoError(t, err)
	require.JSONEq(t, `{"content":"ok"}`, string(result))

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Equal(t, "read", client.lastCall)
	require.JSONEq(t, string(args), string(client.lastArgs))
}

func TestCallUnknownToolListsAvailable(t *testing.T) {
	fx := newFixture(t)
	id := domain.MakeWorkerID("acme", "files")
	fx.startWith(t, id, &fakeClient{ops: ops("read")})
	_, err := fx.router.Discover(context.Background(), id)
	require.NoError(t, err)

	_, err = fx.router.Call(context.Background(), "files.delete", nil, 0)
	require.ErrorIs(t, err, domain.ErrToolNotFound)
	require.Contains(t, err.Error(), "files.read")
}

func TestCallFailsWhenOwnerNotRunning(t *testing.T) {
	fx := newFixture(t)
	id := domain.MakeWorkerID("acme", "files")
	fx.startWith(t, id, &fakeClient{ops: ops("read")})
	_, err := fx.router.Discover(context.Background(), id)
	require.NoError(t, err)

	require.NoError(t, fx.eng.Stop(context.Background(), id))

	_, err = fx.router.Call(context.Background(), "files.read", nil, 0)
	require.ErrorIs(t, err, domain.ErrWorkerUnavailable)
}

func TestCallPropagatesWorkerErrorVerbatim(t *testing.T) {
	fx := newFixture(t)
	id := domain.MakeWorkerID("acme", "files")
	cause := errors.New("permission denied")
	workerErr := domain.E(domain.CodeToolCall, "stdioclient.CallOperation", "call read", cause)
	fx.startWith(t, id, &fakeClient{ops: ops("read"), callErr: workerErr})
	_, err := fx.router.Discover(context.Background(), id)
	require.NoError(t, err)

	_, err = fx.router.Call(context.Background(), "files.read", nil, 0)
	require.ErrorIs(t, err, cause)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeToolCall, code)
}

func TestCallWrapsUnexpectedFailures(t *testing.T) {
	fx := newFixture(t)
	id := domain.MakeWorkerID("acme", "files")
	workerErr := errors.New("wire corrupted")
	fx.startWith(t, id, &fakeClient{ops: ops("read"), callErr: workerErr})
	_, err := fx.router.Discover(context.Background(), id)
	require.NoError(t, err)

	_, err = fx.router.Call(context.Background(), "files.read", nil, 0)
	require.ErrorIs(t, err, workerErr)
	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeInternal, code)
}

func TestRefreshAndDiscoverAll(t *testing.T) {
	fx := newFixture(t)
	files := domain.MakeWorkerID("acme", "files")
	search := domain.MakeWorkerID("acme", "search")
	filesClient := &fakeClient{ops: ops("read")}
	fx.startWith(t, files, filesClient)
	fx.startWith(t, search, &fakeClient{ops: ops("query")})

	require.NoError(t, fx.router.DiscoverAll(context.Background()))
	require.Equal(t, 2, fx.router.Summary().TotalTools)

	filesClient.mu.Lock()
	filesClient.ops = ops("read", "stat")
	filesClient.mu.Unlock()

	refreshed, err := fx.router.Refresh(context.Background(), files)
	require.NoError(t, err)
	require.Len(t, refreshed, 2)
	require.Len(t, fx.router.GetByTenantWorker("acme", "files"), 2)
}

func TestClearWorkerAndSummary(t *testing.T) {
	fx := newFixture(t)
	files := domain.MakeWorkerID("acme", "files")
	search := domain.MakeWorkerID("acme", "search")
	fx.startWith(t, files, &fakeClient{ops: ops("read")})
	fx.startWith(t, search, &fakeClient{ops: ops("query", "index")})

	_, err := fx.router.Discover(context.Background(), files)
	require.NoError(t, err)
	_, err = fx.router.Discover(context.Background(), search)
	require.NoError(t, err)

	summary := fx.router.Summary()
	require.Equal(t, 3, summary.TotalTools)
	require.Equal(t, 2, summary.TotalWorkers)
	require.Equal(t, []string{"files.read", "search.index", "search.query"}, summary.AllTools)

	fx.router.ClearWorker(search)
	summary = fx.router.Summary()
	require.Equal(t, 1, summary.TotalTools)
	require.Equal(t, []string{"files.read"}, summary.AllTools)

	require.Len(t, fx.router.ListByTenant("acme"), 1)
	require.Empty(t, fx.router.ListByWorker(search))
}
