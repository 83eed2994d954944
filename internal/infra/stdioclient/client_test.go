package stdioclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"mcphub/internal/domain"
)

func newTestClient() *Client {
	spec := domain.WorkerSpec{
		Name:    "files",
		Command: "files-worker",
		Enabled: true,
	}
	settings := domain.Settings{
		RestartMaxRetries:     3,
		StartupTimeoutSeconds: 5,
	}
	return New(spec, settings, nil)
}

func TestInitializeRequiresConnection(t *testing.T) {
	client := newTestClient()

	_, err := client.Initialize(context.Background())
	require.ErrorIs(t, err, domain.ErrNotConnected)

	code, ok := domain.CodeFrom(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeUnavailable, code)
}

func TestOperationsRequireInitializedSession(t *testing.T) {
	client := newTestClient()

	_, err := client.ListOperations(context.Background())
	require.ErrorIs(t, err, domain.ErrNotConnected)

	_, err = client.CallOperation(context.Background(), "read", nil, 0)
	require.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestPingRequiresConnection(t *testing.T) {
	client := newTestClient()

	err := client.Ping(context.Background())
	require.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestDisconnectIsIdempotentWhenNeverConnected(t *testing.T) {
	client := newTestClient()

	require.NoError(t, client.Disconnect(context.Background()))
	require.NoError(t, client.Disconnect(context.Background()))
	require.False(t, client.IsConnected())
	require.False(t, client.IsInitialized())
}

func TestFactoryBuildsDisconnectedClients(t *testing.T) {
	factory := Factory(nil)

	client := factory(domain.WorkerSpec{Name: "files", Command: "files-worker"}, domain.Settings{StartupTimeoutSeconds: 5})
	require.False(t, client.IsConnected())
	require.False(t, client.IsInitialized())
}
