package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junctionhq/junction/pkg/api"
	"github.com/junctionhq/junction/pkg/bus"
	"github.com/junctionhq/junction/pkg/deintegration"
	"github.com/junctionhq/junction/pkg/ports"
	"github.com/junctionhq/junction/pkg/registry"
	"github.com/junctionhq/junction/pkg/types"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	b := bus.New(bus.Options{NodeID: "test-node", MaxHistorySize: 100})
	b.Start()
	t.Cleanup(b.Stop)

	reg := registry.New(registry.Options{
		Allocator:            ports.NewAllocator(45000, 45099),
		Bus:                  b,
		DefaultProbeInterval: time.Minute,
		DefaultProbeTimeout:  time.Second,
	})
	t.Cleanup(reg.Close)

	mgr, err := deintegration.NewManager(deintegration.Options{
		Registry:    reg,
		Bus:         b,
		Dir:         t.TempDir(),
		GracePeriod: time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(mgr.Stop)

	s := api.NewServer(api.Options{Registry: reg, Manager: mgr, Bus: b})
	server := httptest.NewServer(s.Router())
	t.Cleanup(server.Close)

	return NewClient(server.URL)
}

func TestClientRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	rec, err := c.Register(ctx, types.RegisterRequest{
		Name:    "tool",
		Type:    types.TypeDevelopmentTool,
		Config:  types.Config{"command": "run"},
		Options: types.RegisterOptions{SkipHealthCheck: true},
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, rec.Status)

	got, err := c.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "tool", got.Name)

	list, err := c.List(ctx, types.ListFilter{Type: types.TypeDevelopmentTool})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, c.Disable(ctx, rec.ID))
	require.NoError(t, c.Enable(ctx, rec.ID))

	run, err := c.Deintegrate(ctx, rec.ID, types.DeintegrateOptions{
		Policy:       types.PolicyImmediate,
		PreserveData: true,
	})
	require.NoError(t, err)
	assert.Equal(t, types.DeintegrationCompleted, run.Status)

	restored, err := c.Reintegrate(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, restored.ID)
}

func TestClientSurfacesErrorKinds(t *testing.T) {
	c := newTestClient(t)

	_, err := c.Get(context.Background(), "missing")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, types.KindNotFound, apiErr.Kind)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestClientHealthz(t *testing.T) {
	c := newTestClient(t)
	assert.NoError(t, c.Healthz(context.Background()))
}
