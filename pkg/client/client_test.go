package client

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/cascade/pkg/api"
	"github.com/cuemby/cascade/pkg/engine"
	"github.com/cuemby/cascade/pkg/pipeline"
	"github.com/cuemby/cascade/pkg/queue"
	"github.com/cuemby/cascade/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clientEcho struct{}

func (clientEcho) Run(rc *pipeline.RunContext) (any, error) {
	return rc.Arg(0), nil
}

// TestClientAgainstServer drives the query client against a live API
// server backed by a real engine.
func TestClientAgainstServer(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	q := queue.NewMemory()
	reg := pipeline.NewRegistry()
	reg.MustRegister("demo.Echo", func() any { return clientEcho{} })
	eng := engine.New(store, nil, q, reg, nil, engine.Config{})

	server := httptest.NewServer(api.NewServer(eng, api.Config{}).Handler())
	t.Cleanup(server.Close)

	ctx := context.Background()
	rootID, err := eng.Start(ctx, pipeline.StageCall{
		ClassPath: "demo.Echo",
		Args:      []any{"ping"},
	}, engine.StartOptions{})
	require.NoError(t, err)
	for task := q.Pop(); task != nil; task = q.Pop() {
		require.NoError(t, eng.Deliver(ctx, task.Path, task.Params))
	}

	c := NewClient(server.URL)

	names, err := c.ClassPaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"demo.Echo"}, names)

	list, err := c.RootList(ctx, "", "", 10)
	require.NoError(t, err)
	require.Len(t, list.Pipelines, 1)
	assert.Equal(t, rootID, list.Pipelines[0].PipelineID)
	assert.Equal(t, "done", list.Pipelines[0].Status)

	tree, err := c.Tree(ctx, rootID)
	require.NoError(t, err)
	assert.Equal(t, rootID, tree.RootPipelineID)
	assert.Contains(t, tree.Pipelines, rootID)

	// Filtered listing with no matches comes back empty.
	empty, err := c.RootList(ctx, "demo.Missing", "", 10)
	require.NoError(t, err)
	assert.Empty(t, empty.Pipelines)
}
