package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thebtf/incident-cluster/internal/config"
	"github.com/thebtf/incident-cluster/internal/metrics"
	"github.com/thebtf/incident-cluster/pkg/models"
	"go.opentelemetry.io/otel/metric/noop"
)

func testEngine(t *testing.T, maxItems int) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Version = "test-v"
	cfg.MaxItems = maxItems

	ins, err := metrics.New(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	return New(cfg, ins)
}

func ptr[T any](v T) *T { return &v }

func TestCluster_UsesRequestOverrides(t *testing.T) {
	e := testEngine(t, 10)
	req := &models.ClusterRequest{
		Items: []models.ClusterItem{
			{ID: "a", Embedding: models.Embedding{Values: []float64{0, 0}}, Source: ptr("a")},
			{ID: "b", Embedding: models.Embedding{Values: []float64{0, 0}}, Source: ptr("b")},
		},
		Eps:        ptr(0.1),
		MinSamples: ptr(2),
	}

	resp, err := e.Cluster(context.Background(), req, metrics.TransportHTTP)
	require.NoError(t, err)
	assert.Equal(t, "test-v", resp.Version)
	assert.Equal(t, []models.ResultRecord{
		{ID: "a", EventClusterID: 0, ClusterSize: 2},
		{ID: "b", EventClusterID: 0, ClusterSize: 2},
	}, resp.Results)
}

func TestCluster_DefaultMinSamplesLeavesPairAsNoise(t *testing.T) {
	e := testEngine(t, 10)
	req := &models.ClusterRequest{
		Items: []models.ClusterItem{
			{ID: "a", Embedding: models.Embedding{Values: []float64{0, 0}}, Source: ptr("a")},
			{ID: "b", Embedding: models.Embedding{Values: []float64{0, 0}}, Source: ptr("b")},
		},
	}

	resp, err := e.Cluster(context.Background(), req, metrics.TransportHTTP)
	require.NoError(t, err)
	for _, r := range resp.Results {
		assert.True(t, r.IsNoise())
	}
}

func TestCluster_TooManyItems(t *testing.T) {
	e := testEngine(t, 1)
	req := &models.ClusterRequest{Items: make([]models.ClusterItem, 2)}

	_, err := e.Cluster(context.Background(), req, metrics.TransportHTTP)
	assert.ErrorIs(t, err, ErrTooManyItems)
}

func TestCluster_InvalidParams(t *testing.T) {
	e := testEngine(t, 10)
	req := &models.ClusterRequest{Eps: ptr(-1.0)}

	_, err := e.Cluster(context.Background(), req, metrics.TransportStream)
	assert.ErrorIs(t, err, models.ErrInvalidParams)
}

func TestCluster_EmptyBatch(t *testing.T) {
	e := New(config.Default(), nil)

	resp, err := e.Cluster(context.Background(), &models.ClusterRequest{}, metrics.TransportHTTP)
	require.NoError(t, err)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestCluster_ContextEnded(t *testing.T) {
	e := testEngine(t, 10)
	req := &models.ClusterRequest{Items: []models.ClusterItem{
		{ID: "a", Embedding: models.Embedding{Values: []float64{0}}},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Cluster(ctx, req, metrics.TransportStream)
	assert.ErrorIs(t, err, context.Canceled)

	ctx, cancel = context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err = e.Cluster(ctx, req, metrics.TransportHTTP)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
