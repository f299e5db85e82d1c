// Package engine runs clustering requests against the configured defaults.
// It is shared by the HTTP transport and the stream consumer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/thebtf/incident-cluster/internal/config"
	"github.com/thebtf/incident-cluster/internal/metrics"
	"github.com/thebtf/incident-cluster/pkg/clustering"
	"github.com/thebtf/incident-cluster/pkg/models"
)

// ErrTooManyItems is returned when a batch exceeds the configured item limit.
var ErrTooManyItems = errors.New("too many items")

// Engine turns cluster requests into responses.
type Engine struct {
	version  string
	defaults models.ClusterParams
	maxItems int
	metrics  *metrics.Instruments
}

// New creates an engine from the immutable configuration.
// ins may be nil, in which case nothing is recorded.
func New(cfg config.Config, ins *metrics.Instruments) *Engine {
	return &Engine{
		version:  cfg.Version,
		defaults: cfg.Cluster,
		maxItems: cfg.MaxItems,
		metrics:  ins,
	}
}

// Version returns the version tag reported in responses.
func (e *Engine) Version() string {
	return e.version
}

// Cluster validates the request parameters and batch size, then runs the pipeline.
// Returned errors wrap ErrTooManyItems, models.ErrInvalidParams or the
// context error when ctx ends before the result is ready.
func (e *Engine) Cluster(ctx context.Context, req *models.ClusterRequest, transport string) (*models.ClusterResponse, error) {
	logger := zerolog.Ctx(ctx)

	if len(req.Items) > e.maxItems {
		return nil, fmt.Errorf("%w: %d items exceeds limit of %d", ErrTooManyItems, len(req.Items), e.maxItems)
	}

	params, err := req.Params(e.defaults)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("cluster batch: %w", err)
	}

	start := time.Now()
	res, err := clustering.Run(req.EmbeddingItems(), params)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	// Run is not interruptible; a batch that outlived its deadline is discarded
	if err := ctx.Err(); err != nil {
		logger.Warn().
			Err(err).
			Int("items", len(req.Items)).
			Dur("elapsed", elapsed).
			Msg("Clustering finished after the request context ended")
		return nil, fmt.Errorf("cluster batch: %w", err)
	}

	for _, r := range res.Rejections {
		logger.Debug().
			Int("index", r.Index).
			Str("id", req.Items[r.Index].ID).
			Str("reason", r.Reason).
			Msg("Item excluded from clustering")
	}
	for _, v := range res.Verdicts {
		if !v.Accepted {
			logger.Debug().
				Int("label", v.Cluster.Label).
				Int("size", len(v.Cluster.Members)).
				Int("sources", v.Cluster.DistinctSources()).
				Float64("dominance", v.Cluster.Dominance()).
				Str("reason", v.Reason).
				Msg("Cluster rejected")
		}
	}

	logger.Info().
		Str("transport", transport).
		Int("items", res.Stats.Items).
		Int("invalid", res.Stats.Invalid).
		Int("clusters", res.Stats.Clusters).
		Int("accepted", res.Stats.Accepted).
		Int("rejected", res.Stats.Rejected).
		Int("noise", res.Stats.Noise).
		Float64("eps", params.Eps).
		Int("min_samples", params.MinSamples).
		Bool("multi_source", params.DiversityEnabled).
		Dur("elapsed", elapsed).
		Msg("Clustering complete")

	e.metrics.Record(ctx, res.Stats, elapsed, transport)

	return &models.ClusterResponse{
		Version: e.version,
		Results: res.Records,
	}, nil
}
