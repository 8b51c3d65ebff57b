package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/temcen/hybridrec/internal/ml"
	"github.com/temcen/hybridrec/pkg/models"
)

const defaultBuildTimeout = 2 * time.Minute

// CatalogIndex owns the current similarity snapshot. Readers get an immutable
// index; a rebuild publishes a new one atomically and concurrent rebuild
// requests share one build.
//
// Every Rebuild call takes a ticket from requested. A build remembers the
// highest ticket issued before it read the catalog, so a caller whose ticket
// is newer than that knows the build may predate its write and waits for the
// next one.
type CatalogIndex struct {
	store        CatalogLister
	metrics      *Metrics
	logger       *logrus.Logger
	buildTimeout time.Duration

	current   atomic.Pointer[ml.SimilarityIndex]
	version   atomic.Int64
	requested atomic.Uint64
	group     singleflight.Group
}

type rebuildResult struct {
	index *ml.SimilarityIndex
	seen  uint64
}

// NewCatalogIndex creates an empty catalog index. Call Rebuild before serving.
func NewCatalogIndex(store CatalogLister, metrics *Metrics, logger *logrus.Logger) *CatalogIndex {
	return &CatalogIndex{
		store:        store,
		metrics:      metrics,
		logger:       logger,
		buildTimeout: defaultBuildTimeout,
	}
}

// Current returns the published snapshot or models.ErrIndexNotBuilt.
func (c *CatalogIndex) Current() (*ml.SimilarityIndex, error) {
	idx := c.current.Load()
	if idx == nil {
		return nil, models.ErrIndexNotBuilt
	}
	return idx, nil
}

// Rebuild reads the catalog and publishes a new snapshot that reflects every
// write made before the call. On failure the previous snapshot stays in place.
//
// The build itself is detached from ctx and bounded by the build timeout, so
// one caller giving up does not fail the build for the others sharing it.
func (c *CatalogIndex) Rebuild(ctx context.Context) (*ml.SimilarityIndex, error) {
	ticket := c.requested.Add(1)
	buildCtx := context.WithoutCancel(ctx)

	for {
		ch := c.group.DoChan("rebuild", func() (interface{}, error) {
			seen := c.requested.Load()

			ctx, cancel := context.WithTimeout(buildCtx, c.buildTimeout)
			defer cancel()

			idx, err := c.rebuild(ctx)
			if err != nil {
				return nil, err
			}
			return rebuildResult{index: idx, seen: seen}, nil
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			built := res.Val.(rebuildResult)
			if built.seen >= ticket {
				if res.Shared {
					c.logger.Debug("Joined in-flight similarity index rebuild")
				}
				return built.index, nil
			}
			c.logger.WithFields(logrus.Fields{
				"ticket": ticket,
				"seen":   built.seen,
			}).Debug("In-flight rebuild predates request, building again")
		}
	}
}

func (c *CatalogIndex) rebuild(ctx context.Context) (*ml.SimilarityIndex, error) {
	start := time.Now()

	catalog, err := c.store.ListCatalog(ctx)
	if err != nil {
		c.observeRebuild("error")
		return nil, fmt.Errorf("failed to list catalog: %w", err)
	}

	idx, err := ml.BuildSimilarityIndex(catalog, c.version.Add(1))
	if err != nil {
		c.observeRebuild("error")
		c.logger.WithError(err).Error("Similarity index rebuild failed")
		return nil, fmt.Errorf("failed to build similarity index: %w", err)
	}

	c.current.Store(idx)
	c.observeRebuild("success")
	if c.metrics != nil {
		c.metrics.IndexProducts.Set(float64(idx.Len()))
		c.metrics.IndexVersion.Set(float64(idx.Version()))
	}

	c.logger.WithFields(logrus.Fields{
		"products": idx.Len(),
		"version":  idx.Version(),
		"duration": time.Since(start).String(),
	}).Info("Similarity index rebuilt")

	return idx, nil
}

func (c *CatalogIndex) observeRebuild(status string) {
	if c.metrics != nil {
		c.metrics.IndexRebuilds.WithLabelValues(status).Inc()
	}
}
