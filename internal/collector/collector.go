// Package collector fetches catalog entities from the source hierarchy API
// and merges the partial views arriving through different relation paths
// into one canonical set per entity type.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fernwake/prodsync/internal/hierarchy"
)

const defaultConcurrency = 5

// Filters narrows what a run collects.
type Filters struct {
	ProductID          string
	InitiativeID       string
	IncludeInitiatives bool
	IncludeComponents  bool
	IncludeFeatures    bool
	MaxDepth           int // sub-feature rounds; 0 or 1 means direct children only
}

// Counts records how many feature links each relation phase produced.
type Counts struct {
	InitiativeLinked int
	ComponentLinked  int
	SubFeatures      int
}

// Collection is the merged output of one collect pass. Features holds one
// entry per external id regardless of how many relation paths returned it.
type Collection struct {
	Products    []hierarchy.Product
	Initiatives []hierarchy.Initiative
	Components  []hierarchy.Component
	Features    []hierarchy.Feature

	Counts          Counts
	PartialFailures []string
}

// Collector drives the multi-source fetch. Relation fetches run on a
// bounded worker pool; merges into the shared feature map are serialized
// behind a mutex so only one result lands at a time.
type Collector struct {
	api         hierarchy.API
	concurrency int
}

// New returns a Collector using api with the given fetch concurrency
// (defaulted when zero or negative).
func New(api hierarchy.API, concurrency int) *Collector {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Collector{api: api, concurrency: concurrency}
}

// Collect runs the full fetch-and-merge pass. Top-level product and
// initiative fetches are required and abort the run on failure; everything
// below them degrades to empty-per-entity on failure and is reported in
// PartialFailures.
func (c *Collector) Collect(ctx context.Context, filters Filters) (*Collection, error) {
	col := &Collection{}

	products, err := c.fetchProducts(ctx, filters.ProductID)
	if err != nil {
		return nil, err
	}
	col.Products = products

	if filters.IncludeInitiatives {
		initiatives, err := c.fetchInitiatives(ctx, filters.InitiativeID)
		if err != nil {
			return nil, err
		}
		col.Initiatives = initiatives
	}

	if filters.IncludeComponents {
		components, err := c.api.ListComponents(ctx)
		switch {
		case errors.Is(err, hierarchy.ErrNotFound):
			// The workspace simply doesn't use components.
			components = nil
		case err != nil:
			return nil, fmt.Errorf("collector: list components: %w", err)
		}
		col.Components = components
	}

	if !filters.IncludeFeatures {
		return col, nil
	}

	merger := newFeatureMerger()

	if err := c.collectInitiativeFeatures(ctx, col, merger); err != nil {
		return nil, err
	}
	if err := c.collectComponentFeatures(ctx, col, merger); err != nil {
		return nil, err
	}
	if err := c.collectSubFeatures(ctx, col, merger, filters.MaxDepth); err != nil {
		return nil, err
	}

	col.Features = merger.list()
	return col, nil
}

func (c *Collector) fetchProducts(ctx context.Context, productID string) ([]hierarchy.Product, error) {
	if productID != "" {
		p, err := c.api.GetProduct(ctx, productID)
		if err != nil {
			return nil, fmt.Errorf("collector: get product %s: %w", productID, err)
		}
		return []hierarchy.Product{*p}, nil
	}
	products, err := c.api.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("collector: list products: %w", err)
	}
	return products, nil
}

func (c *Collector) fetchInitiatives(ctx context.Context, initiativeID string) ([]hierarchy.Initiative, error) {
	if initiativeID != "" {
		in, err := c.api.GetInitiative(ctx, initiativeID)
		if err != nil {
			return nil, fmt.Errorf("collector: get initiative %s: %w", initiativeID, err)
		}
		return []hierarchy.Initiative{*in}, nil
	}
	initiatives, err := c.api.ListInitiatives(ctx)
	if err != nil {
		return nil, fmt.Errorf("collector: list initiatives: %w", err)
	}
	return initiatives, nil
}

// collectInitiativeFeatures fetches the features linked to every collected
// initiative and merges them, tagging each with the initiative's id.
func (c *Collector) collectInitiativeFeatures(ctx context.Context, col *Collection, m *featureMerger) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, in := range col.Initiatives {
		in := in
		g.Go(func() error {
			features, err := c.api.InitiativeFeatures(gctx, in.ID)
			if err != nil {
				return c.relationFailure(gctx, col, m, fmt.Sprintf("initiative %s features", in.ID), err)
			}
			m.mu.Lock()
			defer m.mu.Unlock()
			for _, f := range features {
				m.mergeInitiativeLink(f, in.ID)
			}
			col.Counts.InitiativeLinked += len(features)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("collector: initiative features: %w", err)
	}
	return nil
}

// collectComponentFeatures fetches the features linked to every collected
// component and merges them, setting the component reference.
func (c *Collector) collectComponentFeatures(ctx context.Context, col *Collection, m *featureMerger) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, comp := range col.Components {
		comp := comp
		g.Go(func() error {
			features, err := c.api.ComponentFeatures(gctx, comp.ID)
			if err != nil {
				return c.relationFailure(gctx, col, m, fmt.Sprintf("component %s features", comp.ID), err)
			}
			m.mu.Lock()
			defer m.mu.Unlock()
			for _, f := range features {
				m.mergeComponentLink(f, comp.ID)
			}
			col.Counts.ComponentLinked += len(features)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("collector: component features: %w", err)
	}
	return nil
}

// collectSubFeatures fetches direct children for every feature currently in
// the map. Each round only queries ids that existed before the round began,
// so depth rounds advance exactly one hop at a time.
func (c *Collector) collectSubFeatures(ctx context.Context, col *Collection, m *featureMerger, maxDepth int) error {
	if maxDepth <= 0 {
		maxDepth = 1
	}
	queried := make(map[string]bool)

	for depth := 0; depth < maxDepth; depth++ {
		ids := m.ids()
		var pending []string
		for _, id := range ids {
			if !queried[id] {
				queried[id] = true
				pending = append(pending, id)
			}
		}
		if len(pending) == 0 {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.concurrency)
		for _, id := range pending {
			id := id
			g.Go(func() error {
				children, err := c.api.ChildFeatures(gctx, id)
				if err != nil {
					return c.relationFailure(gctx, col, m, fmt.Sprintf("feature %s children", id), err)
				}
				m.mu.Lock()
				defer m.mu.Unlock()
				for _, child := range children {
					m.mergeChild(child, id)
				}
				col.Counts.SubFeatures += len(children)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("collector: sub-features: %w", err)
		}
	}
	return nil
}

// relationFailure handles a failed per-entity relation fetch. A not-found
// answer is expected and only logged; any other error is logged and recorded
// as a partial failure, but neither aborts the run. If the context itself
// is done, that must surface as the run's fatal error.
func (c *Collector) relationFailure(ctx context.Context, col *Collection, m *featureMerger, what string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, hierarchy.ErrNotFound) {
		log.Printf("collector: %s: none linked", what)
		return nil
	}
	log.Printf("collector: %s: %v (treating as empty)", what, err)
	m.mu.Lock()
	col.PartialFailures = append(col.PartialFailures, fmt.Sprintf("%s: %v", what, err))
	m.mu.Unlock()
	return nil
}

// featureMerger is the canonical feature map keyed by external id. All
// mutation happens under mu; fetch goroutines hold it only while merging.
type featureMerger struct {
	mu       sync.Mutex
	features map[string]*hierarchy.Feature
}

func newFeatureMerger() *featureMerger {
	return &featureMerger{features: make(map[string]*hierarchy.Feature)}
}

// mergeInitiativeLink records that initiativeID links to f. An existing
// entry keeps all of its fields and only gains the initiative id, appended
// once no matter how many times the same link is seen. Caller holds mu.
func (m *featureMerger) mergeInitiativeLink(f hierarchy.Feature, initiativeID string) {
	entry, ok := m.features[f.ID]
	if !ok {
		f.InitiativeIDs = []string{initiativeID}
		m.features[f.ID] = &f
		return
	}
	for _, id := range entry.InitiativeIDs {
		if id == initiativeID {
			return
		}
	}
	entry.InitiativeIDs = append(entry.InitiativeIDs, initiativeID)
}

// mergeComponentLink records that componentID links to f. Only the component
// reference is written on an existing entry. Caller holds mu.
func (m *featureMerger) mergeComponentLink(f hierarchy.Feature, componentID string) {
	entry, ok := m.features[f.ID]
	if !ok {
		f.ComponentID = componentID
		m.features[f.ID] = &f
		return
	}
	entry.ComponentID = componentID
}

// mergeChild records that parentID is the direct parent of f. Fields set by
// earlier phases on an existing entry are preserved. Caller holds mu.
func (m *featureMerger) mergeChild(f hierarchy.Feature, parentID string) {
	entry, ok := m.features[f.ID]
	if !ok {
		f.ParentID = parentID
		m.features[f.ID] = &f
		return
	}
	entry.ParentID = parentID
}

// ids returns a sorted snapshot of the keys currently in the map.
func (m *featureMerger) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.features))
	for id := range m.features {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// list converts the map to a slice ordered by external id so downstream
// phases see a deterministic sequence.
func (m *featureMerger) list() []hierarchy.Feature {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]hierarchy.Feature, 0, len(m.features))
	for _, id := range mapKeysSorted(m.features) {
		out = append(out, *m.features[id])
	}
	return out
}

func mapKeysSorted(m map[string]*hierarchy.Feature) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
