// Package graph derives the relationship adjacency maps from a collected
// entity set. Edges are sets keyed by external id, so building the graph is
// order-independent and re-running it over the same collection is a no-op.
package graph

import (
	"github.com/fernwake/prodsync/internal/collector"
)

// Set is a deduplicated group of external ids.
type Set map[string]struct{}

// Graph holds one adjacency map per relation type. Direct maps come
// straight off feature fields; ProductComponents and InitiativeComponents
// are derived by one-hop composition through features.
type Graph struct {
	ProductFeatures    map[string]Set
	InitiativeFeatures map[string]Set
	ComponentFeatures  map[string]Set
	FeatureChildren    map[string]Set

	ProductComponents    map[string]Set
	InitiativeComponents map[string]Set
}

// Build reads every feature's references and produces the relationship
// maps. Edges are only recorded when both endpoints are present in the
// supplied collection, so the builder never introduces dangling ids.
func Build(c *collector.Collection) *Graph {
	products := idSet(len(c.Products))
	for _, p := range c.Products {
		products[p.ID] = struct{}{}
	}
	initiatives := idSet(len(c.Initiatives))
	for _, in := range c.Initiatives {
		initiatives[in.ID] = struct{}{}
	}
	components := idSet(len(c.Components))
	for _, comp := range c.Components {
		components[comp.ID] = struct{}{}
	}
	features := idSet(len(c.Features))
	for _, f := range c.Features {
		features[f.ID] = struct{}{}
	}

	g := &Graph{
		ProductFeatures:      map[string]Set{},
		InitiativeFeatures:   map[string]Set{},
		ComponentFeatures:    map[string]Set{},
		FeatureChildren:      map[string]Set{},
		ProductComponents:    map[string]Set{},
		InitiativeComponents: map[string]Set{},
	}

	for _, f := range c.Features {
		if f.ProductID != "" {
			if _, ok := products[f.ProductID]; ok {
				add(g.ProductFeatures, f.ProductID, f.ID)
			}
		}
		for _, inID := range f.InitiativeIDs {
			if _, ok := initiatives[inID]; ok {
				add(g.InitiativeFeatures, inID, f.ID)
			}
		}
		if f.ComponentID != "" {
			if _, ok := components[f.ComponentID]; ok {
				add(g.ComponentFeatures, f.ComponentID, f.ID)
			}
		}
		if f.ParentID != "" {
			if _, ok := features[f.ParentID]; ok {
				add(g.FeatureChildren, f.ParentID, f.ID)
			}
		}
	}

	// One-hop derivations through features. No further composition: the
	// chain stops at components.
	for _, f := range c.Features {
		if f.ComponentID == "" {
			continue
		}
		if _, ok := components[f.ComponentID]; !ok {
			continue
		}
		if f.ProductID != "" {
			if _, ok := products[f.ProductID]; ok {
				add(g.ProductComponents, f.ProductID, f.ComponentID)
			}
		}
		for _, inID := range f.InitiativeIDs {
			if _, ok := initiatives[inID]; ok {
				add(g.InitiativeComponents, inID, f.ComponentID)
			}
		}
	}

	return g
}

// EdgeCount returns the total number of edges across all relation types.
func (g *Graph) EdgeCount() int {
	total := 0
	for _, m := range []map[string]Set{
		g.ProductFeatures, g.InitiativeFeatures, g.ComponentFeatures,
		g.FeatureChildren, g.ProductComponents, g.InitiativeComponents,
	} {
		for _, set := range m {
			total += len(set)
		}
	}
	return total
}

// CountsByRelation returns per-relation edge counts for reporting.
func (g *Graph) CountsByRelation() map[string]int {
	return map[string]int{
		"productFeatures":      edgeCount(g.ProductFeatures),
		"initiativeFeatures":   edgeCount(g.InitiativeFeatures),
		"componentFeatures":    edgeCount(g.ComponentFeatures),
		"featureChildren":      edgeCount(g.FeatureChildren),
		"productComponents":    edgeCount(g.ProductComponents),
		"initiativeComponents": edgeCount(g.InitiativeComponents),
	}
}

func edgeCount(m map[string]Set) int {
	n := 0
	for _, set := range m {
		n += len(set)
	}
	return n
}

func add(m map[string]Set, from, to string) {
	set, ok := m[from]
	if !ok {
		set = Set{}
		m[from] = set
	}
	set[to] = struct{}{}
}

func idSet(n int) Set {
	return make(Set, n)
}
