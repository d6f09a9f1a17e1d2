// Package hierarchy implements the client for the source hierarchy API,
// which exposes catalog entities by id and by relation with cursor-based
// pagination.
package hierarchy

// Product is a top-level catalog entity as returned by the source API.
type Product struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Status      string         `json:"status"`
	Metadata    map[string]any `json:"metadata"`
}

// Initiative as returned by the source API. ProductID may be empty.
type Initiative struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Owner       string `json:"owner"`
	ProductID   string `json:"product_id"`
}

// Component as returned by the source API. The API never reports which
// product a component belongs to; that is derived from feature links.
type Component struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// Feature as returned by the source API and as staged by the collector.
// InitiativeIDs, ComponentID and ParentID are filled in by the collector
// while it merges the same feature arriving through different relation
// paths; a single API response never carries all of them.
type Feature struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Owner       string `json:"owner"`
	StartDate   string `json:"start_date"`
	DueDate     string `json:"due_date"`
	ProductID   string `json:"product_id"`
	ComponentID string `json:"component_id"`
	ParentID    string `json:"parent_id"`

	InitiativeIDs []string `json:"-"`
}
