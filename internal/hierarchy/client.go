package hierarchy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

// ErrNotFound reports that the requested entity or relation does not exist
// in the source system. Callers distinguish it from transport failures with
// errors.Is; it is the "expected absent" signal, not a fault.
var ErrNotFound = errors.New("hierarchy: not found")

const defaultTimeout = 30 * time.Second

// API is the subset of the source hierarchy surface the sync engine uses.
// It exists so the collector can be tested against a mock.
type API interface {
	ListProducts(ctx context.Context) ([]Product, error)
	GetProduct(ctx context.Context, id string) (*Product, error)
	ListInitiatives(ctx context.Context) ([]Initiative, error)
	GetInitiative(ctx context.Context, id string) (*Initiative, error)
	ListComponents(ctx context.Context) ([]Component, error)
	InitiativeFeatures(ctx context.Context, initiativeID string) ([]Feature, error)
	ComponentFeatures(ctx context.Context, componentID string) ([]Feature, error)
	ChildFeatures(ctx context.Context, featureID string) ([]Feature, error)
}

// Client talks to the source hierarchy API over HTTP with bearer-token auth.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client for baseURL authenticating with apiKey.
func NewClient(baseURL, apiKey string) *Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey})
	hc := oauth2.NewClient(context.Background(), src)
	hc.Timeout = defaultTimeout
	return &Client{baseURL: baseURL, http: hc}
}

// page is the envelope every list endpoint responds with.
type page struct {
	Data       json.RawMessage `json:"data"`
	Pagination struct {
		NextCursor string `json:"next_cursor"`
	} `json:"pagination"`
}

// ListProducts returns every product in the workspace, following pagination
// cursors until exhausted.
func (c *Client) ListProducts(ctx context.Context) ([]Product, error) {
	return listAll[Product](ctx, c, "/api/v1/products")
}

// GetProduct returns a single product, or ErrNotFound.
func (c *Client) GetProduct(ctx context.Context, id string) (*Product, error) {
	return getOne[Product](ctx, c, "/api/v1/products/"+url.PathEscape(id))
}

// ListInitiatives returns every initiative in the workspace.
func (c *Client) ListInitiatives(ctx context.Context) ([]Initiative, error) {
	return listAll[Initiative](ctx, c, "/api/v1/initiatives")
}

// GetInitiative returns a single initiative, or ErrNotFound.
func (c *Client) GetInitiative(ctx context.Context, id string) (*Initiative, error) {
	return getOne[Initiative](ctx, c, "/api/v1/initiatives/"+url.PathEscape(id))
}

// ListComponents returns every component in the workspace. Workspaces that
// do not use components answer 404 here, surfaced as ErrNotFound.
func (c *Client) ListComponents(ctx context.Context) ([]Component, error) {
	return listAll[Component](ctx, c, "/api/v1/components")
}

// InitiativeFeatures returns the features linked to an initiative.
func (c *Client) InitiativeFeatures(ctx context.Context, initiativeID string) ([]Feature, error) {
	return listAll[Feature](ctx, c, "/api/v1/initiatives/"+url.PathEscape(initiativeID)+"/features")
}

// ComponentFeatures returns the features linked to a component.
func (c *Client) ComponentFeatures(ctx context.Context, componentID string) ([]Feature, error) {
	return listAll[Feature](ctx, c, "/api/v1/components/"+url.PathEscape(componentID)+"/features")
}

// ChildFeatures returns the direct sub-features of a feature (one hop).
func (c *Client) ChildFeatures(ctx context.Context, featureID string) ([]Feature, error) {
	return listAll[Feature](ctx, c, "/api/v1/features/"+url.PathEscape(featureID)+"/children")
}

// listAll follows next_cursor pagination until the server stops returning one.
func listAll[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var out []T
	cursor := ""
	for {
		u := c.baseURL + path
		if cursor != "" {
			u += "?cursor=" + url.QueryEscape(cursor)
		}
		var pg page
		if err := c.getJSON(ctx, u, &pg); err != nil {
			return nil, err
		}
		var items []T
		if len(pg.Data) > 0 {
			if err := json.Unmarshal(pg.Data, &items); err != nil {
				return nil, fmt.Errorf("hierarchy: decode %s: %w", path, err)
			}
		}
		out = append(out, items...)
		if pg.Pagination.NextCursor == "" {
			return out, nil
		}
		cursor = pg.Pagination.NextCursor
	}
}

func getOne[T any](ctx context.Context, c *Client, path string) (*T, error) {
	var wrapper struct {
		Data T `json:"data"`
	}
	if err := c.getJSON(ctx, c.baseURL+path, &wrapper); err != nil {
		return nil, err
	}
	return &wrapper.Data, nil
}

func (c *Client) getJSON(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("hierarchy: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("hierarchy: GET %s: %w", u, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("hierarchy: GET %s: status %d: %s", u, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("hierarchy: decode response: %w", err)
	}
	return nil
}
