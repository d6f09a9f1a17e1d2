// Package syncrun drives one synchronization run through its collect,
// graph and persist phases and owns the run's state machine. A run
// row is created in_progress and transitions exactly once to completed or
// failed; terminal rows are never touched again.
package syncrun

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/fernwake/prodsync/internal/collector"
	"github.com/fernwake/prodsync/internal/graph"
	"github.com/fernwake/prodsync/internal/hierarchy"
	"github.com/fernwake/prodsync/internal/models"
	"github.com/fernwake/prodsync/internal/persist"
)

// Options tunes a run. Zero values fall back to package defaults.
type Options struct {
	BatchSize   int           // persistence chunk size
	Concurrency int           // collector fetch concurrency
	Timeout     time.Duration // overall run deadline; 0 means none
}

// Outcome bundles everything one run produced. Run is always populated;
// the phase outputs are nil for the phases that never ran.
type Outcome struct {
	Run        models.SyncRun
	Collection *collector.Collection
	Graph      *graph.Graph
	Persist    *persist.Result
}

// Orchestrator executes runs against one store.
type Orchestrator struct {
	db   *gorm.DB
	opts Options
}

// New returns an Orchestrator writing run history and entities through db.
func New(db *gorm.DB, opts Options) *Orchestrator {
	return &Orchestrator{db: db, opts: opts}
}

// GenerateID creates a unique run ID in run-xxxxxxxx format (8-char hex).
func GenerateID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("syncrun: generate ID: %w", err)
	}
	return "run-" + hex.EncodeToString(b), nil
}

// Run executes the full pipeline for one workspace. The returned error is
// non-nil only when the run failed; the Outcome's Run record reflects the
// terminal status either way. Re-triggering is always safe: every phase is
// idempotent on external ids.
func (o *Orchestrator) Run(ctx context.Context, api hierarchy.API, workspaceID string, filters collector.Filters) (*Outcome, error) {
	id, err := GenerateID()
	if err != nil {
		return nil, err
	}
	run := models.SyncRun{
		ID:          id,
		WorkspaceID: workspaceID,
		Status:      models.RunInProgress,
		StartedAt:   time.Now(),
	}
	if err := o.db.Create(&run).Error; err != nil {
		return nil, fmt.Errorf("syncrun: create run record: %w", err)
	}
	out := &Outcome{Run: run}

	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	col, err := collector.New(api, o.opts.Concurrency).Collect(ctx, filters)
	if err != nil {
		return out, o.fail(out, err)
	}
	out.Collection = col

	out.Graph = graph.Build(col)

	res, err := persist.New(o.db, o.opts.BatchSize).Persist(ctx, workspaceID, col, out.Graph)
	if err != nil {
		return out, o.fail(out, err)
	}
	out.Persist = res

	if err := o.complete(out); err != nil {
		return out, err
	}
	return out, nil
}

// complete transitions the run to completed with aggregated counts.
func (o *Orchestrator) complete(out *Outcome) error {
	now := time.Now()
	updates := map[string]any{
		"status":              models.RunCompleted,
		"completed_at":        now,
		"products_count":      out.Persist.Products.Total,
		"initiatives_count":   out.Persist.Initiatives.Total,
		"components_count":    out.Persist.Components.Total,
		"features_count":      out.Persist.Features.Total,
		"sub_features_count":  out.Collection.Counts.SubFeatures,
		"relationships_count": out.Graph.EdgeCount(),
		"error_count":         out.Persist.ErrorTotal(),
	}
	if err := o.transition(out.Run.ID, updates); err != nil {
		return err
	}
	out.Run.Status = models.RunCompleted
	out.Run.CompletedAt = &now
	out.Run.ProductsCount = out.Persist.Products.Total
	out.Run.InitiativesCount = out.Persist.Initiatives.Total
	out.Run.ComponentsCount = out.Persist.Components.Total
	out.Run.FeaturesCount = out.Persist.Features.Total
	out.Run.SubFeaturesCount = out.Collection.Counts.SubFeatures
	out.Run.RelationshipsCount = out.Graph.EdgeCount()
	out.Run.ErrorCount = out.Persist.ErrorTotal()
	return nil
}

// fail transitions the run to failed, keeping whatever partial counts the
// phases that did run produced.
func (o *Orchestrator) fail(out *Outcome, cause error) error {
	now := time.Now()
	updates := map[string]any{
		"status":        models.RunFailed,
		"completed_at":  now,
		"error_message": cause.Error(),
	}
	if out.Collection != nil {
		updates["products_count"] = len(out.Collection.Products)
		updates["initiatives_count"] = len(out.Collection.Initiatives)
		updates["components_count"] = len(out.Collection.Components)
		updates["features_count"] = len(out.Collection.Features)
		updates["sub_features_count"] = out.Collection.Counts.SubFeatures
	}
	if err := o.transition(out.Run.ID, updates); err != nil {
		return fmt.Errorf("%w (additionally: %v)", cause, err)
	}
	out.Run.Status = models.RunFailed
	out.Run.CompletedAt = &now
	out.Run.ErrorMessage = cause.Error()
	return cause
}

// transition updates the run row only while it is still in_progress, so a
// run can never leave its terminal state.
func (o *Orchestrator) transition(runID string, updates map[string]any) error {
	tx := o.db.Model(&models.SyncRun{}).
		Where("id = ? AND status = ?", runID, models.RunInProgress).
		Updates(updates)
	if tx.Error != nil {
		return fmt.Errorf("syncrun: update run %s: %w", runID, tx.Error)
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("syncrun: run %s already terminal", runID)
	}
	return nil
}
