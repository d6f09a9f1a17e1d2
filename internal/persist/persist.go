// Package persist writes collected entities and derived relationships into
// the relational store. Writes are idempotent on (external_id, workspace_id):
// rows are inserted once, updated only when the change detector sees a real
// difference, and skipped otherwise. Features are written in two passes so
// the self-referential parent_id never points at a row that does not exist
// yet.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fernwake/prodsync/internal/collector"
	"github.com/fernwake/prodsync/internal/diff"
	"github.com/fernwake/prodsync/internal/graph"
	"github.com/fernwake/prodsync/internal/hierarchy"
	"github.com/fernwake/prodsync/internal/models"
)

const defaultBatchSize = 100

// Stats counts the outcome of every row of one entity type.
type Stats struct {
	Total     int
	Inserted  int
	Updated   int
	Unchanged int
	Errors    int
}

// Result carries the id maps and per-type stats out of a persist pass.
// The id maps are write-once per external id: the first internal id bound
// to an external id is never replaced.
type Result struct {
	ProductIDs    map[string]uint
	InitiativeIDs map[string]uint
	ComponentIDs  map[string]uint
	FeatureIDs    map[string]uint

	Products      Stats
	Initiatives   Stats
	Components    Stats
	Features      Stats
	Relationships Stats

	// DanglingParents counts features whose source parent was not part of
	// this run's batch; their parent_id is left unset.
	DanglingParents int
}

// ErrorTotal sums row errors across all entity types.
func (r *Result) ErrorTotal() int {
	return r.Products.Errors + r.Initiatives.Errors + r.Components.Errors +
		r.Features.Errors + r.Relationships.Errors
}

// Engine performs chunked, change-detected upserts.
type Engine struct {
	db        *gorm.DB
	batchSize int
}

// New returns an Engine writing through db in chunks of batchSize rows
// (defaulted when zero or negative).
func New(db *gorm.DB, batchSize int) *Engine {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Engine{db: db, batchSize: batchSize}
}

// Persist writes the collection and graph for one workspace. Entity types
// go in dependency order: products, then initiatives and components, then
// features (two passes), then relationship rows. A failing row or chunk is
// counted and skipped; it never aborts the remaining work. Cancellation of
// ctx is not a row failure: it aborts the pass and is returned, so the run
// ends up failed rather than completed-with-errors.
func (e *Engine) Persist(ctx context.Context, workspaceID string, col *collector.Collection, g *graph.Graph) (*Result, error) {
	if col == nil {
		return nil, fmt.Errorf("persist: nil collection")
	}
	res := &Result{
		ProductIDs:    make(map[string]uint),
		InitiativeIDs: make(map[string]uint),
		ComponentIDs:  make(map[string]uint),
		FeatureIDs:    make(map[string]uint),
	}

	if err := e.persistProducts(ctx, workspaceID, col.Products, res); err != nil {
		return nil, fmt.Errorf("persist: products: %w", err)
	}
	if err := e.persistInitiatives(ctx, workspaceID, col.Initiatives, res); err != nil {
		return nil, fmt.Errorf("persist: initiatives: %w", err)
	}
	if err := e.persistComponents(ctx, workspaceID, col.Components, res); err != nil {
		return nil, fmt.Errorf("persist: components: %w", err)
	}

	// Pass 1 must finish for the whole batch before pass 2 starts: the
	// parent patch reads the completed feature id map.
	existingParents, err := e.persistFeatures(ctx, workspaceID, col.Features, res)
	if err != nil {
		return nil, fmt.Errorf("persist: features: %w", err)
	}
	if err := e.patchParents(ctx, col.Features, existingParents, res); err != nil {
		return nil, fmt.Errorf("persist: feature parents: %w", err)
	}

	if g != nil {
		if err := e.persistRelationships(ctx, g, res); err != nil {
			return nil, fmt.Errorf("persist: relationships: %w", err)
		}
	}
	return res, nil
}

func (e *Engine) persistProducts(ctx context.Context, ws string, products []hierarchy.Product, res *Result) error {
	res.Products.Total = len(products)
	for _, batch := range chunk(products, e.batchSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids := make([]string, len(batch))
		for i, p := range batch {
			ids[i] = p.ID
		}
		var rows []models.Product
		if err := e.db.WithContext(ctx).Where("workspace_id = ? AND external_id IN ?", ws, ids).Find(&rows).Error; err != nil {
			if ctxDone(err) {
				return err
			}
			log.Printf("persist: load existing products: %v", err)
			res.Products.Errors += len(batch)
			continue
		}
		byExt := make(map[string]models.Product, len(rows))
		for _, row := range rows {
			byExt[row.ExternalID] = row
		}

		for _, p := range batch {
			existing, found := byExt[p.ID]
			if !found {
				row := models.Product{
					ExternalID:  p.ID,
					WorkspaceID: ws,
					Name:        p.Name,
					Description: p.Description,
					Status:      p.Status,
					Metadata:    marshalMetadata(p.Metadata),
				}
				if err := e.db.WithContext(ctx).Create(&row).Error; err != nil {
					if ctxDone(err) {
						return err
					}
					e.rowFailure("product", p.ID, err, &res.Products)
					continue
				}
				bindID(res.ProductIDs, p.ID, row.ID)
				res.Products.Inserted++
				continue
			}
			bindID(res.ProductIDs, p.ID, existing.ID)
			if !diff.HasChanged(existingProductFields(existing), incomingProductFields(p), nil) {
				res.Products.Unchanged++
				continue
			}
			if err := e.db.WithContext(ctx).Model(&models.Product{}).Where("id = ?", existing.ID).
				Updates(incomingProductFields(p)).Error; err != nil {
				if ctxDone(err) {
					return err
				}
				e.rowFailure("product", p.ID, err, &res.Products)
				continue
			}
			res.Products.Updated++
		}
	}
	return nil
}

func (e *Engine) persistInitiatives(ctx context.Context, ws string, initiatives []hierarchy.Initiative, res *Result) error {
	res.Initiatives.Total = len(initiatives)
	for _, batch := range chunk(initiatives, e.batchSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids := make([]string, len(batch))
		for i, in := range batch {
			ids[i] = in.ID
		}
		var rows []models.Initiative
		if err := e.db.WithContext(ctx).Where("workspace_id = ? AND external_id IN ?", ws, ids).Find(&rows).Error; err != nil {
			if ctxDone(err) {
				return err
			}
			log.Printf("persist: load existing initiatives: %v", err)
			res.Initiatives.Errors += len(batch)
			continue
		}
		byExt := make(map[string]models.Initiative, len(rows))
		for _, row := range rows {
			byExt[row.ExternalID] = row
		}

		for _, in := range batch {
			// Unresolved product stays null: the initiative's product was
			// not part of this run's collected set.
			var productID *uint
			if id, ok := res.ProductIDs[in.ProductID]; ok {
				productID = &id
			}
			fields := initiativeFields(in.Name, in.Description, in.Status, in.Owner, uintValue(productID))

			existing, found := byExt[in.ID]
			if !found {
				row := models.Initiative{
					ExternalID:  in.ID,
					WorkspaceID: ws,
					Name:        in.Name,
					Description: in.Description,
					Status:      in.Status,
					Owner:       in.Owner,
					ProductID:   productID,
				}
				if err := e.db.WithContext(ctx).Create(&row).Error; err != nil {
					if ctxDone(err) {
						return err
					}
					e.rowFailure("initiative", in.ID, err, &res.Initiatives)
					continue
				}
				bindID(res.InitiativeIDs, in.ID, row.ID)
				res.Initiatives.Inserted++
				continue
			}
			bindID(res.InitiativeIDs, in.ID, existing.ID)
			existingFields := initiativeFields(existing.Name, existing.Description, existing.Status, existing.Owner, uintValue(existing.ProductID))
			if !diff.HasChanged(existingFields, fields, nil) {
				res.Initiatives.Unchanged++
				continue
			}
			if err := e.db.WithContext(ctx).Model(&models.Initiative{}).Where("id = ?", existing.ID).
				Updates(fields).Error; err != nil {
				if ctxDone(err) {
					return err
				}
				e.rowFailure("initiative", in.ID, err, &res.Initiatives)
				continue
			}
			res.Initiatives.Updated++
		}
	}
	return nil
}

func (e *Engine) persistComponents(ctx context.Context, ws string, components []hierarchy.Component, res *Result) error {
	res.Components.Total = len(components)
	for _, batch := range chunk(components, e.batchSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids := make([]string, len(batch))
		for i, comp := range batch {
			ids[i] = comp.ID
		}
		var rows []models.Component
		if err := e.db.WithContext(ctx).Where("workspace_id = ? AND external_id IN ?", ws, ids).Find(&rows).Error; err != nil {
			if ctxDone(err) {
				return err
			}
			log.Printf("persist: load existing components: %v", err)
			res.Components.Errors += len(batch)
			continue
		}
		byExt := make(map[string]models.Component, len(rows))
		for _, row := range rows {
			byExt[row.ExternalID] = row
		}

		for _, comp := range batch {
			existing, found := byExt[comp.ID]
			if !found {
				row := models.Component{
					ExternalID:  comp.ID,
					WorkspaceID: ws,
					Name:        comp.Name,
					Description: comp.Description,
					Status:      comp.Status,
				}
				if err := e.db.WithContext(ctx).Create(&row).Error; err != nil {
					if ctxDone(err) {
						return err
					}
					e.rowFailure("component", comp.ID, err, &res.Components)
					continue
				}
				bindID(res.ComponentIDs, comp.ID, row.ID)
				res.Components.Inserted++
				continue
			}
			bindID(res.ComponentIDs, comp.ID, existing.ID)
			if !diff.HasChanged(componentFields(existing.Name, existing.Description, existing.Status),
				componentFields(comp.Name, comp.Description, comp.Status), nil) {
				res.Components.Unchanged++
				continue
			}
			if err := e.db.WithContext(ctx).Model(&models.Component{}).Where("id = ?", existing.ID).
				Updates(componentFields(comp.Name, comp.Description, comp.Status)).Error; err != nil {
				if ctxDone(err) {
					return err
				}
				e.rowFailure("component", comp.ID, err, &res.Components)
				continue
			}
			res.Components.Updated++
		}
	}
	return nil
}

// persistFeatures is pass 1: every resolvable foreign key is written, but
// parent_id is forced null so parents and children can land in any order.
// It returns the parent_id values already present in the store, keyed by
// external id, so pass 2 can skip no-op patches.
func (e *Engine) persistFeatures(ctx context.Context, ws string, features []hierarchy.Feature, res *Result) (map[string]*uint, error) {
	res.Features.Total = len(features)
	existingParents := make(map[string]*uint)

	for _, batch := range chunk(features, e.batchSize) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids := make([]string, len(batch))
		for i, f := range batch {
			ids[i] = f.ID
		}
		var rows []models.Feature
		if err := e.db.WithContext(ctx).Where("workspace_id = ? AND external_id IN ?", ws, ids).Find(&rows).Error; err != nil {
			if ctxDone(err) {
				return nil, err
			}
			log.Printf("persist: load existing features: %v", err)
			res.Features.Errors += len(batch)
			continue
		}
		byExt := make(map[string]models.Feature, len(rows))
		for _, row := range rows {
			byExt[row.ExternalID] = row
		}

		for _, f := range batch {
			var componentID *uint
			if id, ok := res.ComponentIDs[f.ComponentID]; ok {
				componentID = &id
			}

			existing, found := byExt[f.ID]
			if !found {
				row := models.Feature{
					ExternalID:  f.ID,
					WorkspaceID: ws,
					Name:        f.Name,
					Description: f.Description,
					Status:      f.Status,
					Owner:       f.Owner,
					StartDate:   parseDate(f.StartDate),
					DueDate:     parseDate(f.DueDate),
					ComponentID: componentID,
				}
				if err := e.db.WithContext(ctx).Create(&row).Error; err != nil {
					if ctxDone(err) {
						return nil, err
					}
					e.rowFailure("feature", f.ID, err, &res.Features)
					continue
				}
				bindID(res.FeatureIDs, f.ID, row.ID)
				existingParents[f.ID] = nil
				res.Features.Inserted++
				continue
			}
			bindID(res.FeatureIDs, f.ID, existing.ID)
			existingParents[f.ID] = existing.ParentID
			if !diff.HasChanged(existingFeatureFields(existing), incomingFeatureFields(f, componentID), nil) {
				res.Features.Unchanged++
				continue
			}
			if err := e.db.WithContext(ctx).Model(&models.Feature{}).Where("id = ?", existing.ID).
				Updates(featureUpdates(f, componentID)).Error; err != nil {
				if ctxDone(err) {
					return nil, err
				}
				e.rowFailure("feature", f.ID, err, &res.Features)
				continue
			}
			res.Features.Updated++
		}
	}
	return existingParents, nil
}

// patchParents is pass 2: a targeted single-column update of parent_id for
// every feature whose parent has an internal id. Parents missing from the
// batch are counted as dangling and left unset.
func (e *Engine) patchParents(ctx context.Context, features []hierarchy.Feature, existingParents map[string]*uint, res *Result) error {
	for _, f := range features {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.ParentID == "" {
			continue
		}
		childID, ok := res.FeatureIDs[f.ID]
		if !ok {
			continue // row never landed; already counted as an error
		}
		parentID, ok := res.FeatureIDs[f.ParentID]
		if !ok {
			res.DanglingParents++
			log.Printf("persist: feature %s parent %s not in batch, leaving unset", f.ID, f.ParentID)
			continue
		}
		if cur := existingParents[f.ID]; cur != nil && *cur == parentID {
			continue
		}
		if err := e.db.WithContext(ctx).Model(&models.Feature{}).Where("id = ?", childID).
			Update("parent_id", parentID).Error; err != nil {
			if ctxDone(err) {
				return err
			}
			e.rowFailure("feature parent", f.ID, err, &res.Features)
		}
	}
	return nil
}

// persistRelationships inserts join rows with insert-ignore semantics so a
// re-run over already-present edges is a no-op.
func (e *Engine) persistRelationships(ctx context.Context, g *graph.Graph, res *Result) error {
	var initiativeFeatures []models.InitiativeFeature
	for inExt, set := range g.InitiativeFeatures {
		inID, ok := res.InitiativeIDs[inExt]
		if !ok {
			continue
		}
		for fExt := range set {
			if fID, ok := res.FeatureIDs[fExt]; ok {
				initiativeFeatures = append(initiativeFeatures, models.InitiativeFeature{InitiativeID: inID, FeatureID: fID})
			}
		}
	}
	var componentInitiatives []models.ComponentInitiative
	for inExt, set := range g.InitiativeComponents {
		inID, ok := res.InitiativeIDs[inExt]
		if !ok {
			continue
		}
		for compExt := range set {
			if compID, ok := res.ComponentIDs[compExt]; ok {
				componentInitiatives = append(componentInitiatives, models.ComponentInitiative{ComponentID: compID, InitiativeID: inID})
			}
		}
	}

	res.Relationships.Total = len(initiativeFeatures) + len(componentInitiatives)

	for _, batch := range chunk(initiativeFeatures, e.batchSize) {
		if err := e.insertIgnore(ctx, &res.Relationships, len(batch), func(tx *gorm.DB) *gorm.DB {
			return tx.Create(&batch)
		}); err != nil {
			return err
		}
	}
	for _, batch := range chunk(componentInitiatives, e.batchSize) {
		if err := e.insertIgnore(ctx, &res.Relationships, len(batch), func(tx *gorm.DB) *gorm.DB {
			return tx.Create(&batch)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) insertIgnore(ctx context.Context, stats *Stats, batchLen int, create func(tx *gorm.DB) *gorm.DB) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := create(e.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}))
	if tx.Error != nil {
		if ctxDone(tx.Error) {
			return tx.Error
		}
		log.Printf("persist: relationship chunk: %v", tx.Error)
		stats.Errors += batchLen
		return nil
	}
	inserted := int(tx.RowsAffected)
	stats.Inserted += inserted
	stats.Unchanged += batchLen - inserted
	return nil
}

// rowFailure logs one failed row and folds it into the type's error count.
// Duplicate-key conflicts get called out; they usually mean two external
// ids collide on the (external_id, workspace_id) uniqueness.
func (e *Engine) rowFailure(kind, externalID string, err error, stats *Stats) {
	if isDuplicateKey(err) {
		log.Printf("persist: %s %s: duplicate key: %v", kind, externalID, err)
	} else {
		log.Printf("persist: %s %s: %v", kind, externalID, err)
	}
	stats.Errors++
}

// ctxDone reports whether err is the run's own cancellation or deadline,
// which must abort the pass instead of being counted as a row failure.
func ctxDone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}

// bindID records the internal id for an external id exactly once.
func bindID(m map[string]uint, externalID string, id uint) {
	if _, ok := m[externalID]; !ok {
		m[externalID] = id
	}
}
