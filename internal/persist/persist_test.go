package persist

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fernwake/prodsync/internal/collector"
	"github.com/fernwake/prodsync/internal/graph"
	"github.com/fernwake/prodsync/internal/hierarchy"
	"github.com/fernwake/prodsync/internal/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Product{}, &models.Initiative{}, &models.Component{},
		&models.Feature{}, &models.InitiativeFeature{}, &models.ComponentInitiative{},
		&models.SyncRun{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func sampleCollection() *collector.Collection {
	return &collector.Collection{
		Products: []hierarchy.Product{
			{ID: "p1", Name: "Platform", Status: "active", Metadata: map[string]any{"tier": "1"}},
		},
		Initiatives: []hierarchy.Initiative{
			{ID: "i1", Name: "Q3 bets", ProductID: "p1"},
			{ID: "i2", Name: "Orphan", ProductID: "nowhere"},
		},
		Components: []hierarchy.Component{
			{ID: "c1", Name: "Search"},
		},
		Features: []hierarchy.Feature{
			{ID: "f1", Name: "Faceted search", ComponentID: "c1", InitiativeIDs: []string{"i1"}, ProductID: "p1"},
			{ID: "f2", Name: "Search filters", ParentID: "f1"},
		},
	}
}

func persistSample(t *testing.T, db *gorm.DB) (*Result, *collector.Collection) {
	t.Helper()
	col := sampleCollection()
	g := graph.Build(col)
	res, err := New(db, 0).Persist(context.Background(), "ws1", col, g)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	return res, col
}

func TestPersist_InsertsEverything(t *testing.T) {
	db := testDB(t)
	res, _ := persistSample(t, db)

	if res.Products.Inserted != 1 || res.Initiatives.Inserted != 2 ||
		res.Components.Inserted != 1 || res.Features.Inserted != 2 {
		t.Errorf("inserted counts wrong: %+v", res)
	}
	if res.Products.Errors+res.Initiatives.Errors+res.Components.Errors+res.Features.Errors != 0 {
		t.Errorf("unexpected row errors: %+v", res)
	}
	if len(res.FeatureIDs) != 2 {
		t.Errorf("FeatureIDs = %v, want 2 entries", res.FeatureIDs)
	}
}

// Running the pipeline twice against unchanged source data must produce a
// second run with zero inserts and zero updates.
func TestPersist_Idempotent(t *testing.T) {
	db := testDB(t)
	persistSample(t, db)
	res, _ := persistSample(t, db)

	for name, stats := range map[string]Stats{
		"products": res.Products, "initiatives": res.Initiatives,
		"components": res.Components, "features": res.Features,
	} {
		if stats.Inserted != 0 || stats.Updated != 0 {
			t.Errorf("%s: second run inserted=%d updated=%d, want 0/0 (%+v)", name, stats.Inserted, stats.Updated, stats)
		}
		if stats.Unchanged != stats.Total {
			t.Errorf("%s: unchanged=%d, want %d", name, stats.Unchanged, stats.Total)
		}
	}
	if res.Relationships.Inserted != 0 {
		t.Errorf("relationships re-inserted: %+v", res.Relationships)
	}

	var count int64
	db.Model(&models.Feature{}).Count(&count)
	if count != 2 {
		t.Errorf("feature rows = %d after two runs, want 2", count)
	}
}

func TestPersist_UpdatesChangedRow(t *testing.T) {
	db := testDB(t)
	persistSample(t, db)

	col := sampleCollection()
	col.Products[0].Status = "archived"
	res, err := New(db, 0).Persist(context.Background(), "ws1", col, graph.Build(col))
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if res.Products.Updated != 1 || res.Products.Inserted != 0 {
		t.Errorf("products stats = %+v, want one update", res.Products)
	}

	var row models.Product
	db.First(&row, "external_id = ? AND workspace_id = ?", "p1", "ws1")
	if row.Status != "archived" {
		t.Errorf("status = %q, want archived", row.Status)
	}
}

// Internal ids never change across runs for the same external id.
func TestPersist_StableInternalIDs(t *testing.T) {
	db := testDB(t)
	first, _ := persistSample(t, db)
	second, _ := persistSample(t, db)

	for ext, id := range first.FeatureIDs {
		if second.FeatureIDs[ext] != id {
			t.Errorf("feature %s internal id changed: %d -> %d", ext, id, second.FeatureIDs[ext])
		}
	}
}

func TestPersist_ParentResolution(t *testing.T) {
	db := testDB(t)
	res, _ := persistSample(t, db)

	var child models.Feature
	if err := db.First(&child, "external_id = ?", "f2").Error; err != nil {
		t.Fatalf("load f2: %v", err)
	}
	if child.ParentID == nil {
		t.Fatal("f2.ParentID is nil, want f1's internal id")
	}
	if *child.ParentID != res.FeatureIDs["f1"] {
		t.Errorf("f2.ParentID = %d, want %d", *child.ParentID, res.FeatureIDs["f1"])
	}
	if res.DanglingParents != 0 {
		t.Errorf("DanglingParents = %d, want 0", res.DanglingParents)
	}
}

func TestPersist_DanglingParentLeftUnset(t *testing.T) {
	db := testDB(t)
	col := sampleCollection()
	col.Features[1].ParentID = "not-in-batch"
	res, err := New(db, 0).Persist(context.Background(), "ws1", col, graph.Build(col))
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if res.DanglingParents != 1 {
		t.Errorf("DanglingParents = %d, want 1", res.DanglingParents)
	}
	var child models.Feature
	db.First(&child, "external_id = ?", "f2")
	if child.ParentID != nil {
		t.Errorf("f2.ParentID = %v, want nil", *child.ParentID)
	}
}

func TestPersist_InitiativeProductResolution(t *testing.T) {
	db := testDB(t)
	res, _ := persistSample(t, db)

	var linked, orphan models.Initiative
	db.First(&linked, "external_id = ?", "i1")
	db.First(&orphan, "external_id = ?", "i2")

	if linked.ProductID == nil || *linked.ProductID != res.ProductIDs["p1"] {
		t.Errorf("i1.ProductID = %v, want %d", linked.ProductID, res.ProductIDs["p1"])
	}
	if orphan.ProductID != nil {
		t.Errorf("i2.ProductID = %v, want nil (product not in batch)", *orphan.ProductID)
	}
}

// A single failing row must be counted, not propagated: the rest of the
// batch and the other entity types still land.
func TestPersist_RowFailureIsIsolated(t *testing.T) {
	db := testDB(t)
	col := sampleCollection()
	// Second occurrence of the same external id inside one chunk: the
	// pre-chunk lookup misses it, so the second insert hits the unique
	// index and fails.
	col.Features = append(col.Features, hierarchy.Feature{ID: "f1", Name: "Duplicate"})

	res, err := New(db, 0).Persist(context.Background(), "ws1", col, graph.Build(col))
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if res.Features.Errors != 1 {
		t.Errorf("feature errors = %d, want 1", res.Features.Errors)
	}
	if res.Features.Inserted != 2 {
		t.Errorf("feature inserted = %d, want 2", res.Features.Inserted)
	}
	if res.Products.Inserted != 1 || res.Components.Inserted != 1 {
		t.Error("sibling entity types were disturbed by the feature row failure")
	}
}

// Cancellation is not a row failure: the pass aborts and the caller gets
// the context error, so the run can be marked failed instead of completed
// with every row counted as an error.
func TestPersist_ContextCancellationAborts(t *testing.T) {
	db := testDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	col := sampleCollection()
	res, err := New(db, 0).Persist(ctx, "ws1", col, graph.Build(col))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res != nil {
		t.Errorf("result = %+v, want nil on an aborted pass", res)
	}

	var count int64
	db.Model(&models.Product{}).Count(&count)
	if count != 0 {
		t.Errorf("product rows = %d, want 0 after an aborted pass", count)
	}
}

func TestPersist_RelationshipRows(t *testing.T) {
	db := testDB(t)
	res, _ := persistSample(t, db)

	// i1->f1 join row plus the derived i1->c1 edge.
	if res.Relationships.Total != 2 || res.Relationships.Inserted != 2 {
		t.Errorf("relationship stats = %+v, want 2 inserted", res.Relationships)
	}

	var joins int64
	db.Model(&models.InitiativeFeature{}).Count(&joins)
	if joins != 1 {
		t.Errorf("initiative_features rows = %d, want 1", joins)
	}
	var derived int64
	db.Model(&models.ComponentInitiative{}).Count(&derived)
	if derived != 1 {
		t.Errorf("component_initiatives rows = %d, want 1", derived)
	}
}

func TestPersist_ChunkingSmallBatches(t *testing.T) {
	db := testDB(t)
	col := &collector.Collection{}
	for i := 0; i < 7; i++ {
		col.Products = append(col.Products, hierarchy.Product{
			ID:   string(rune('a' + i)),
			Name: "Product " + string(rune('A'+i)),
		})
	}
	res, err := New(db, 2).Persist(context.Background(), "ws1", col, graph.Build(col))
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if res.Products.Inserted != 7 {
		t.Errorf("inserted = %d, want 7 across 4 chunks", res.Products.Inserted)
	}
}

func TestPersist_WorkspaceIsolation(t *testing.T) {
	db := testDB(t)
	col := sampleCollection()
	g := graph.Build(col)
	if _, err := New(db, 0).Persist(context.Background(), "ws1", col, g); err != nil {
		t.Fatalf("Persist ws1: %v", err)
	}
	res2, err := New(db, 0).Persist(context.Background(), "ws2", sampleCollection(), g)
	if err != nil {
		t.Fatalf("Persist ws2: %v", err)
	}
	if res2.Products.Inserted != 1 {
		t.Errorf("same external id in another workspace should insert, got %+v", res2.Products)
	}

	var count int64
	db.Model(&models.Product{}).Count(&count)
	if count != 2 {
		t.Errorf("product rows = %d, want 2 (one per workspace)", count)
	}
}

func TestChunk(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	got := chunk(items, 2)
	if len(got) != 3 || len(got[0]) != 2 || len(got[2]) != 1 {
		t.Errorf("chunk() = %v, want [[1 2] [3 4] [5]]", got)
	}
	if chunk([]int{}, 2) != nil {
		t.Error("chunk of empty slice should be nil")
	}
}
