package syncrun

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fernwake/prodsync/internal/collector"
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

// stubAPI is a minimal test double for hierarchy.API.
type stubAPI struct {
	products      []hierarchy.Product
	productsErr   error
	initiatives   []hierarchy.Initiative
	features      map[string][]hierarchy.Feature
	children      map[string][]hierarchy.Feature
	block         bool // when set, ListProducts waits for ctx cancellation
	stallChildren bool // when set, child fetches answer only after ctx expires
}

func (s *stubAPI) wait(ctx context.Context) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (s *stubAPI) ListProducts(ctx context.Context) ([]hierarchy.Product, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	return s.products, s.productsErr
}

func (s *stubAPI) GetProduct(ctx context.Context, id string) (*hierarchy.Product, error) {
	return nil, hierarchy.ErrNotFound
}

func (s *stubAPI) ListInitiatives(ctx context.Context) ([]hierarchy.Initiative, error) {
	return s.initiatives, nil
}

func (s *stubAPI) GetInitiative(ctx context.Context, id string) (*hierarchy.Initiative, error) {
	return nil, hierarchy.ErrNotFound
}

func (s *stubAPI) ListComponents(ctx context.Context) ([]hierarchy.Component, error) {
	return nil, hierarchy.ErrNotFound
}

func (s *stubAPI) InitiativeFeatures(ctx context.Context, id string) ([]hierarchy.Feature, error) {
	return s.features[id], nil
}

func (s *stubAPI) ComponentFeatures(ctx context.Context, id string) ([]hierarchy.Feature, error) {
	return nil, nil
}

func (s *stubAPI) ChildFeatures(ctx context.Context, id string) ([]hierarchy.Feature, error) {
	if s.stallChildren {
		<-ctx.Done()
	}
	return s.children[id], nil
}

func allFilters() collector.Filters {
	return collector.Filters{IncludeInitiatives: true, IncludeComponents: true, IncludeFeatures: true}
}

func happyAPI() *stubAPI {
	return &stubAPI{
		products:    []hierarchy.Product{{ID: "p1", Name: "Platform"}},
		initiatives: []hierarchy.Initiative{{ID: "i1", Name: "Bets", ProductID: "p1"}},
		features: map[string][]hierarchy.Feature{
			"i1": {{ID: "f1", Name: "Search"}},
		},
		children: map[string][]hierarchy.Feature{
			"f1": {{ID: "f2", Name: "Filters"}},
		},
	}
}

func TestGenerateID(t *testing.T) {
	id, err := GenerateID()
	if err != nil {
		t.Fatalf("GenerateID: %v", err)
	}
	if !strings.HasPrefix(id, "run-") || len(id) != 12 {
		t.Errorf("id = %q, want run- prefix and 8 hex chars", id)
	}
	other, _ := GenerateID()
	if id == other {
		t.Error("two generated ids collided")
	}
}

func TestRun_Completed(t *testing.T) {
	db := testDB(t)
	out, err := New(db, Options{}).Run(context.Background(), happyAPI(), "ws1", allFilters())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if out.Run.Status != models.RunCompleted {
		t.Errorf("status = %q, want completed", out.Run.Status)
	}
	if out.Run.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	if out.Run.ProductsCount != 1 || out.Run.InitiativesCount != 1 || out.Run.FeaturesCount != 2 {
		t.Errorf("counts = %+v", out.Run)
	}
	if out.Run.SubFeaturesCount != 1 {
		t.Errorf("SubFeaturesCount = %d, want 1", out.Run.SubFeaturesCount)
	}
	if out.Run.RelationshipsCount != out.Graph.EdgeCount() {
		t.Errorf("RelationshipsCount = %d, want %d", out.Run.RelationshipsCount, out.Graph.EdgeCount())
	}

	// The stored row matches the returned record.
	var stored models.SyncRun
	if err := db.First(&stored, "id = ?", out.Run.ID).Error; err != nil {
		t.Fatalf("load run row: %v", err)
	}
	if stored.Status != models.RunCompleted || stored.FeaturesCount != 2 {
		t.Errorf("stored run = %+v", stored)
	}
}

func TestRun_FailedOnFatalFetch(t *testing.T) {
	db := testDB(t)
	api := &stubAPI{productsErr: errors.New("upstream down")}
	out, err := New(db, Options{}).Run(context.Background(), api, "ws1", allFilters())
	if err == nil {
		t.Fatal("expected error")
	}
	if out.Run.Status != models.RunFailed {
		t.Errorf("status = %q, want failed", out.Run.Status)
	}
	if !strings.Contains(out.Run.ErrorMessage, "upstream down") {
		t.Errorf("error message = %q", out.Run.ErrorMessage)
	}

	var stored models.SyncRun
	db.First(&stored, "id = ?", out.Run.ID)
	if stored.Status != models.RunFailed || stored.ProductsCount != 0 {
		t.Errorf("stored run = %+v, want failed with zero counts", stored)
	}
}

func TestRun_TimeoutFailsRun(t *testing.T) {
	db := testDB(t)
	api := happyAPI()
	api.block = true
	out, err := New(db, Options{Timeout: 20 * time.Millisecond}).Run(context.Background(), api, "ws1", allFilters())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if out.Run.Status != models.RunFailed {
		t.Errorf("status = %q, want failed", out.Run.Status)
	}
	if !strings.Contains(out.Run.ErrorMessage, "deadline") {
		t.Errorf("error message = %q, want a deadline error", out.Run.ErrorMessage)
	}
}

// The deadline can also fire between collection and persistence. The
// persistence pass must surface the expired context instead of counting
// every row as a store failure, so the run ends failed, not completed.
func TestRun_DeadlineDuringPersistFailsRun(t *testing.T) {
	db := testDB(t)
	api := happyAPI()
	api.stallChildren = true
	out, err := New(db, Options{Timeout: 20 * time.Millisecond}).Run(context.Background(), api, "ws1", allFilters())
	if err == nil {
		t.Fatal("expected error when the deadline fires during persistence")
	}
	if out.Run.Status != models.RunFailed {
		t.Errorf("status = %q, want failed", out.Run.Status)
	}
	if !strings.Contains(out.Run.ErrorMessage, "deadline") {
		t.Errorf("error message = %q, want a deadline error", out.Run.ErrorMessage)
	}

	var count int64
	db.Model(&models.Product{}).Count(&count)
	if count != 0 {
		t.Errorf("product rows = %d, want 0 from the aborted persistence pass", count)
	}
}

// A terminal run row can never transition again.
func TestTransition_OnlyOnce(t *testing.T) {
	db := testDB(t)
	o := New(db, Options{})
	out, err := o.Run(context.Background(), happyAPI(), "ws1", allFilters())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	err = o.transition(out.Run.ID, map[string]any{"status": models.RunFailed})
	if err == nil {
		t.Fatal("expected error transitioning a terminal run")
	}
	var stored models.SyncRun
	db.First(&stored, "id = ?", out.Run.ID)
	if stored.Status != models.RunCompleted {
		t.Errorf("terminal status was overwritten: %q", stored.Status)
	}
}

// Re-running against unchanged source data is safe and records a second,
// fully-unchanged run.
func TestRun_Rerunnable(t *testing.T) {
	db := testDB(t)
	o := New(db, Options{})
	if _, err := o.Run(context.Background(), happyAPI(), "ws1", allFilters()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	out, err := o.Run(context.Background(), happyAPI(), "ws1", allFilters())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if out.Persist.Features.Inserted != 0 || out.Persist.Features.Updated != 0 {
		t.Errorf("second run features stats = %+v, want all unchanged", out.Persist.Features)
	}

	runs, err := History(db, "ws1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("run history has %d rows, want 2", len(runs))
	}
}

func TestHistoryAndGet(t *testing.T) {
	db := testDB(t)
	o := New(db, Options{})
	out1, _ := o.Run(context.Background(), happyAPI(), "ws1", allFilters())
	o.Run(context.Background(), happyAPI(), "ws2", allFilters())

	runs, err := History(db, "ws1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(runs) != 1 || runs[0].WorkspaceID != "ws1" {
		t.Errorf("History(ws1) = %+v", runs)
	}

	all, _ := History(db, "", 10)
	if len(all) != 2 {
		t.Errorf("History(all) has %d rows, want 2", len(all))
	}

	got, err := Get(db, out1.Run.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != out1.Run.ID {
		t.Errorf("Get returned %q, want %q", got.ID, out1.Run.ID)
	}
	if _, err := Get(db, "run-missing"); err == nil {
		t.Error("Get of unknown run should error")
	}
}
