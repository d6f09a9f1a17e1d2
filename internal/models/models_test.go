package models

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
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
		&Product{}, &Initiative{}, &Component{}, &Feature{},
		&InitiativeFeature{}, &ComponentInitiative{}, &SyncRun{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestProduct_UniquePerWorkspace(t *testing.T) {
	db := testDB(t)

	if err := db.Create(&Product{ExternalID: "p1", WorkspaceID: "ws1", Name: "A"}).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	// Same external id in another workspace is a different row.
	if err := db.Create(&Product{ExternalID: "p1", WorkspaceID: "ws2", Name: "A"}).Error; err != nil {
		t.Fatalf("create in second workspace: %v", err)
	}
	// Same (external_id, workspace_id) violates the unique index.
	if err := db.Create(&Product{ExternalID: "p1", WorkspaceID: "ws1", Name: "B"}).Error; err == nil {
		t.Error("duplicate (external_id, workspace_id) insert should fail")
	}
}

func TestFeature_SelfReference(t *testing.T) {
	db := testDB(t)

	parent := Feature{ExternalID: "f1", WorkspaceID: "ws1", Name: "Parent"}
	if err := db.Create(&parent).Error; err != nil {
		t.Fatalf("create parent: %v", err)
	}
	child := Feature{ExternalID: "f2", WorkspaceID: "ws1", Name: "Child", ParentID: &parent.ID}
	if err := db.Create(&child).Error; err != nil {
		t.Fatalf("create child: %v", err)
	}

	var loaded Feature
	if err := db.Preload("Children").First(&loaded, "external_id = ?", "f1").Error; err != nil {
		t.Fatalf("load parent: %v", err)
	}
	if len(loaded.Children) != 1 || loaded.Children[0].ExternalID != "f2" {
		t.Errorf("children = %+v", loaded.Children)
	}
}

func TestInitiativeFeature_CompositeKey(t *testing.T) {
	db := testDB(t)

	edge := InitiativeFeature{InitiativeID: 1, FeatureID: 2}
	if err := db.Create(&edge).Error; err != nil {
		t.Fatalf("create edge: %v", err)
	}
	dup := InitiativeFeature{InitiativeID: 1, FeatureID: 2}
	if err := db.Create(&dup).Error; err == nil {
		t.Error("duplicate edge insert should hit the composite primary key")
	}
}

func TestSyncRun_Terminal(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{RunInProgress, false},
		{RunCompleted, true},
		{RunFailed, true},
	}
	for _, tt := range tests {
		r := SyncRun{Status: tt.status}
		if r.Terminal() != tt.want {
			t.Errorf("Terminal() for %q = %v, want %v", tt.status, r.Terminal(), tt.want)
		}
	}
}
