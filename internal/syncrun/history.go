package syncrun

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/fernwake/prodsync/internal/models"
)

// History returns the most recent runs, newest first, optionally filtered
// to one workspace. limit <= 0 falls back to 50.
func History(db *gorm.DB, workspaceID string, limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	q := db.Order("started_at DESC").Limit(limit)
	if workspaceID != "" {
		q = q.Where("workspace_id = ?", workspaceID)
	}
	var runs []models.SyncRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("syncrun: list runs: %w", err)
	}
	return runs, nil
}

// Get returns a single run by id.
func Get(db *gorm.DB, id string) (*models.SyncRun, error) {
	var run models.SyncRun
	if err := db.First(&run, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("syncrun: get run %s: %w", id, err)
	}
	return &run, nil
}
