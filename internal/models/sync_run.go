package models

import "time"

// SyncRun statuses. A run starts in_progress and transitions exactly once
// to completed or failed; terminal rows are never updated again.
const (
	RunInProgress = "in_progress"
	RunCompleted  = "completed"
	RunFailed     = "failed"
)

// SyncRun is one row of the append-only run history table.
type SyncRun struct {
	ID          string `gorm:"primaryKey;size:32"`
	WorkspaceID string `gorm:"size:64;not null;index"`
	Status      string `gorm:"size:16;default:in_progress;index"`
	StartedAt   time.Time
	CompletedAt *time.Time

	ProductsCount      int
	InitiativesCount   int
	ComponentsCount    int
	FeaturesCount      int
	SubFeaturesCount   int
	RelationshipsCount int
	ErrorCount         int

	ErrorMessage string `gorm:"type:text"`
}

// Terminal reports whether the run has reached a final status.
func (r *SyncRun) Terminal() bool {
	return r.Status == RunCompleted || r.Status == RunFailed
}
