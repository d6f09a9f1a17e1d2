package models

import "time"

// Feature is the leaf entity of the catalog. ParentID is a self-reference to
// another Feature; it is written in a second pass once every feature in the
// batch has an internal ID, so it is never set to a not-yet-committed row.
type Feature struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	ExternalID  string `gorm:"size:64;not null;uniqueIndex:idx_features_ext_ws"`
	WorkspaceID string `gorm:"size:64;not null;uniqueIndex:idx_features_ext_ws"`
	Name        string `gorm:"not null"`
	Description string `gorm:"type:text"`
	Status      string `gorm:"size:32"`
	Owner       string `gorm:"size:128"`
	StartDate   *time.Time
	DueDate     *time.Time
	ComponentID *uint `gorm:"index"`
	ParentID    *uint `gorm:"index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Component *Component `gorm:"foreignKey:ComponentID"`
	Parent    *Feature   `gorm:"foreignKey:ParentID"`
	Children  []Feature  `gorm:"foreignKey:ParentID"`
}
