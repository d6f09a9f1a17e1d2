package models

import "time"

// Component is a structural grouping of features. The source API never
// reports a component's product directly, so ProductID stays null here and
// the affiliation only exists in the derived relationship tables.
type Component struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	ExternalID  string `gorm:"size:64;not null;uniqueIndex:idx_components_ext_ws"`
	WorkspaceID string `gorm:"size:64;not null;uniqueIndex:idx_components_ext_ws"`
	Name        string `gorm:"not null"`
	Description string `gorm:"type:text"`
	Status      string `gorm:"size:32"`
	ProductID   *uint  `gorm:"index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
