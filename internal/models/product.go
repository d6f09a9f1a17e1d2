package models

import "time"

// Product is a top-level catalog entity pulled from the source hierarchy API.
// Rows are unique per (external_id, workspace_id); the internal ID is assigned
// by the store on first persistence and never changes afterwards.
type Product struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	ExternalID  string `gorm:"size:64;not null;uniqueIndex:idx_products_ext_ws"`
	WorkspaceID string `gorm:"size:64;not null;uniqueIndex:idx_products_ext_ws"`
	Name        string `gorm:"not null"`
	Description string `gorm:"type:text"`
	Status      string `gorm:"size:32"`
	Metadata    string `gorm:"type:json"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
