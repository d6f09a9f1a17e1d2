package models

import "time"

// Initiative groups features under a product. ProductID is nullable: the
// initiative's product may not be part of the current sync batch.
type Initiative struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	ExternalID  string `gorm:"size:64;not null;uniqueIndex:idx_initiatives_ext_ws"`
	WorkspaceID string `gorm:"size:64;not null;uniqueIndex:idx_initiatives_ext_ws"`
	Name        string `gorm:"not null"`
	Description string `gorm:"type:text"`
	Status      string `gorm:"size:32"`
	Owner       string `gorm:"size:128"`
	ProductID   *uint  `gorm:"index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Product *Product `gorm:"foreignKey:ProductID"`
}
