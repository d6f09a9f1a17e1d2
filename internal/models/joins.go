package models

// InitiativeFeature links an initiative to a feature (many-to-many).
// The composite primary key makes re-inserting an existing edge a
// duplicate-key conflict, which persistence ignores.
type InitiativeFeature struct {
	InitiativeID uint `gorm:"primaryKey;autoIncrement:false"`
	FeatureID    uint `gorm:"primaryKey;autoIncrement:false"`

	Initiative Initiative `gorm:"foreignKey:InitiativeID"`
	Feature    Feature    `gorm:"foreignKey:FeatureID"`
}

// ComponentInitiative is a derived edge: a component and an initiative are
// related when some feature belongs to both. Derivation is one hop only.
type ComponentInitiative struct {
	ComponentID  uint `gorm:"primaryKey;autoIncrement:false"`
	InitiativeID uint `gorm:"primaryKey;autoIncrement:false"`

	Component  Component  `gorm:"foreignKey:ComponentID"`
	Initiative Initiative `gorm:"foreignKey:InitiativeID"`
}
