package models

import "time"

// Pack represents a named collection of dependencies. Its dependencies are
// the pack's lock state: the authoritative list of blobs it needs.
type Pack struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"type:text;not null;uniqueIndex"`
	Description string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time

	// Relationships
	Dependencies []PackDependency `gorm:"foreignKey:PackID;constraint:OnDelete:CASCADE"`
}

// PackDependency is one locked dependency of a pack, resolved to a digest
type PackDependency struct {
	ID     uint   `gorm:"primaryKey"`
	PackID uint   `gorm:"not null;uniqueIndex:idx_pack_dependency"`
	Digest string `gorm:"type:text;not null;index;uniqueIndex:idx_pack_dependency"`

	// Display metadata declared by the pack
	Name string `gorm:"type:text;not null"`
	Kind string `gorm:"type:text;not null;default:unknown"`
	Size int64  `gorm:"default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time

	// Relationships
	Pack Pack `gorm:"foreignKey:PackID;references:ID"`
}
