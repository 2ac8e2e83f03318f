package models

import "time"

// Verification records the last integrity check of a blob at one location
type Verification struct {
	ID         uint      `gorm:"primaryKey"`
	Digest     string    `gorm:"type:text;not null;uniqueIndex:idx_verification_location"`
	Location   string    `gorm:"type:text;not null;uniqueIndex:idx_verification_location"`
	OK         bool      `gorm:"not null"`
	VerifiedAt time.Time `gorm:"not null"`
}
