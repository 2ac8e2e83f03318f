package models

import "time"

// TransferRun is the terminal record of a sync, cleanup or verify run.
// Retries are stored as separate runs pointing at their parent.
type TransferRun struct {
	ID          string `gorm:"primaryKey;type:text"`
	ParentRunID string `gorm:"type:text;index"`
	Kind        string `gorm:"type:text;not null;index"` // "sync", "cleanup", "verify"
	Direction   string `gorm:"type:text"`
	Scope       string `gorm:"type:text"`
	Status      string `gorm:"type:text;not null"`

	// Aggregates
	TotalItems     int   `gorm:"default:0"`
	CompletedItems int   `gorm:"default:0"`
	FailedItems    int   `gorm:"default:0"`
	SkippedItems   int   `gorm:"default:0"`
	TotalBytes     int64 `gorm:"default:0"`
	BytesDone      int64 `gorm:"default:0"`

	StartedAt  time.Time
	FinishedAt time.Time

	// Relationships
	Items []TransferItem `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

// TransferItem is the final state of one digest within a run
type TransferItem struct {
	ID     uint   `gorm:"primaryKey"`
	RunID  string `gorm:"type:text;not null;index"`
	Digest string `gorm:"type:text;not null"`
	Size   int64  `gorm:"default:0"`
	Bytes  int64  `gorm:"default:0"`
	Status string `gorm:"type:text;not null"`

	Skipped  bool   `gorm:"default:false"`
	Attempts int    `gorm:"default:0"`
	Error    string `gorm:"type:text"`
	Note     string `gorm:"type:text"`

	// Relationships
	Run TransferRun `gorm:"foreignKey:RunID;references:ID"`
}
