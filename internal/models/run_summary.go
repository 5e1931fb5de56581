package models

import "time"

// RunSummary archives the final metrics snapshot of an ended session.
type RunSummary struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	SessionID        string `gorm:"size:64;index"`
	Leader           string `gorm:"size:64;index"`
	Status           string `gorm:"size:16"`
	StatusReason     string `gorm:"type:text"`
	StartTime        time.Time
	EndedAt          time.Time
	TotalRunSeconds  int64
	NumberOfRestarts int
	EarnedKamas      int64
	NbrFightsDone    int
	EarnedLevels     int
	CreatedAt        time.Time
}
