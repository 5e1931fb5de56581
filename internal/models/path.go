package models

import "time"

// Path is a stored farm path definition. Vertex and list fields are
// JSON-encoded; the catalog package decodes them into domain values.
type Path struct {
	ID                      string `gorm:"primaryKey;size:64"`
	Type                    string `gorm:"size:32;not null"`
	StartVertex             string `gorm:"type:json"`
	TransitionTypeWhitelist string `gorm:"type:json"`
	SubAreaBlacklist        string `gorm:"type:json"`
	CreatedAt               time.Time
	UpdatedAt               time.Time
}
