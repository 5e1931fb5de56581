package models

// Job is a gathering profession from the game data catalog.
type Job struct {
	ID        int    `gorm:"primaryKey"`
	Name      string `gorm:"size:64;not null"`
	Resources []Resource
}

// Resource is one gatherable resource belonging to a job.
type Resource struct {
	ID       int    `gorm:"primaryKey"`
	JobID    int    `gorm:"index"`
	Name     string `gorm:"size:64;not null"`
	LevelMin int
}
