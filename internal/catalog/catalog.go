// Package catalog stores game data (farm paths, jobs) and the run
// summary archive in the Botfleet database.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kmajdoub/botfleet/internal/models"
	"github.com/kmajdoub/botfleet/internal/session"
)

// Catalog provides read and import access to stored paths and jobs.
type Catalog struct {
	db *gorm.DB
}

// New wraps an open database connection.
func New(db *gorm.DB) *Catalog {
	return &Catalog{db: db}
}

// pathFile is the JSON import format: a list of path definitions.
type pathFile struct {
	Paths []session.Path `json:"paths"`
}

// ImportPaths reads a JSON path file and upserts its entries. Existing
// paths with the same id are replaced. Returns the number imported.
func (c *Catalog) ImportPaths(r io.Reader) (int, error) {
	var file pathFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return 0, fmt.Errorf("catalog: parse path file: %w", err)
	}
	if len(file.Paths) == 0 {
		return 0, fmt.Errorf("catalog: path file contains no paths: %w", session.ErrValidation)
	}

	for i, p := range file.Paths {
		if p.ID == "" {
			return 0, fmt.Errorf("catalog: path %d has no id: %w", i, session.ErrValidation)
		}
		if !p.Type.Valid() {
			return 0, fmt.Errorf("catalog: path %s has unknown type %q: %w", p.ID, p.Type, session.ErrValidation)
		}
	}

	rows := make([]models.Path, 0, len(file.Paths))
	for _, p := range file.Paths {
		row, err := encodePath(p)
		if err != nil {
			return 0, err
		}
		rows = append(rows, row)
	}

	err := c.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("catalog: save paths: %w", err)
	}
	return len(rows), nil
}

// GetPath loads one path by id.
func (c *Catalog) GetPath(id string) (session.Path, error) {
	var row models.Path
	if err := c.db.First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return session.Path{}, fmt.Errorf("catalog: path %s: %w", id, session.ErrNotFound)
		}
		return session.Path{}, fmt.Errorf("catalog: load path %s: %w", id, err)
	}
	return decodePath(row)
}

// ListPaths returns all stored paths ordered by id.
func (c *Catalog) ListPaths() ([]session.Path, error) {
	var rows []models.Path
	if err := c.db.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("catalog: list paths: %w", err)
	}
	paths := make([]session.Path, 0, len(rows))
	for _, row := range rows {
		p, err := decodePath(row)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// JobEntry is a job with its gatherable resources, as served by the
// catalog endpoints.
type JobEntry struct {
	ID        int             `json:"id"`
	Name      string          `json:"name"`
	Resources []ResourceEntry `json:"resources"`
}

// ResourceEntry is one gatherable resource of a job.
type ResourceEntry struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	LevelMin int    `json:"levelMin"`
}

// jobFile is the JSON import format for jobs.
type jobFile struct {
	Jobs []JobEntry `json:"jobs"`
}

// ImportJobs reads a JSON job file and upserts its entries.
func (c *Catalog) ImportJobs(r io.Reader) (int, error) {
	var file jobFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return 0, fmt.Errorf("catalog: parse job file: %w", err)
	}
	if len(file.Jobs) == 0 {
		return 0, fmt.Errorf("catalog: job file contains no jobs: %w", session.ErrValidation)
	}

	for _, j := range file.Jobs {
		if j.ID <= 0 || j.Name == "" {
			return 0, fmt.Errorf("catalog: job needs a positive id and a name: %w", session.ErrValidation)
		}
		row := models.Job{ID: j.ID, Name: j.Name}
		if err := c.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return 0, fmt.Errorf("catalog: save job %d: %w", j.ID, err)
		}
		for _, res := range j.Resources {
			rrow := models.Resource{ID: res.ID, JobID: j.ID, Name: res.Name, LevelMin: res.LevelMin}
			if err := c.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rrow).Error; err != nil {
				return 0, fmt.Errorf("catalog: save resource %d: %w", res.ID, err)
			}
		}
	}
	return len(file.Jobs), nil
}

// ListJobs returns all stored jobs with their resources, ordered by id.
func (c *Catalog) ListJobs() ([]JobEntry, error) {
	var rows []models.Job
	if err := c.db.Preload("Resources").Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("catalog: list jobs: %w", err)
	}
	jobs := make([]JobEntry, 0, len(rows))
	for _, row := range rows {
		entry := JobEntry{ID: row.ID, Name: row.Name, Resources: []ResourceEntry{}}
		for _, res := range row.Resources {
			entry.Resources = append(entry.Resources, ResourceEntry{
				ID:       res.ID,
				Name:     res.Name,
				LevelMin: res.LevelMin,
			})
		}
		jobs = append(jobs, entry)
	}
	return jobs, nil
}

func encodePath(p session.Path) (models.Path, error) {
	row := models.Path{ID: p.ID, Type: string(p.Type)}

	if p.StartVertex != nil {
		b, err := json.Marshal(p.StartVertex)
		if err != nil {
			return models.Path{}, fmt.Errorf("catalog: encode path %s start vertex: %w", p.ID, err)
		}
		row.StartVertex = string(b)
	}
	if len(p.TransitionTypeWhitelist) > 0 {
		b, err := json.Marshal(p.TransitionTypeWhitelist)
		if err != nil {
			return models.Path{}, fmt.Errorf("catalog: encode path %s whitelist: %w", p.ID, err)
		}
		row.TransitionTypeWhitelist = string(b)
	}
	if len(p.SubAreaBlacklist) > 0 {
		b, err := json.Marshal(p.SubAreaBlacklist)
		if err != nil {
			return models.Path{}, fmt.Errorf("catalog: encode path %s blacklist: %w", p.ID, err)
		}
		row.SubAreaBlacklist = string(b)
	}
	return row, nil
}

func decodePath(row models.Path) (session.Path, error) {
	p := session.Path{ID: row.ID, Type: session.PathType(row.Type)}

	if row.StartVertex != "" {
		var v session.Vertex
		if err := json.Unmarshal([]byte(row.StartVertex), &v); err != nil {
			return session.Path{}, fmt.Errorf("catalog: decode path %s start vertex: %w", row.ID, err)
		}
		p.StartVertex = &v
	}
	if row.TransitionTypeWhitelist != "" {
		if err := json.Unmarshal([]byte(row.TransitionTypeWhitelist), &p.TransitionTypeWhitelist); err != nil {
			return session.Path{}, fmt.Errorf("catalog: decode path %s whitelist: %w", row.ID, err)
		}
	}
	if row.SubAreaBlacklist != "" {
		if err := json.Unmarshal([]byte(row.SubAreaBlacklist), &p.SubAreaBlacklist); err != nil {
			return session.Path{}, fmt.Errorf("catalog: decode path %s blacklist: %w", row.ID, err)
		}
	}
	return p, nil
}
