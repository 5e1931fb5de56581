// Package session defines the domain model for supervised bot sessions:
// characters, paths, session descriptors, run metrics, and the lifecycle
// status state machine.
package session

import (
	"fmt"
	"strings"
	"time"
)

// Type selects which behavior profile the worker executes for a session.
// The orchestrator never interprets the behavior itself; it only routes
// the configuration to the worker.
type Type string

const (
	TypeFight             Type = "FIGHT"
	TypeFarm              Type = "FARM"
	TypeSell              Type = "SELL"
	TypeTreasureHunt      Type = "TREASURE_HUNT"
	TypeMixed             Type = "MIXED"
	TypeMultiplePathsFarm Type = "MULTIPLE_PATHS_FARM"
)

// Types returns all known session types in a stable order.
func Types() []Type {
	return []Type{TypeFight, TypeFarm, TypeSell, TypeTreasureHunt, TypeMixed, TypeMultiplePathsFarm}
}

// Valid reports whether t is a known session type.
func (t Type) Valid() bool {
	switch t {
	case TypeFight, TypeFarm, TypeSell, TypeTreasureHunt, TypeMixed, TypeMultiplePathsFarm:
		return true
	}
	return false
}

// UnloadType says where a session offloads accumulated items.
type UnloadType string

const (
	UnloadBank    UnloadType = "BANK"
	UnloadStorage UnloadType = "STORAGE"
	UnloadSeller  UnloadType = "SELLER"
)

// UnloadTypes returns all known unload types in a stable order.
func UnloadTypes() []UnloadType {
	return []UnloadType{UnloadBank, UnloadStorage, UnloadSeller}
}

// Valid reports whether u is a known unload type.
func (u UnloadType) Valid() bool {
	switch u {
	case UnloadBank, UnloadStorage, UnloadSeller:
		return true
	}
	return false
}

// Character identifies one in-game actor. The game layer owns these
// snapshots; the orchestrator treats them as immutable values.
type Character struct {
	Name       string `json:"name"`
	ID         int64  `json:"id"`
	Level      int    `json:"level"`
	BreedID    int    `json:"breedId"`
	BreedName  string `json:"breedName"`
	ServerID   int    `json:"serverId"`
	ServerName string `json:"serverName"`
	Login      string `json:"login,omitempty"`
	AccountID  int64  `json:"accountId,omitempty"`
}

// JobFilter restricts gathering to the listed resources of one job.
type JobFilter struct {
	JobID       int   `json:"jobId"`
	ResourceIDs []int `json:"resourceIds"`
}

// Metrics are the monotonic run counters owned by the supervisor.
// Every other component reads them through registry snapshots only.
type Metrics struct {
	StartTime        time.Time     `json:"startTime"`
	TotalRunTime     time.Duration `json:"totalRunTime"`
	NumberOfRestarts int           `json:"numberOfRestarts"`
	EarnedKamas      int64         `json:"earnedKamas"`
	NbrFightsDone    int           `json:"nbrFightsDone"`
	EarnedLevels     int           `json:"earnedLevels"`
}

// MetricsDelta is a worker-reported increment. Negative fields are
// clamped to zero when applied so the counters never decrease.
type MetricsDelta struct {
	EarnedKamas   int64 `json:"earnedKamas"`
	NbrFightsDone int   `json:"nbrFightsDone"`
	EarnedLevels  int   `json:"earnedLevels"`
}

// Session is the central entity: one supervised run of a leader (and
// optional followers) executing a behavior profile.
type Session struct {
	ID                 string      `json:"id"`
	Leader             Character   `json:"leader"`
	Followers          []Character `json:"followers,omitempty"`
	Type               Type        `json:"type"`
	Status             Status      `json:"status"`
	StatusReason       string      `json:"statusReason,omitempty"`
	Path               *Path       `json:"path,omitempty"`
	PathsIDs           []string    `json:"pathsIds,omitempty"`
	JobFilters         []JobFilter `json:"jobFilters,omitempty"`
	UnloadType         UnloadType  `json:"unloadType"`
	MonsterLvlCoefDiff float64     `json:"monsterLvlCoefDiff,omitempty"`
	Metrics            Metrics     `json:"metrics"`
	CreatedAt          time.Time   `json:"createdAt"`
	EndedAt            time.Time   `json:"endedAt,omitempty"`
}

// Clone returns a deep copy so registry readers never alias live state.
func (s Session) Clone() Session {
	c := s
	if s.Followers != nil {
		c.Followers = append([]Character(nil), s.Followers...)
	}
	if s.PathsIDs != nil {
		c.PathsIDs = append([]string(nil), s.PathsIDs...)
	}
	if s.JobFilters != nil {
		c.JobFilters = make([]JobFilter, len(s.JobFilters))
		for i, jf := range s.JobFilters {
			c.JobFilters[i] = jf
			c.JobFilters[i].ResourceIDs = append([]int(nil), jf.ResourceIDs...)
		}
	}
	if s.Path != nil {
		p := s.Path.Clone()
		c.Path = &p
	}
	return c
}

// Descriptor is the client-supplied request to create a session. Path
// references arrive as catalog ids; the control service resolves them
// before the session is registered.
type Descriptor struct {
	Leader             Character   `json:"leader"`
	Followers          []Character `json:"followers,omitempty"`
	Type               Type        `json:"type"`
	PathID             string      `json:"pathId,omitempty"`
	PathsIDs           []string    `json:"pathsIds,omitempty"`
	JobFilters         []JobFilter `json:"jobFilters,omitempty"`
	UnloadType         UnloadType  `json:"unloadType"`
	MonsterLvlCoefDiff float64     `json:"monsterLvlCoefDiff,omitempty"`
}

// Validate checks descriptor completeness and the consistency between
// the session type and its path fields. All failures wrap ErrValidation.
func (d Descriptor) Validate() error {
	var errs []string
	if d.Leader.Name == "" {
		errs = append(errs, "leader.name is required")
	}
	if d.Leader.ID == 0 {
		errs = append(errs, "leader.id is required")
	}
	if d.Leader.ServerID == 0 {
		errs = append(errs, "leader.serverId is required")
	}
	if !d.Type.Valid() {
		errs = append(errs, fmt.Sprintf("unknown session type %q", d.Type))
	}
	if d.UnloadType != "" && !d.UnloadType.Valid() {
		errs = append(errs, fmt.Sprintf("unknown unload type %q", d.UnloadType))
	}
	for i, f := range d.Followers {
		if f.ID == d.Leader.ID {
			errs = append(errs, fmt.Sprintf("followers[%d] duplicates the leader", i))
		}
	}
	switch d.Type {
	case TypeFarm, TypeMixed:
		if d.PathID == "" {
			errs = append(errs, fmt.Sprintf("%s sessions require pathId", d.Type))
		}
		if len(d.PathsIDs) > 0 {
			errs = append(errs, fmt.Sprintf("%s sessions take pathId, not pathsIds", d.Type))
		}
	case TypeMultiplePathsFarm:
		if len(d.PathsIDs) == 0 {
			errs = append(errs, "MULTIPLE_PATHS_FARM sessions require pathsIds")
		}
		if d.PathID != "" {
			errs = append(errs, "MULTIPLE_PATHS_FARM sessions take pathsIds, not pathId")
		}
	case TypeSell, TypeTreasureHunt:
		if d.PathID != "" || len(d.PathsIDs) > 0 {
			errs = append(errs, fmt.Sprintf("%s sessions do not take a path", d.Type))
		}
	}
	for i, jf := range d.JobFilters {
		if jf.JobID <= 0 {
			errs = append(errs, fmt.Sprintf("jobFilters[%d].jobId must be positive", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(errs, "; "))
	}
	return nil
}

// RunSummary is the final metrics snapshot emitted when a session ends.
type RunSummary struct {
	SessionID        string        `json:"sessionId"`
	Leader           string        `json:"leader"`
	Status           Status        `json:"status"`
	StatusReason     string        `json:"statusReason,omitempty"`
	StartTime        time.Time     `json:"startTime"`
	EndedAt          time.Time     `json:"endedAt"`
	TotalRunTime     time.Duration `json:"totalRunTime"`
	NumberOfRestarts int           `json:"numberOfRestarts"`
	EarnedKamas      int64         `json:"earnedKamas"`
	NbrFightsDone    int           `json:"nbrFightsDone"`
	EarnedLevels     int           `json:"earnedLevels"`
}

// Summary builds the RunSummary for a finished session.
func (s Session) Summary() RunSummary {
	leader := s.Leader.Login
	if leader == "" {
		leader = s.Leader.Name
	}
	return RunSummary{
		SessionID:        s.ID,
		Leader:           leader,
		Status:           s.Status,
		StatusReason:     s.StatusReason,
		StartTime:        s.Metrics.StartTime,
		EndedAt:          s.EndedAt,
		TotalRunTime:     s.Metrics.TotalRunTime,
		NumberOfRestarts: s.Metrics.NumberOfRestarts,
		EarnedKamas:      s.Metrics.EarnedKamas,
		NbrFightsDone:    s.Metrics.NbrFightsDone,
		EarnedLevels:     s.Metrics.EarnedLevels,
	}
}
