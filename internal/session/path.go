package session

// PathType selects the traversal strategy a farm path uses.
type PathType string

const (
	PathRandomSubArea PathType = "RandomSubAreaFarmPath"
	PathRandomArea    PathType = "RandomAreaFarmPath"
	PathCyclic        PathType = "CyclicFarmPath"
)

// PathTypes returns all known path types in a stable order.
func PathTypes() []PathType {
	return []PathType{PathRandomSubArea, PathRandomArea, PathCyclic}
}

// Valid reports whether p is a known path type.
func (p PathType) Valid() bool {
	switch p {
	case PathRandomSubArea, PathRandomArea, PathCyclic:
		return true
	}
	return false
}

// Vertex is a location reference. The orchestrator only stores and
// compares vertices; their map semantics belong to the game layer.
type Vertex struct {
	MapID          float64 `json:"mapId"`
	ZoneID         int     `json:"zoneId"`
	OnlyDirections bool    `json:"onlyDirections,omitempty"`
}

// Path is a navigation descriptor controlling map traversal during
// farming. Paths are immutable once referenced by a running session;
// changing one means importing a new path id.
type Path struct {
	ID                      string   `json:"id"`
	Type                    PathType `json:"type"`
	StartVertex             *Vertex  `json:"startVertex,omitempty"`
	TransitionTypeWhitelist []int    `json:"transitionTypeWhitelist,omitempty"`
	SubAreaBlacklist        []int    `json:"subAreaBlacklist,omitempty"`
}

// Clone returns a deep copy of the path.
func (p Path) Clone() Path {
	c := p
	if p.StartVertex != nil {
		v := *p.StartVertex
		c.StartVertex = &v
	}
	if p.TransitionTypeWhitelist != nil {
		c.TransitionTypeWhitelist = append([]int(nil), p.TransitionTypeWhitelist...)
	}
	if p.SubAreaBlacklist != nil {
		c.SubAreaBlacklist = append([]int(nil), p.SubAreaBlacklist...)
	}
	return c
}
