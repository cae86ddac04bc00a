package domain

type EntityType string

const (
	EntityHost       EntityType = "host"
	EntityEndpoint   EntityType = "endpoint"
	EntityService    EntityType = "service"
	EntityComponent  EntityType = "component"
	EntityTechnology EntityType = "technology"
)

// ValidEntityType reports whether t is one of the known entity types.
func ValidEntityType(t string) bool {
	switch EntityType(t) {
	case EntityHost, EntityEndpoint, EntityService, EntityComponent, EntityTechnology:
		return true
	}
	return false
}

type Relationship string

const (
	RelContains Relationship = "CONTAINS"
	RelFlowsTo  Relationship = "FLOWS_TO"
	RelRunsOn   Relationship = "RUNS_ON"
	RelUses     Relationship = "USES"
	RelExposes  Relationship = "EXPOSES"
)

func ValidRelationship(r string) bool {
	switch Relationship(r) {
	case RelContains, RelFlowsTo, RelRunsOn, RelUses, RelExposes:
		return true
	}
	return false
}

type Entity struct {
	ID         string         `json:"id"`
	EntityType EntityType     `json:"entity_type"`
	Attributes map[string]any `json:"attributes,omitempty"`
	ClaimRefs  []string       `json:"claim_refs,omitempty"`
}

type Edge struct {
	Source       string       `json:"source"`
	Target       string       `json:"target"`
	Relationship Relationship `json:"relationship"`
	ClaimRefs    []string     `json:"claim_refs,omitempty"`
}

type TargetModelState struct {
	Entities []Entity `json:"entities"`
	Edges    []Edge   `json:"edges"`
}

type ModelStats struct {
	TotalEntities int                  `json:"total_entities"`
	TotalEdges    int                  `json:"total_edges"`
	ByType        map[EntityType]int   `json:"by_type"`
	ByRelation    map[Relationship]int `json:"by_relationship"`
}

// ModelReader is the read-only view of the target model.
type ModelReader interface {
	GetEntity(id string) (Entity, bool)
	Entities(t EntityType) []Entity
	Edges() []Edge
	Endpoints() []Entity
}
