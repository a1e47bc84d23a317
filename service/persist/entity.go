package persist

import "fmt"

// EntityID is the dataset-scoped external identifier of a user or business.
type EntityID string

func (id EntityID) String() string {
	return string(id)
}

// EntityKind discriminates users from businesses.
type EntityKind string

const (
	EntityKindUser     EntityKind = "user"
	EntityKindBusiness EntityKind = "business"
)

// EdgeType tags a relation between two entities.
type EdgeType string

const (
	EdgeTypeInteraction EdgeType = "interaction"
	EdgeTypeFriendship  EdgeType = "friendship"
)

// Entity is a node in a city partition. Its index is its position in the
// partition's entity slice.
type Entity struct {
	ID   EntityID   `json:"id"`
	Kind EntityKind `json:"kind"`
}

// Edge relates two entities by their partition indices. A zero weight means
// the default weight of 1.0.
type Edge struct {
	Source int      `json:"source"`
	Target int      `json:"target"`
	Type   EdgeType `json:"type"`
	Weight float64  `json:"weight,omitempty"`
}

type ErrUnknownEntityKind struct {
	Kind EntityKind
}

func (e ErrUnknownEntityKind) Error() string {
	return fmt.Sprintf("unknown entity kind: %s", e.Kind)
}

type ErrUnknownEdgeType struct {
	Type EdgeType
}

func (e ErrUnknownEdgeType) Error() string {
	return fmt.Sprintf("unknown edge type: %s", e.Type)
}
