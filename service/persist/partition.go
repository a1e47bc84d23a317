package persist

import (
	"encoding/json"
	"fmt"
	"io"
)

// Partition is one city's slice of the interaction dataset, produced by the
// upstream clustering stage. Entity indices are contiguous and 0-based.
type Partition struct {
	City     string   `json:"city"`
	Entities []Entity `json:"entities"`
	Edges    []Edge   `json:"edges"`
}

// ReadPartitions decodes a partition document: either a single partition
// object or an array of them.
func ReadPartitions(r io.Reader) ([]Partition, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var many []Partition
	if err := json.Unmarshal(b, &many); err == nil {
		return many, nil
	}

	var one Partition
	if err := json.Unmarshal(b, &one); err != nil {
		return nil, err
	}
	return []Partition{one}, nil
}

type ErrEmptyGraph struct {
	City string
}

func (e ErrEmptyGraph) Error() string {
	return fmt.Sprintf("empty graph: partition %s has no entities", e.City)
}

type ErrMalformedGraph struct {
	City string
	Edge Edge
}

func (e ErrMalformedGraph) Error() string {
	return fmt.Sprintf("malformed graph: partition %s has bad edge (%d -> %d, type=%s, weight=%g)",
		e.City, e.Edge.Source, e.Edge.Target, e.Edge.Type, e.Edge.Weight)
}

type ErrInvalidRestartConstant struct {
	Constant float64
}

func (e ErrInvalidRestartConstant) Error() string {
	return fmt.Sprintf("invalid restart constant: %g not in (0, 1)", e.Constant)
}

type ErrInvalidOrder struct {
	Order int
}

func (e ErrInvalidOrder) Error() string {
	return fmt.Sprintf("invalid walk order: %d is less than 1", e.Order)
}

type ErrInvalidTopK struct {
	TopK int
}

func (e ErrInvalidTopK) Error() string {
	return fmt.Sprintf("invalid top-k: %d is less than 1", e.TopK)
}

type ErrNumericInstability struct {
	Entity EntityID
}

func (e ErrNumericInstability) Error() string {
	return fmt.Sprintf("numeric instability: distribution for entity %s failed to renormalize", e.Entity)
}
