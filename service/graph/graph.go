package graph

import (
	"github.com/structrec/structrec/service/persist"
)

// Neighbor is one direct edge in the adjacency-list view, carrying the raw
// (mixed, deduplicated) edge weight rather than a transition probability.
type Neighbor struct {
	ID     persist.EntityID `json:"id"`
	Weight float64          `json:"weight"`
}

type AdjacencyList map[persist.EntityID][]Neighbor

type Graph struct {
	Neighbors AdjacencyList `json:"neighbors"`
	Metadata  Metadata      `json:"metadata"`
}

type Metadata struct {
	Indegrees    map[persist.EntityID]int `json:"indegrees"`
	MaxIndegree  int                      `json:"max_indegree"`
	MaxOutdegree int                      `json:"max_outdegree"`
	TotalEdges   int                      `json:"total_edges"`
}

// NeighborGraph builds the adjacency-list artifact for entities with direct
// edges. Neighbor lists are ordered by entity index so output is stable
// across runs.
func NeighborGraph(p persist.Partition, ix *Index, opts Options) (*Graph, error) {
	n := ix.Len()

	cells, err := accumulate(p, n, opts)
	if err != nil {
		return nil, err
	}

	neighbors := AdjacencyList{}
	inDegrees := make(map[persist.EntityID]int)
	var maxIndegree, maxOutdegree, totalEdges int

	// Cells arrive sorted by (row, col), so neighbor lists come out ordered
	// by entity index.
	for _, c := range cells {
		id := ix.ID(c.row)
		neighbors[id] = append(neighbors[id], Neighbor{ID: ix.ID(c.col), Weight: c.weight})
		inDegrees[ix.ID(c.col)]++
		maxIndegree = max(maxIndegree, inDegrees[ix.ID(c.col)])
		maxOutdegree = max(maxOutdegree, len(neighbors[id]))
		totalEdges++
	}

	return &Graph{
		Neighbors: neighbors,
		Metadata: Metadata{
			Indegrees:    inDegrees,
			MaxIndegree:  maxIndegree,
			MaxOutdegree: maxOutdegree,
			TotalEdges:   totalEdges,
		},
	}, nil
}
