package structctx

import (
	"sort"

	"github.com/structrec/structrec/service/graph"
	"github.com/structrec/structrec/service/persist"
)

// Pair is one weighted neighbor in an entity's structural context. Weight is
// the renormalized RWR probability, not re-normalized within the top-K
// subset.
type Pair struct {
	ID     persist.EntityID `json:"id"`
	Index  int              `json:"-"`
	Weight float64          `json:"weight"`
}

// Context is an entity's structural context: at most K neighbors ordered by
// descending weight, ties broken by ascending entity index. It may hold fewer
// than K entries when the walk reached fewer nodes; consumers must handle
// variable-length contexts.
type Context []Pair

// TopK extracts the context from a full RWR distribution, excluding the seed
// itself and any zero entries.
func TopK(dist []float64, seed int, k int, ix *graph.Index) (Context, error) {
	if k < 1 {
		return nil, persist.ErrInvalidTopK{TopK: k}
	}

	pairs := make(Context, 0, k)
	for i, w := range dist {
		if w == 0 || i == seed {
			continue
		}
		pairs = append(pairs, Pair{ID: ix.ID(i), Index: i, Weight: w})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Weight != pairs[j].Weight {
			return pairs[i].Weight > pairs[j].Weight
		}
		return pairs[i].Index < pairs[j].Index
	})

	if len(pairs) > k {
		pairs = pairs[:k]
	}

	return pairs, nil
}
