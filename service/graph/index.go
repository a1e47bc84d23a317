package graph

import (
	"github.com/structrec/structrec/service/persist"
)

// Index is the bidirectional mapping between partition entity indices and
// external ids. It is built once per partition and passed explicitly to every
// component that needs to translate between the two.
type Index struct {
	ids  []persist.EntityID
	byID map[persist.EntityID]int
}

func NewIndex(p persist.Partition) (*Index, error) {
	if len(p.Entities) == 0 {
		return nil, persist.ErrEmptyGraph{City: p.City}
	}

	ix := &Index{
		ids:  make([]persist.EntityID, len(p.Entities)),
		byID: make(map[persist.EntityID]int, len(p.Entities)),
	}

	for i, e := range p.Entities {
		switch e.Kind {
		case persist.EntityKindUser, persist.EntityKindBusiness:
		default:
			return nil, persist.ErrUnknownEntityKind{Kind: e.Kind}
		}
		ix.ids[i] = e.ID
		ix.byID[e.ID] = i
	}

	return ix, nil
}

func (ix *Index) Len() int {
	return len(ix.ids)
}

// ID returns the external id at index i.
func (ix *Index) ID(i int) persist.EntityID {
	return ix.ids[i]
}

// IndexOf returns the index of an external id.
func (ix *Index) IndexOf(id persist.EntityID) (int, bool) {
	i, ok := ix.byID[id]
	return i, ok
}
