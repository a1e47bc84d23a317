package graph

import (
	"sort"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"

	"github.com/structrec/structrec/service/persist"
)

// Options controls how edges are folded into the transition matrix.
type Options struct {
	// InteractionWeight and FriendshipWeight blend the two edge channels
	// additively: a cell's raw weight is the sum of its deduplicated edge
	// weights, each scaled by its channel weight.
	InteractionWeight float64
	FriendshipWeight  float64
	// Directed leaves edges as given; otherwise every edge also contributes
	// its mirror.
	Directed bool
	// Sparse selects CSR backing over dense. Sparse is the right choice for
	// any real partition; dense exists for small graphs and debugging.
	Sparse bool
}

func DefaultOptions() Options {
	return Options{
		InteractionWeight: 1.0,
		FriendshipWeight:  1.0,
		Sparse:            true,
	}
}

// Transition is an immutable row-stochastic matrix over a partition's
// entities. Every row sums to 1.0; a node with no outgoing edges carries an
// absorbing self-loop so the walk recurrence never divides by zero.
type Transition struct {
	n     int
	csr   *sparse.CSR
	dense *mat.Dense
}

func (t *Transition) Dims() (int, int) {
	return t.n, t.n
}

func (t *Transition) At(i, j int) float64 {
	if t.csr != nil {
		return t.csr.At(i, j)
	}
	return t.dense.At(i, j)
}

func (t *Transition) Sparse() bool {
	return t.csr != nil
}

// CSR returns the sparse backing, or nil when the matrix is dense.
func (t *Transition) CSR() *sparse.CSR {
	return t.csr
}

// Dense returns the dense backing, or nil when the matrix is sparse.
func (t *Transition) Dense() *mat.Dense {
	return t.dense
}

// DoRowNonZero calls fn for each non-zero entry of row i.
func (t *Transition) DoRowNonZero(i int, fn func(j int, v float64)) {
	if t.csr != nil {
		t.csr.RowView(i).(*sparse.Vector).DoNonZero(func(j, _ int, v float64) {
			fn(j, v)
		})
		return
	}
	row := t.dense.RawRowView(i)
	for j, v := range row {
		if v != 0 {
			fn(j, v)
		}
	}
}

type cell struct {
	row, col int
}

type cellWeight struct {
	row, col int
	weight   float64
}

type edgeKey struct {
	source, target int
	typ            persist.EdgeType
}

// accumulate folds a partition's edges into raw cell weights, deduplicating
// per (source, target, type) and applying the channel mixing weights. In
// undirected mode the endpoint pair is canonicalized first, so reciprocal
// listings of the same relation collapse into one. Cells are returned sorted
// by (row, col): summation order never depends on map iteration, so repeated
// builds of the same partition are bitwise identical.
func accumulate(p persist.Partition, n int, opts Options) ([]cellWeight, error) {
	weights := make(map[cell]float64, len(p.Edges))
	seen := make(map[edgeKey]bool, len(p.Edges))

	for _, e := range p.Edges {
		if e.Source < 0 || e.Source >= n || e.Target < 0 || e.Target >= n || e.Weight < 0 {
			return nil, persist.ErrMalformedGraph{City: p.City, Edge: e}
		}

		var mix float64
		switch e.Type {
		case persist.EdgeTypeInteraction:
			mix = opts.InteractionWeight
		case persist.EdgeTypeFriendship:
			mix = opts.FriendshipWeight
		default:
			return nil, persist.ErrUnknownEdgeType{Type: e.Type}
		}

		key := edgeKey{e.Source, e.Target, e.Type}
		if !opts.Directed && key.source > key.target {
			key.source, key.target = key.target, key.source
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		w := e.Weight
		if w == 0 {
			w = 1.0
		}
		w *= mix
		if w == 0 {
			continue
		}

		weights[cell{e.Source, e.Target}] += w
		if !opts.Directed && e.Source != e.Target {
			weights[cell{e.Target, e.Source}] += w
		}
	}

	cells := make([]cellWeight, 0, len(weights))
	for c, w := range weights {
		cells = append(cells, cellWeight{row: c.row, col: c.col, weight: w})
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].row != cells[j].row {
			return cells[i].row < cells[j].row
		}
		return cells[i].col < cells[j].col
	})

	return cells, nil
}

// BuildTransition compacts a partition's edges into a row-normalized
// transition matrix. The sorted triples from accumulate are assembled in
// row-major order, through COO for the sparse backing, so the compressed
// layout and every normalized value are reproducible run to run.
func BuildTransition(p persist.Partition, ix *Index, opts Options) (*Transition, error) {
	n := ix.Len()

	cells, err := accumulate(p, n, opts)
	if err != nil {
		return nil, err
	}

	rowSum := make([]float64, n)
	for _, c := range cells {
		rowSum[c.row] += c.weight
	}

	rows := make([]int, 0, len(cells)+n)
	cols := make([]int, 0, len(cells)+n)
	data := make([]float64, 0, len(cells)+n)

	idx := 0
	for i := 0; i < n; i++ {
		if rowSum[i] == 0 {
			// Absorbing self-loop for nodes with no outgoing mass.
			rows = append(rows, i)
			cols = append(cols, i)
			data = append(data, 1.0)
			continue
		}
		for idx < len(cells) && cells[idx].row == i {
			rows = append(rows, i)
			cols = append(cols, cells[idx].col)
			data = append(data, cells[idx].weight/rowSum[i])
			idx++
		}
	}

	if opts.Sparse {
		return &Transition{n: n, csr: sparse.NewCOO(n, n, rows, cols, data).ToCSR()}, nil
	}

	dense := mat.NewDense(n, n, nil)
	for i := range rows {
		dense.Set(rows[i], cols[i], data[i])
	}
	return &Transition{n: n, dense: dense}, nil
}
