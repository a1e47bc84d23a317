package rwr

import (
	"sync"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"

	"github.com/structrec/structrec/service/graph"
	"github.com/structrec/structrec/service/persist"
)

// renormTolerance is the minimum mass a truncated distribution may carry
// before renormalization is considered to have failed.
const renormTolerance = 1e-9

const defaultBatchSize = 128

// Config holds the walk's tunables. Constant is the restart probability c;
// Order is the hop count r at which the power iteration is truncated. Higher
// orders grow the reachable support at higher compute cost.
type Config struct {
	Constant  float64
	Order     int
	BatchSize int
}

func DefaultConfig() Config {
	return Config{Constant: 0.05, Order: 3, BatchSize: defaultBatchSize}
}

func (c Config) Validate() error {
	if c.Constant <= 0 || c.Constant >= 1 {
		return persist.ErrInvalidRestartConstant{Constant: c.Constant}
	}
	if c.Order < 1 {
		return persist.ErrInvalidOrder{Order: c.Order}
	}
	return nil
}

// Engine computes truncated random-walk-with-restart distributions over a
// shared immutable transition matrix. It is safe for concurrent use.
type Engine struct {
	t   *graph.Transition
	ix  *graph.Index
	cfg Config

	transposeOnce sync.Once
	transposed    *sparse.CSR
}

func New(t *graph.Transition, ix *graph.Index, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Engine{t: t, ix: ix, cfg: cfg}, nil
}

// From runs the walk from a single seed: v_i = (1-c)*Mᵀ*v_{i-1} + c*v0 for
// Order hops. The reported distribution is the renormalized sum of all
// iterates v_0..v_r rather than the final iterate alone, so proximity stays
// monotone in hop distance and doesn't oscillate with hop parity on
// near-bipartite neighborhoods. The returned slice is dense over all
// entities in the partition.
func (e *Engine) From(seed int) ([]float64, error) {
	n, _ := e.t.Dims()
	keep := 1 - e.cfg.Constant

	v := make([]float64, n)
	v[seed] = 1.0

	acc := make([]float64, n)
	acc[seed] = 1.0

	for hop := 0; hop < e.cfg.Order; hop++ {
		next := make([]float64, n)
		for i, p := range v {
			if p == 0 {
				continue
			}
			contrib := keep * p
			e.t.DoRowNonZero(i, func(j int, w float64) {
				next[j] += contrib * w
			})
		}
		next[seed] += e.cfg.Constant
		v = next
		for i, p := range v {
			acc[i] += p
		}
	}

	return e.finish(seed, acc)
}

// FromBatch computes distributions for many seeds at once. Seeds are packed
// as columns of a dense n x b matrix and advanced with one matrix-matrix
// multiply per hop, amortizing the traversal of the transition matrix across
// the whole batch.
func (e *Engine) FromBatch(seeds []int) ([][]float64, error) {
	out := make([][]float64, 0, len(seeds))

	for start := 0; start < len(seeds); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(seeds))
		dists, err := e.fromChunk(seeds[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, dists...)
	}

	return out, nil
}

func (e *Engine) fromChunk(seeds []int) ([][]float64, error) {
	n, _ := e.t.Dims()
	b := len(seeds)
	keep := 1 - e.cfg.Constant

	v := mat.NewDense(n, b, nil)
	for col, seed := range seeds {
		v.Set(seed, col, 1.0)
	}
	acc := mat.DenseCopyOf(v)

	for hop := 0; hop < e.cfg.Order; hop++ {
		next := mat.NewDense(n, b, nil)
		if e.t.Sparse() {
			prod := &sparse.CSR{}
			prod.Mul(e.transpose(), v)
			prod.DoNonZero(func(i, j int, val float64) {
				next.Set(i, j, keep*val)
			})
		} else {
			next.Mul(e.t.Dense().T(), v)
			next.Scale(keep, next)
		}
		for col, seed := range seeds {
			next.Set(seed, col, next.At(seed, col)+e.cfg.Constant)
		}
		v = next
		acc.Add(acc, v)
	}

	out := make([][]float64, b)
	for col, seed := range seeds {
		dist, err := e.finish(seed, mat.Col(nil, col, acc))
		if err != nil {
			return nil, err
		}
		out[col] = dist
	}

	return out, nil
}

// finish clamps floating error below zero and renormalizes the distribution
// to unit mass, correcting for anything lost to truncation.
func (e *Engine) finish(seed int, v []float64) ([]float64, error) {
	var sum float64
	for i, p := range v {
		if p < 0 {
			v[i] = 0
			continue
		}
		sum += p
	}

	if sum <= renormTolerance {
		return nil, persist.ErrNumericInstability{Entity: e.ix.ID(seed)}
	}

	for i := range v {
		v[i] /= sum
	}

	return v, nil
}

func (e *Engine) transpose() *sparse.CSR {
	e.transposeOnce.Do(func() {
		e.transposed = e.t.CSR().T().(*sparse.CSC).ToCSR()
	})
	return e.transposed
}
