package assemble

import (
	"context"
	"runtime"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"

	"github.com/structrec/structrec/service/graph"
	"github.com/structrec/structrec/service/logger"
	"github.com/structrec/structrec/service/persist"
	"github.com/structrec/structrec/service/rwr"
	"github.com/structrec/structrec/service/structctx"
	"github.com/structrec/structrec/util"
)

// seedsPerTask sizes the per-worker unit of work when walks run one seed at
// a time.
const seedsPerTask = 64

type Config struct {
	RWR  rwr.Config
	TopK int
	// Workers caps concurrent walk goroutines. Zero means GOMAXPROCS.
	Workers int
	// Batched routes seeds through the engine's matrix-matrix path instead
	// of one walk per seed.
	Batched bool
}

type Entry struct {
	Entity  persist.EntityID
	Context structctx.Context
}

// ContextTable is the per-partition output artifact: one entry per entity,
// ascending by entity index, tagged with the walk parameters that produced
// it.
type ContextTable struct {
	City     string
	Constant float64
	Order    int
	TopK     int
	Entries  []Entry
}

// Assembler orchestrates context construction for one partition. Workers
// share only the engine's immutable transition matrix.
type Assembler struct {
	city string
	ix   *graph.Index
	eng  *rwr.Engine
	cfg  Config
}

func New(city string, t *graph.Transition, ix *graph.Index, cfg Config) (*Assembler, error) {
	if cfg.TopK < 1 {
		return nil, persist.ErrInvalidTopK{TopK: cfg.TopK}
	}
	eng, err := rwr.New(t, ix, cfg.RWR)
	if err != nil {
		return nil, errors.Wrapf(err, "partition %s", city)
	}
	if cfg.Workers < 1 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return &Assembler{city: city, ix: ix, eng: eng, cfg: cfg}, nil
}

// Build walks every entity in the partition and extracts its context.
// Entities already present in prev are reused rather than recomputed, which
// makes an interrupted build resumable. Cancellation is cooperative: workers
// stop between entities, and Build returns the partial table of completed
// entries alongside the error so callers can persist it and resume later.
func (a *Assembler) Build(ctx context.Context, prev *ContextTable) (*ContextTable, error) {
	n := a.ix.Len()
	now := time.Now()

	done := map[persist.EntityID]structctx.Context{}
	if prev != nil {
		for _, e := range prev.Entries {
			done[e.Entity] = e.Context
		}
	}

	entries := make([]Entry, 0, n)
	todo := make([]int, 0, n)
	reused := 0
	for i := 0; i < n; i++ {
		if c, ok := done[a.ix.ID(i)]; ok {
			entries = append(entries, Entry{Entity: a.ix.ID(i), Context: c})
			reused++
			continue
		}
		todo = append(todo, i)
	}

	p := pool.NewWithResults[[]Entry]().WithContext(ctx).WithMaxGoroutines(a.cfg.Workers).WithCancelOnError()
	for _, seeds := range util.Chunk(todo, a.chunkSize()) {
		seeds := seeds
		p.Go(func(ctx context.Context) ([]Entry, error) {
			return a.buildChunk(ctx, seeds)
		})
	}

	// Chunks that completed before a failure still return results; fold them
	// in so the table carries every finished entity even on error.
	results, err := p.Wait()
	for _, r := range results {
		entries = append(entries, r...)
	}

	// Workers finish out of order; re-sort by entity index so output is
	// deterministic.
	sort.Slice(entries, func(i, j int) bool {
		ii, _ := a.ix.IndexOf(entries[i].Entity)
		jj, _ := a.ix.IndexOf(entries[j].Entity)
		return ii < jj
	})

	table := &ContextTable{
		City:     a.city,
		Constant: a.cfg.RWR.Constant,
		Order:    a.cfg.RWR.Order,
		TopK:     a.cfg.TopK,
		Entries:  entries,
	}

	if err != nil {
		return table, errors.Wrapf(err, "partition %s", a.city)
	}

	logger.For(ctx).Infof("assembled %d contexts for %s in %s (%d reused)", len(todo), a.city, time.Since(now), reused)

	return table, nil
}

func (a *Assembler) buildChunk(ctx context.Context, seeds []int) ([]Entry, error) {
	entries := make([]Entry, 0, len(seeds))

	if a.cfg.Batched {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dists, err := a.eng.FromBatch(seeds)
		if err != nil {
			return nil, err
		}
		for i, seed := range seeds {
			c, err := structctx.TopK(dists[i], seed, a.cfg.TopK, a.ix)
			if err != nil {
				return nil, err
			}
			entries = append(entries, Entry{Entity: a.ix.ID(seed), Context: c})
		}
		return entries, nil
	}

	for _, seed := range seeds {
		// Stop before starting the next entity's walk, never mid-walk.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dist, err := a.eng.From(seed)
		if err != nil {
			return nil, err
		}
		c, err := structctx.TopK(dist, seed, a.cfg.TopK, a.ix)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Entity: a.ix.ID(seed), Context: c})
	}

	return entries, nil
}

func (a *Assembler) chunkSize() int {
	if a.cfg.Batched && a.cfg.RWR.BatchSize > 0 {
		return a.cfg.RWR.BatchSize
	}
	return seedsPerTask
}
