package assemble

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/structrec/structrec/service/graph"
	"github.com/structrec/structrec/service/persist"
	"github.com/structrec/structrec/service/rwr"
	"github.com/structrec/structrec/service/structctx"
)

func chainPartition() persist.Partition {
	return persist.Partition{
		City: "pittsburgh",
		Entities: []persist.Entity{
			{ID: "A", Kind: persist.EntityKindUser},
			{ID: "B", Kind: persist.EntityKindUser},
			{ID: "C", Kind: persist.EntityKindUser},
			{ID: "D", Kind: persist.EntityKindUser},
			{ID: "E", Kind: persist.EntityKindBusiness},
		},
		Edges: []persist.Edge{
			{Source: 0, Target: 1, Type: persist.EdgeTypeFriendship},
			{Source: 1, Target: 2, Type: persist.EdgeTypeFriendship},
			{Source: 2, Target: 3, Type: persist.EdgeTypeFriendship},
		},
	}
}

func chainAssembler(t *testing.T, cfg Config) (*Assembler, *graph.Index) {
	t.Helper()
	p := chainPartition()
	ix, err := graph.NewIndex(p)
	require.NoError(t, err)
	tr, err := graph.BuildTransition(p, ix, graph.DefaultOptions())
	require.NoError(t, err)
	a, err := New(p.City, tr, ix, cfg)
	require.NoError(t, err)
	return a, ix
}

func defaultConfig() Config {
	return Config{
		RWR:     rwr.Config{Constant: 0.15, Order: 3},
		TopK:    2,
		Workers: 2,
	}
}

func TestBuild(t *testing.T) {
	t.Run("emits one entry per entity in index order", func(t *testing.T) {
		a, ix := chainAssembler(t, defaultConfig())
		table, err := a.Build(context.Background(), nil)
		require.NoError(t, err)
		require.Len(t, table.Entries, ix.Len())
		for i, e := range table.Entries {
			assert.Equal(t, ix.ID(i), e.Entity)
			assert.LessOrEqual(t, len(e.Context), 2)
		}
	})

	t.Run("isolated entity has an empty context", func(t *testing.T) {
		a, _ := chainAssembler(t, defaultConfig())
		table, err := a.Build(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, table.Entries[4].Context)
	})

	t.Run("two runs are byte-identical", func(t *testing.T) {
		a, _ := chainAssembler(t, defaultConfig())
		first, err := a.Build(context.Background(), nil)
		require.NoError(t, err)
		second, err := a.Build(context.Background(), nil)
		require.NoError(t, err)

		fb, err := first.MarshalBinary()
		require.NoError(t, err)
		sb, err := second.MarshalBinary()
		require.NoError(t, err)
		assert.True(t, bytes.Equal(fb, sb))
	})

	t.Run("batched and per-seed walks agree", func(t *testing.T) {
		cfg := defaultConfig()
		a, _ := chainAssembler(t, cfg)
		cfg.Batched = true
		cfg.RWR.BatchSize = 2
		b, _ := chainAssembler(t, cfg)

		at, err := a.Build(context.Background(), nil)
		require.NoError(t, err)
		bt, err := b.Build(context.Background(), nil)
		require.NoError(t, err)

		require.Len(t, bt.Entries, len(at.Entries))
		for i := range at.Entries {
			assert.Equal(t, at.Entries[i].Entity, bt.Entries[i].Entity)
			require.Len(t, bt.Entries[i].Context, len(at.Entries[i].Context))
			for j := range at.Entries[i].Context {
				assert.Equal(t, at.Entries[i].Context[j].ID, bt.Entries[i].Context[j].ID)
				assert.InDelta(t, at.Entries[i].Context[j].Weight, bt.Entries[i].Context[j].Weight, 1e-9)
			}
		}
	})

	t.Run("reuses entries from a previous table", func(t *testing.T) {
		a, _ := chainAssembler(t, defaultConfig())
		prev := &ContextTable{
			City: "pittsburgh",
			Entries: []Entry{
				{Entity: "A", Context: structctx.Context{{ID: "sentinel", Weight: 0.123}}},
			},
		}
		table, err := a.Build(context.Background(), prev)
		require.NoError(t, err)
		require.Len(t, table.Entries, 5)
		assert.Equal(t, persist.EntityID("sentinel"), table.Entries[0].Context[0].ID)
	})

	t.Run("stops between entities when cancelled", func(t *testing.T) {
		a, _ := chainAssembler(t, defaultConfig())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		table, err := a.Build(ctx, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		require.NotNil(t, table)
	})

	t.Run("completed entries survive cancellation", func(t *testing.T) {
		a, ix := chainAssembler(t, defaultConfig())
		prev := &ContextTable{City: "pittsburgh"}
		for i := 0; i < 4; i++ {
			prev.Entries = append(prev.Entries, Entry{
				Entity:  ix.ID(i),
				Context: structctx.Context{{ID: "sentinel", Weight: 0.5}},
			})
		}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		table, err := a.Build(ctx, prev)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)

		// The four finished entities come back in the partial table so a
		// resumed build never recomputes them.
		require.NotNil(t, table)
		require.Len(t, table.Entries, 4)
		for i, e := range table.Entries {
			assert.Equal(t, ix.ID(i), e.Entity)
			assert.Equal(t, persist.EntityID("sentinel"), e.Context[0].ID)
		}
	})
}

func TestNew(t *testing.T) {
	p := chainPartition()
	ix, err := graph.NewIndex(p)
	require.NoError(t, err)
	tr, err := graph.BuildTransition(p, ix, graph.DefaultOptions())
	require.NoError(t, err)

	t.Run("rejects bad top-k", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.TopK = 0
		_, err := New(p.City, tr, ix, cfg)
		var target persist.ErrInvalidTopK
		require.ErrorAs(t, err, &target)
	})

	t.Run("rejects bad walk config", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.RWR.Constant = 1.5
		_, err := New(p.City, tr, ix, cfg)
		var target persist.ErrInvalidRestartConstant
		require.ErrorAs(t, err, &target)
	})
}

func TestCodecRoundTrip(t *testing.T) {
	a, _ := chainAssembler(t, defaultConfig())
	table, err := a.Build(context.Background(), nil)
	require.NoError(t, err)

	b, err := table.MarshalBinary()
	require.NoError(t, err)

	var decoded ContextTable
	require.NoError(t, decoded.UnmarshalBinary(b))

	assert.Equal(t, table.City, decoded.City)
	assert.Equal(t, table.Constant, decoded.Constant)
	assert.Equal(t, table.Order, decoded.Order)
	assert.Equal(t, table.TopK, decoded.TopK)
	require.Len(t, decoded.Entries, len(table.Entries))
	for i := range table.Entries {
		assert.Equal(t, table.Entries[i].Entity, decoded.Entries[i].Entity)
		for j := range table.Entries[i].Context {
			assert.Equal(t, table.Entries[i].Context[j].ID, decoded.Entries[i].Context[j].ID)
			assert.Equal(t, table.Entries[i].Context[j].Weight, decoded.Entries[i].Context[j].Weight)
		}
	}

	reencoded, err := decoded.MarshalBinary()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(b, reencoded))
}
