package structctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/structrec/structrec/service/graph"
	"github.com/structrec/structrec/service/persist"
)

func testIndex(t *testing.T, n int) *graph.Index {
	t.Helper()
	entities := make([]persist.Entity, n)
	for i := range entities {
		entities[i] = persist.Entity{ID: persist.EntityID(string(rune('A' + i))), Kind: persist.EntityKindUser}
	}
	ix, err := graph.NewIndex(persist.Partition{City: "test", Entities: entities})
	require.NoError(t, err)
	return ix
}

func TestTopK(t *testing.T) {
	ix := testIndex(t, 6)

	t.Run("keeps the k highest weights in order", func(t *testing.T) {
		dist := []float64{0.4, 0.1, 0.2, 0.05, 0.15, 0.1}
		c, err := TopK(dist, 0, 2, ix)
		require.NoError(t, err)
		require.Len(t, c, 2)
		assert.Equal(t, persist.EntityID("C"), c[0].ID)
		assert.Equal(t, 0.2, c[0].Weight)
		assert.Equal(t, persist.EntityID("E"), c[1].ID)
		assert.Equal(t, 0.15, c[1].Weight)
	})

	t.Run("excludes the seed", func(t *testing.T) {
		dist := []float64{0.9, 0.1, 0, 0, 0, 0}
		c, err := TopK(dist, 0, 5, ix)
		require.NoError(t, err)
		require.Len(t, c, 1)
		assert.Equal(t, persist.EntityID("B"), c[0].ID)
	})

	t.Run("breaks ties by lower entity index", func(t *testing.T) {
		dist := []float64{0.4, 0.2, 0.2, 0.2, 0, 0}
		c, err := TopK(dist, 0, 2, ix)
		require.NoError(t, err)
		require.Len(t, c, 2)
		assert.Equal(t, persist.EntityID("B"), c[0].ID)
		assert.Equal(t, persist.EntityID("C"), c[1].ID)
	})

	t.Run("returns fewer than k without padding", func(t *testing.T) {
		dist := []float64{0.5, 0.25, 0.25, 0, 0, 0}
		c, err := TopK(dist, 0, 10, ix)
		require.NoError(t, err)
		assert.Len(t, c, 2)
	})

	t.Run("isolated seed yields empty context", func(t *testing.T) {
		dist := []float64{1, 0, 0, 0, 0, 0}
		c, err := TopK(dist, 0, 3, ix)
		require.NoError(t, err)
		assert.Empty(t, c)
	})

	t.Run("rejects non-positive k", func(t *testing.T) {
		_, err := TopK([]float64{1, 0, 0, 0, 0, 0}, 0, 0, ix)
		var target persist.ErrInvalidTopK
		require.ErrorAs(t, err, &target)
		assert.Equal(t, 0, target.TopK)
	})

	t.Run("weights are not renormalized within the subset", func(t *testing.T) {
		dist := []float64{0.4, 0.3, 0.2, 0.1, 0, 0}
		c, err := TopK(dist, 0, 2, ix)
		require.NoError(t, err)
		assert.Equal(t, 0.3, c[0].Weight)
		assert.Equal(t, 0.2, c[1].Weight)
	})
}
