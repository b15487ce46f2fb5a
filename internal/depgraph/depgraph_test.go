package depgraph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiviktnm/aurforge/internal/aerr"
	"github.com/kiviktnm/aurforge/internal/depgraph"
)

func strPtr(s string) *string { return &s }

func TestAddRequirementDetectsCycle(t *testing.T) {
	t.Parallel()

	g := depgraph.New()

	require.NoError(t, g.AddRequirement("a", nil))
	require.NoError(t, g.AddRequirement("b", strPtr("a")))
	require.NoError(t, g.AddRequirement("c", strPtr("b")))

	err := g.AddRequirement("a", strPtr("c"))
	require.Error(t, err)
	assert.True(t, aerr.Is(err, aerr.KindCycle))
}

func TestDrainOuterYieldsLeavesFirst(t *testing.T) {
	t.Parallel()

	g := depgraph.New()

	// a depends on b1 and b2; b1 and b2 each depend on c1; c1 depends on d;
	// v is an unrelated root with no dependencies.
	require.NoError(t, g.AddRequirement("a", nil))
	require.NoError(t, g.AddRequirement("v", nil))
	require.NoError(t, g.AddRequirement("b1", strPtr("a")))
	require.NoError(t, g.AddRequirement("b2", strPtr("a")))
	require.NoError(t, g.AddRequirement("c1", strPtr("b1")))
	require.NoError(t, g.AddRequirement("c1", strPtr("b2")))
	require.NoError(t, g.AddRequirement("d", strPtr("c1")))

	var order [][]string

	for {
		batch := g.DrainOuter()
		if len(batch) == 0 {
			break
		}

		names := make([]string, len(batch))
		for i, pkg := range batch {
			names[i] = pkg.Name
		}

		order = append(order, names)
	}

	require.Len(t, order, 4)
	assert.ElementsMatch(t, []string{"d", "v"}, order[0])
	assert.Equal(t, []string{"c1"}, order[1])
	assert.ElementsMatch(t, []string{"b1", "b2"}, order[2])
	assert.Equal(t, []string{"a"}, order[3])
}

func TestDrainOuterPropagatesTransitiveForeignDeps(t *testing.T) {
	t.Parallel()

	g := depgraph.New()

	require.NoError(t, g.AddRequirement("a", nil))
	require.NoError(t, g.AddRequirement("b", strPtr("a")))
	require.NoError(t, g.AddRequirement("c", strPtr("b")))

	g.DrainOuter() // removes c
	g.DrainOuter() // removes b, propagating c (and b itself) into a

	final := g.DrainOuter() // removes a
	require.Len(t, final, 1)

	deps := final[0].AllRecursiveForeignDepPkgs()
	assert.Contains(t, deps, "b")
	assert.Contains(t, deps, "c")
}

func TestDrainOuterOnEmptyGraphReturnsNothing(t *testing.T) {
	t.Parallel()

	g := depgraph.New()
	assert.Empty(t, g.DrainOuter())
}

func TestAddRequirementIsIdempotentForRepeatedChild(t *testing.T) {
	t.Parallel()

	g := depgraph.New()

	require.NoError(t, g.AddRequirement("a", nil))
	require.NoError(t, g.AddRequirement("b", strPtr("a")))
	require.NoError(t, g.AddRequirement("b", strPtr("a")))

	batch := g.DrainOuter()
	require.Len(t, batch, 1)
	assert.Equal(t, "b", batch[0].Name)
}
