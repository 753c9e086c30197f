package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWouldCreateCycle(t *testing.T) {
	// a -> b -> c
	edges := map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {},
	}

	assert.True(t, wouldCreateCycle(edges, "a", "a"), "self edge")
	assert.True(t, wouldCreateCycle(edges, "c", "a"), "closing the chain")
	assert.True(t, wouldCreateCycle(edges, "b", "a"), "back edge")
	assert.False(t, wouldCreateCycle(edges, "a", "c"), "shortcut along existing direction")
	assert.False(t, wouldCreateCycle(edges, "c", "d"), "edge to a new node")
}

func TestWouldCreateCycleDiamond(t *testing.T) {
	// a -> b, a -> c, b -> d, c -> d: a diamond is not a cycle.
	edges := map[string][]string{
		"a": {"b", "c"},
		"b": {"d"},
		"c": {"d"},
		"d": {},
	}
	assert.False(t, wouldCreateCycle(edges, "b", "c"))
	assert.True(t, wouldCreateCycle(edges, "d", "a"))
}

func TestFindCycle(t *testing.T) {
	dag := map[string][]string{
		"a": {"b", "c"},
		"b": {"c"},
		"c": {},
	}
	assert.Nil(t, findCycle(dag))

	cyclic := map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
	}
	cycle := findCycle(cyclic)
	assert.NotNil(t, cycle)
	assert.GreaterOrEqual(t, len(cycle), 2)

	selfLoop := map[string][]string{
		"a": {"a"},
	}
	assert.NotNil(t, findCycle(selfLoop))
}
