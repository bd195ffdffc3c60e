package dag

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapplan/pkg/core"
)

// build returns a graph with the given nodes and parent->child edges.
func build(t *testing.T, nodes []string, edges ...[2]string) *Graph {
	t.Helper()
	g := NewGraph()
	for _, id := range nodes {
		g.AddNode(id, nil)
	}
	for _, e := range edges {
		require.NoError(t, g.AddEdge(e[0], e[1]))
	}
	return g
}

func ids(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

var (
	chain   = []string{"a", "b", "c"}
	diamond = [][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}}
)

func TestGraph_Edges(t *testing.T) {
	g := build(t, chain, [2]string{"a", "b"}, [2]string{"a", "c"}, [2]string{"b", "c"})

	assert.Equal(t, 3, g.NodeCount())
	assert.Equal(t, 3, g.EdgeCount())
	assert.Equal(t, []string{"a", "b"}, g.GetParents("c"))
	assert.Equal(t, []string{"b", "c"}, g.GetChildren("a"))
	assert.Equal(t, 2, g.InDegree("c"))

	require.NoError(t, g.AddEdge("a", "b"))
	assert.Equal(t, 3, g.EdgeCount(), "duplicate edges are ignored")

	assert.Error(t, g.AddEdge("a", "nonexistent"))
	assert.Error(t, g.AddEdge("nonexistent", "a"))
}

func TestGraph_EdgeData(t *testing.T) {
	g := build(t, []string{"a", "b"})
	require.NoError(t, g.AddEdgeWithData("a", "b", "direct"))
	require.NoError(t, g.AddEdgeWithData("a", "b", "implicit"))

	data, ok := g.EdgeData("a", "b")
	require.True(t, ok)
	assert.Equal(t, "direct", data, "first annotation wins")

	data, _ = g.Subgraph([]string{"a", "b"}).EdgeData("a", "b")
	assert.Equal(t, "direct", data)

	_, ok = g.EdgeData("b", "a")
	assert.False(t, ok)
}

func TestGraph_HasCycle(t *testing.T) {
	tests := []struct {
		name     string
		nodes    []string
		edges    [][2]string
		want     bool
		wantPath []string
	}{
		{name: "chain", nodes: chain, edges: [][2]string{{"a", "b"}, {"b", "c"}}},
		{name: "diamond", nodes: []string{"a", "b", "c", "d"}, edges: diamond},
		{name: "self loop", nodes: []string{"a"}, edges: [][2]string{{"a", "a"}}, want: true, wantPath: []string{"a", "a"}},
		{name: "triangle", nodes: chain, edges: [][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := build(t, tt.nodes, tt.edges...)
			got, path := g.HasCycle()
			assert.Equal(t, tt.want, got)
			if !tt.want {
				assert.Empty(t, path)
				return
			}
			require.NotEmpty(t, path)
			assert.Equal(t, path[0], path[len(path)-1], "cycle path is closed")
			if tt.wantPath != nil {
				assert.Equal(t, tt.wantPath, path)
			}
		})
	}
}

func TestGraph_TopologicalSort(t *testing.T) {
	tests := []struct {
		name  string
		nodes []string
		edges [][2]string
		want  []string
	}{
		{"chain", chain, [][2]string{{"a", "b"}, {"b", "c"}}, []string{"a", "b", "c"}},
		{"diamond", []string{"d", "c", "b", "a"}, diamond, []string{"a", "b", "c", "d"}},
		{"disconnected", []string{"c", "d", "a", "b"}, [][2]string{{"a", "b"}, {"c", "d"}}, []string{"a", "b", "c", "d"}},
		{"lexicographic ties", []string{"zeta", "alpha", "mid", "beta"}, [][2]string{{"zeta", "alpha"}}, []string{"beta", "mid", "zeta", "alpha"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := build(t, tt.nodes, tt.edges...)
			for range 3 {
				sorted, err := g.TopologicalSort()
				require.NoError(t, err)
				assert.Equal(t, tt.want, ids(sorted))
			}
		})
	}
}

func TestGraph_TopologicalSort_Cycle(t *testing.T) {
	g := build(t, []string{"a", "b"}, [2]string{"a", "b"}, [2]string{"b", "a"})

	_, err := g.TopologicalSort()
	var cycleErr *core.CycleError
	require.True(t, errors.As(err, &cycleErr), "got %T", err)
	assert.Equal(t, [][]string{{"a", "b"}}, cycleErr.Cycles)

	_, err = g.GetExecutionLevels()
	assert.True(t, errors.As(err, &cycleErr))
}

func TestGraph_GetExecutionLevels(t *testing.T) {
	g := build(t, []string{"raw1", "raw2", "staging1", "staging2", "mart"},
		[2]string{"raw1", "staging1"},
		[2]string{"raw2", "staging2"},
		[2]string{"staging1", "mart"},
		[2]string{"staging2", "mart"},
		[2]string{"raw1", "mart"},
	)

	levels, err := g.GetExecutionLevels()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"raw1", "raw2"},
		{"staging1", "staging2"},
		{"mart"},
	}, levels)
}

func TestGraph_Traversals(t *testing.T) {
	g := build(t, []string{"a", "b", "c", "d", "e"},
		[2]string{"a", "c"}, [2]string{"b", "c"}, [2]string{"c", "d"})

	tests := []struct {
		name string
		got  []string
		want []string
	}{
		{"upstream of d", g.GetUpstreamNodes("d"), []string{"a", "b", "c"}},
		{"downstream of a", g.GetDownstreamNodes("a"), []string{"c", "d"}},
		{"affected by a", g.GetAffectedNodes([]string{"a"}), []string{"a", "c", "d"}},
		{"affected ignores unknown", g.GetAffectedNodes([]string{"ghost", "e"}), []string{"e"}},
		{"roots", g.GetRoots(), []string{"a", "b", "e"}},
		{"leaves", g.GetLeaves(), []string{"d", "e"}},
		{"upstream of unknown", g.GetUpstreamNodes("missing"), []string{}},
		{"downstream of unknown", g.GetDownstreamNodes("missing"), []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ElementsMatch(t, tt.want, tt.got)
		})
	}
}

func TestGraph_Subgraph(t *testing.T) {
	g := build(t, []string{"a", "b", "c", "d"},
		[2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"c", "d"})

	sub := g.Subgraph([]string{"b", "c", "ghost"})
	assert.Equal(t, 2, sub.NodeCount())
	assert.Equal(t, 1, sub.EdgeCount())
	assert.Equal(t, []string{"c"}, sub.GetChildren("b"))
	assert.Empty(t, sub.GetParents("b"))
}

func TestGraph_FindCycles(t *testing.T) {
	g := build(t, []string{"a", "b", "c", "d", "e"},
		[2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"c", "a"},
		[2]string{"c", "d"}, [2]string{"d", "c"}, [2]string{"d", "e"})

	cycles := g.FindCycles(0)
	assert.Equal(t, [][]string{{"a", "b", "c"}, {"c", "d"}}, cycles)
	assert.Equal(t, []string{"a", "b", "c", "d"}, CycleMembers(cycles))
	assert.Len(t, g.FindCycles(1), 1)

	self := build(t, []string{"a"}, [2]string{"a", "a"})
	assert.Equal(t, [][]string{{"a"}}, self.FindCycles(0))
}

// ladder returns n nodes with edges i->i+1 and i->i+2, which has
// exponentially many paths but no cycle.
func ladder(t *testing.T, n int) *Graph {
	t.Helper()
	g := NewGraph()
	name := func(i int) string { return fmt.Sprintf("m%03d", i) }
	for i := 0; i < n; i++ {
		g.AddNode(name(i), nil)
	}
	for i := 0; i < n; i++ {
		for _, j := range []int{i + 1, i + 2} {
			if j < n {
				require.NoError(t, g.AddEdge(name(i), name(j)))
			}
		}
	}
	return g
}

func TestGraph_FindCycles_ScalesOnLayeredGraphs(t *testing.T) {
	g := ladder(t, 200)

	began := time.Now()
	assert.Empty(t, g.FindCycles(MaxCycles))
	order, err := g.TopologicalSort()
	require.NoError(t, err)
	assert.Len(t, order, 200)
	assert.Less(t, time.Since(began), 2*time.Second)

	// Closing the ladder makes every path from m000 to m199 a cycle; the
	// enumeration stops at the limit.
	require.NoError(t, g.AddEdge("m199", "m000"))
	began = time.Now()
	cycles := g.FindCycles(MaxCycles)
	assert.Len(t, cycles, MaxCycles)
	for _, c := range cycles {
		assert.Equal(t, "m000", c[0])
	}
	_, err = g.TopologicalSort()
	var cycleErr *core.CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.Len(t, cycleErr.Cycles, MaxCycles)
	assert.Less(t, time.Since(began), 2*time.Second)
}

func TestGraph_FindCycles_IgnoresAcyclicTails(t *testing.T) {
	g := ladder(t, 120)
	g.AddNode("x", nil)
	g.AddNode("y", nil)
	require.NoError(t, g.AddEdge("x", "y"))
	require.NoError(t, g.AddEdge("y", "x"))
	require.NoError(t, g.AddEdge("y", "m000"))

	began := time.Now()
	assert.Equal(t, [][]string{{"x", "y"}}, g.FindCycles(0))
	assert.Less(t, time.Since(began), 2*time.Second)
}
