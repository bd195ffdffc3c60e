// Package dag provides directed graph operations for model dependencies.
// It supports cycle detection and enumeration, deterministic topological
// sorting, and impact queries used by planning.
package dag

import (
	"container/heap"
	"fmt"
	"sort"

	"github.com/leapstack-labs/leapplan/pkg/core"
)

// Node represents a node in the graph.
type Node struct {
	// ID is the unique identifier (model name, or model.column)
	ID string
	// Data holds arbitrary node data
	Data interface{}
}

type edgeKey struct {
	parent, child string
}

// Graph represents a directed graph. Edges point from a dependency (parent)
// to its dependent (child). Cycles, including self-loops, are representable
// and reported by HasCycle and FindCycles rather than rejected.
type Graph struct {
	nodes    map[string]*Node
	edges    map[string][]string // parent -> children (dependents)
	parents  map[string][]string // child -> parents (dependencies)
	edgeData map[edgeKey]interface{}
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]*Node),
		edges:    make(map[string][]string),
		parents:  make(map[string][]string),
		edgeData: make(map[edgeKey]interface{}),
	}
}

// AddNode adds a node to the graph.
func (g *Graph) AddNode(id string, data interface{}) {
	if _, exists := g.nodes[id]; !exists {
		g.nodes[id] = &Node{ID: id, Data: data}
		g.edges[id] = []string{}
		g.parents[id] = []string{}
	} else {
		g.nodes[id].Data = data
	}
}

// AddEdge adds a directed edge from parent to child (child depends on parent).
func (g *Graph) AddEdge(parentID, childID string) error {
	return g.AddEdgeWithData(parentID, childID, nil)
}

// AddEdgeWithData adds an edge annotated with data. Adding an existing edge
// again keeps the first annotation.
func (g *Graph) AddEdgeWithData(parentID, childID string, data interface{}) error {
	if _, exists := g.nodes[parentID]; !exists {
		return fmt.Errorf("parent node %q does not exist", parentID)
	}
	if _, exists := g.nodes[childID]; !exists {
		return fmt.Errorf("child node %q does not exist", childID)
	}

	if !contains(g.edges[parentID], childID) {
		g.edges[parentID] = append(g.edges[parentID], childID)
		g.edgeData[edgeKey{parentID, childID}] = data
	}
	if !contains(g.parents[childID], parentID) {
		g.parents[childID] = append(g.parents[childID], parentID)
	}

	return nil
}

// EdgeData returns the annotation stored on the edge parent -> child.
func (g *Graph) EdgeData(parentID, childID string) (interface{}, bool) {
	data, ok := g.edgeData[edgeKey{parentID, childID}]
	return data, ok
}

// HasNode reports whether id is a node of the graph.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// GetNode returns a node by ID.
func (g *Graph) GetNode(id string) (*Node, bool) {
	node, exists := g.nodes[id]
	return node, exists
}

// GetParents returns the parents (dependencies) of a node, sorted.
func (g *Graph) GetParents(id string) []string {
	return sortedCopy(g.parents[id])
}

// GetChildren returns the children (dependents) of a node, sorted.
func (g *Graph) GetChildren(id string) []string {
	return sortedCopy(g.edges[id])
}

// InDegree returns the number of distinct parents of a node.
func (g *Graph) InDegree(id string) int {
	return len(g.parents[id])
}

// GetAllNodes returns all nodes in the graph sorted by ID.
func (g *Graph) GetAllNodes() []*Node {
	nodes := make([]*Node, 0, len(g.nodes))
	for _, node := range g.nodes {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].ID < nodes[j].ID
	})
	return nodes
}

// NodeIDs returns all node IDs, sorted.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, children := range g.edges {
		count += len(children)
	}
	return count
}

// HasCycle returns true if the graph contains a cycle, along with one cycle
// path whose first and last element are the same node.
func (g *Graph) HasCycle() (bool, []string) {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := make(map[string]string)

	var cyclePath []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		recStack[id] = true

		for _, childID := range g.GetChildren(id) {
			if !visited[childID] {
				path[childID] = id
				if dfs(childID) {
					return true
				}
			} else if recStack[childID] {
				cyclePath = []string{childID}
				for curr := id; curr != childID; curr = path[curr] {
					cyclePath = append([]string{curr}, cyclePath...)
				}
				cyclePath = append([]string{childID}, cyclePath...)
				return true
			}
		}

		recStack[id] = false
		return false
	}

	for _, id := range g.NodeIDs() {
		if !visited[id] {
			if dfs(id) {
				return true, cyclePath
			}
		}
	}

	return false, nil
}

// TopologicalSort returns nodes in topological order (dependencies before
// dependents). Among nodes that are ready at the same time the
// lexicographically smallest ID goes first, so the order is stable for a
// fixed graph. Returns a *core.CycleError if the graph contains a cycle.
func (g *Graph) TopologicalSort() ([]*Node, error) {
	indegree := make(map[string]int, len(g.nodes))
	ready := &stringHeap{}
	for id := range g.nodes {
		indegree[id] = len(g.parents[id])
		if indegree[id] == 0 {
			heap.Push(ready, id)
		}
	}

	result := make([]*Node, 0, len(g.nodes))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(string)
		result = append(result, g.nodes[id])
		for _, childID := range g.edges[id] {
			indegree[childID]--
			if indegree[childID] == 0 {
				heap.Push(ready, childID)
			}
		}
	}

	if len(result) != len(g.nodes) {
		return nil, &core.CycleError{Cycles: g.FindCycles(MaxCycles)}
	}
	return result, nil
}

// GetExecutionLevels returns nodes grouped by execution level.
// Nodes at level N can be executed in parallel after level N-1 completes.
// Level 0 contains nodes with no dependencies.
func (g *Graph) GetExecutionLevels() ([][]string, error) {
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	assigned := make(map[string]int, len(order))
	maxLevel := -1
	for _, node := range order {
		level := 0
		for _, parentID := range g.parents[node.ID] {
			if l := assigned[parentID] + 1; l > level {
				level = l
			}
		}
		assigned[node.ID] = level
		if level > maxLevel {
			maxLevel = level
		}
	}

	levels := make([][]string, maxLevel+1)
	for i := range levels {
		levels[i] = []string{}
	}
	for id, level := range assigned {
		levels[level] = append(levels[level], id)
	}
	for i := range levels {
		sort.Strings(levels[i])
	}

	return levels, nil
}

// GetAffectedNodes returns all nodes affected by changes to the given nodes.
// This includes the changed nodes and all their downstream dependents.
// Unknown IDs are ignored.
func (g *Graph) GetAffectedNodes(changedIDs []string) []string {
	affected := make(map[string]bool)

	var markAffected func(id string)
	markAffected = func(id string) {
		if affected[id] {
			return
		}
		affected[id] = true
		for _, childID := range g.edges[id] {
			markAffected(childID)
		}
	}

	for _, id := range changedIDs {
		if _, exists := g.nodes[id]; exists {
			markAffected(id)
		}
	}

	return setToSorted(affected)
}

// GetUpstreamNodes returns the transitive dependencies of a node, excluding
// the node itself unless it sits on a cycle.
func (g *Graph) GetUpstreamNodes(id string) []string {
	return g.walk(id, g.parents)
}

// GetDownstreamNodes returns the transitive dependents of a node, excluding
// the node itself unless it sits on a cycle.
func (g *Graph) GetDownstreamNodes(id string) []string {
	return g.walk(id, g.edges)
}

func (g *Graph) walk(id string, adjacency map[string][]string) []string {
	seen := make(map[string]bool)
	stack := append([]string{}, adjacency[id]...)
	for len(stack) > 0 {
		n := len(stack) - 1
		cur := stack[n]
		stack = stack[:n]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		stack = append(stack, adjacency[cur]...)
	}
	return setToSorted(seen)
}

// GetRoots returns nodes with no parents (no dependencies).
func (g *Graph) GetRoots() []string {
	var roots []string
	for id := range g.nodes {
		if len(g.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

// GetLeaves returns nodes with no children (no dependents).
func (g *Graph) GetLeaves() []string {
	var leaves []string
	for id := range g.nodes {
		if len(g.edges[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	sort.Strings(leaves)
	return leaves
}

// Subgraph returns a new graph containing only the specified nodes and the
// edges between them. Edge annotations are carried over.
func (g *Graph) Subgraph(nodeIDs []string) *Graph {
	subgraph := NewGraph()
	nodeSet := make(map[string]bool)

	for _, id := range nodeIDs {
		if node, exists := g.nodes[id]; exists {
			nodeSet[id] = true
			subgraph.AddNode(id, node.Data)
		}
	}

	for _, id := range nodeIDs {
		for _, childID := range g.edges[id] {
			if nodeSet[childID] {
				_ = subgraph.AddEdgeWithData(id, childID, g.edgeData[edgeKey{id, childID}])
			}
		}
	}

	return subgraph
}

// stringHeap is a min-heap of node IDs.
type stringHeap []string

func (h stringHeap) Len() int           { return len(h) }
func (h stringHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h stringHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *stringHeap) Push(x any)        { *h = append(*h, x.(string)) }
func (h *stringHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func setToSorted(set map[string]bool) []string {
	result := make([]string, 0, len(set))
	for id := range set {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

func sortedCopy(ids []string) []string {
	out := append([]string{}, ids...)
	sort.Strings(out)
	return out
}

// contains checks if a slice contains a string.
func contains(slice []string, str string) bool {
	for _, s := range slice {
		if s == str {
			return true
		}
	}
	return false
}
