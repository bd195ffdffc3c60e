package dag

// MaxCycles bounds how many simple cycles FindCycles enumerates. Densely
// connected graphs have exponentially many cycles.
const MaxCycles = 100

// FindCycles enumerates simple cycles, at most limit of them (limit <= 0
// means MaxCycles). Each cycle is reported once, starting at its
// lexicographically smallest member, without repeating the first node at the
// end. A self-loop is reported as a single-node cycle. The result order is
// deterministic.
//
// The search follows Johnson's algorithm: only nodes on a strongly connected
// component with a cycle are used as start nodes, the walk never leaves the
// component of its start node, and dead ends are blocked until a cycle
// through them is found. An acyclic graph costs a single linear pass.
func (g *Graph) FindCycles(limit int) [][]string {
	if limit <= 0 {
		limit = MaxCycles
	}
	if has, _ := g.HasCycle(); !has {
		return nil
	}

	var cycles [][]string
	for _, start := range g.NodeIDs() {
		if len(cycles) >= limit {
			break
		}
		// The component of start among nodes not smaller than start: every
		// cycle whose smallest member is start lies inside it.
		comp := g.componentOf(start, func(id string) bool { return id >= start })
		if len(comp) == 1 && !contains(g.edges[start], start) {
			continue
		}
		j := &johnson{g: g, start: start, comp: comp, limit: limit, cycles: cycles,
			blocked: make(map[string]bool), blockedBy: make(map[string]map[string]bool)}
		j.circuit(start)
		cycles = j.cycles
	}

	return cycles
}

type johnson struct {
	g         *Graph
	start     string
	comp      map[string]bool
	limit     int
	path      []string
	blocked   map[string]bool
	blockedBy map[string]map[string]bool
	cycles    [][]string
}

// circuit reports whether a cycle back to start was found through id.
func (j *johnson) circuit(id string) bool {
	found := false
	j.path = append(j.path, id)
	j.blocked[id] = true

	children := j.g.GetChildren(id)
	for _, child := range children {
		if len(j.cycles) >= j.limit {
			break
		}
		if !j.comp[child] {
			continue
		}
		if child == j.start {
			j.cycles = append(j.cycles, append([]string{}, j.path...))
			found = true
			continue
		}
		if !j.blocked[child] && j.circuit(child) {
			found = true
		}
	}

	if found {
		j.unblock(id)
	} else {
		for _, child := range children {
			if !j.comp[child] {
				continue
			}
			if j.blockedBy[child] == nil {
				j.blockedBy[child] = make(map[string]bool)
			}
			j.blockedBy[child][id] = true
		}
	}

	j.path = j.path[:len(j.path)-1]
	return found
}

func (j *johnson) unblock(id string) {
	j.blocked[id] = false
	waiting := j.blockedBy[id]
	delete(j.blockedBy, id)
	for w := range waiting {
		if j.blocked[w] {
			j.unblock(w)
		}
	}
}

// componentOf returns the strongly connected component containing id in the
// subgraph induced by the nodes that satisfy keep. It intersects the nodes
// reachable from id with the nodes that reach id.
func (g *Graph) componentOf(id string, keep func(string) bool) map[string]bool {
	forward := g.reach(id, g.edges, keep)
	backward := g.reach(id, g.parents, keep)
	comp := make(map[string]bool)
	for n := range forward {
		if backward[n] {
			comp[n] = true
		}
	}
	return comp
}

func (g *Graph) reach(id string, adjacency map[string][]string, keep func(string) bool) map[string]bool {
	seen := map[string]bool{id: true}
	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range adjacency[cur] {
			if !seen[next] && keep(next) {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return seen
}

// CycleMembers returns the sorted set of nodes that take part in any cycle
// found by FindCycles.
func CycleMembers(cycles [][]string) []string {
	set := make(map[string]bool)
	for _, c := range cycles {
		for _, id := range c {
			set[id] = true
		}
	}
	return setToSorted(set)
}
