package schedule

// dependencyGraph maps a system to the systems it depends on.
type dependencyGraph map[SystemUID][]SystemUID

// findCycle returns one dependency cycle in graph, as a path whose first
// and last elements are equal, or nil if the graph is acyclic.
//
// nodes fixes the visiting order so the reported cycle is deterministic.
//
// The algorithm:
//  1. Use Tarjan's algorithm to find strongly connected components
//  2. The first SCC with size > 1, or a single node with a self-loop, is a cycle
//  3. Reconstruct a path through that SCC
func findCycle(nodes []SystemUID, graph dependencyGraph) []SystemUID {
	for _, scc := range tarjanSCC(nodes, graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			return reconstructCyclePath(scc, graph)
		}
	}
	return nil
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node SystemUID, graph dependencyGraph) bool {
	for _, neighbor := range graph[node] {
		if neighbor == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Single-node SCCs without self-loops are NOT cycles.
func tarjanSCC(nodes []SystemUID, graph dependencyGraph) [][]SystemUID {
	var (
		index   = 0
		stack   []SystemUID
		indices = make(map[SystemUID]int)
		lowlink = make(map[SystemUID]int)
		onStack = make(map[SystemUID]bool)
		sccs    [][]SystemUID
	)

	var strongConnect func(SystemUID)
	strongConnect = func(v SystemUID) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root node: pop the stack and emit an SCC
		if lowlink[v] == indices[v] {
			var scc []SystemUID
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// reconstructCyclePath follows edges inside scc from its first member until
// it returns to it.
func reconstructCyclePath(scc []SystemUID, graph dependencyGraph) []SystemUID {
	if len(scc) == 0 {
		return nil
	}

	sccSet := make(map[SystemUID]bool, len(scc))
	for _, node := range scc {
		sccSet[node] = true
	}

	start := scc[0]
	current := start
	path := []SystemUID{current}
	visited := make(map[SystemUID]bool)

	for {
		visited[current] = true

		var next SystemUID
		found := false
		for _, neighbor := range graph[current] {
			if sccSet[neighbor] && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				found = true
				break
			}
		}
		if !found {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return path
}
