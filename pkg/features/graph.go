package features

import "sort"

// dependencyEdges builds the adjacency list of the flag dependency graph
func dependencyEdges(flags []*Flag) map[string][]string {
	edges := make(map[string][]string, len(flags))
	for _, f := range flags {
		deps := make([]string, 0, len(f.Dependencies))
		for _, d := range f.Dependencies {
			deps = append(deps, d.Feature)
		}
		edges[f.Key] = deps
	}
	return edges
}

// wouldCreateCycle reports whether adding the edge from -> to makes the graph
// cyclic, i.e. whether from is already reachable from to.
func wouldCreateCycle(edges map[string][]string, from, to string) bool {
	if from == to {
		return true
	}
	visited := make(map[string]bool)

	var reach func(key string) bool
	reach = func(key string) bool {
		if key == from {
			return true
		}
		if visited[key] {
			return false
		}
		visited[key] = true
		for _, next := range edges[key] {
			if reach(next) {
				return true
			}
		}
		return false
	}
	return reach(to)
}

// findCycle runs a full topological check over the graph and returns the keys
// involved in the first cycle found, or nil. Used when validating seed files,
// where the whole graph arrives at once.
func findCycle(edges map[string][]string) []string {
	keys := make([]string, 0, len(edges))
	for k := range edges {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	visited := make(map[string]bool)
	inStack := make(map[string]bool)
	var path []string

	var visit func(key string) []string
	visit = func(key string) []string {
		visited[key] = true
		inStack[key] = true
		path = append(path, key)

		for _, next := range edges[key] {
			if inStack[next] {
				return append(path, next)
			}
			if !visited[next] {
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			}
		}

		inStack[key] = false
		path = path[:len(path)-1]
		return nil
	}

	for _, key := range keys {
		if !visited[key] {
			if cycle := visit(key); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
