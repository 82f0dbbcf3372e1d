package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalidGraph is returned when the stage graph cannot be executed.
var ErrInvalidGraph = errors.New("invalid stage graph")

// Edge says that To starts only after From finished.
type Edge struct {
	From string
	To   string
}

// Graph is a validated DAG of stages grouped by topological depth.
type Graph struct {
	stages map[string]Stage
	edges  []Edge
	groups [][]string
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidGraph, fmt.Sprintf(format, args...))
}

// NewGraph validates stages and edges and precomputes the execution groups.
func NewGraph(stages []Stage, edges []Edge) (*Graph, error) {
	if len(stages) == 0 {
		return nil, invalidf("no stages")
	}

	byName := make(map[string]Stage, len(stages))
	for _, st := range stages {
		name := strings.TrimSpace(st.Name)
		if name == "" {
			return nil, invalidf("stage with empty name")
		}
		if st.Run == nil {
			return nil, invalidf("stage %s has no run function", name)
		}
		if _, dup := byName[name]; dup {
			return nil, invalidf("duplicate stage %s", name)
		}
		byName[name] = st
	}

	indeg := make(map[string]int, len(byName))
	outgoing := make(map[string][]string, len(byName))
	seenEdge := map[Edge]struct{}{}
	for _, e := range edges {
		if _, ok := byName[e.From]; !ok {
			return nil, invalidf("edge from unknown stage %s", e.From)
		}
		if _, ok := byName[e.To]; !ok {
			return nil, invalidf("edge to unknown stage %s", e.To)
		}
		if e.From == e.To {
			return nil, invalidf("self loop on %s", e.From)
		}
		if _, dup := seenEdge[e]; dup {
			continue
		}
		seenEdge[e] = struct{}{}
		outgoing[e.From] = append(outgoing[e.From], e.To)
		indeg[e.To]++
	}

	depth := make(map[string]int, len(byName))
	var ready []string
	for name := range byName {
		if indeg[name] == 0 {
			ready = append(ready, name)
		}
	}
	slices.Sort(ready)

	visited := 0
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		visited++
		for _, next := range outgoing[name] {
			depth[next] = max(depth[next], depth[name]+1)
			indeg[next]--
			if indeg[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	if visited != len(byName) {
		return nil, invalidf("cycle detected")
	}

	maxDepth := 0
	for _, d := range depth {
		maxDepth = max(maxDepth, d)
	}
	groups := make([][]string, maxDepth+1)
	for name := range byName {
		d := depth[name]
		groups[d] = append(groups[d], name)
	}
	for _, g := range groups {
		slices.Sort(g)
	}

	return &Graph{stages: byName, edges: slices.Clone(edges), groups: groups}, nil
}

// Groups returns stage names grouped by depth. Stages in one group run concurrently.
func (g *Graph) Groups() [][]string {
	out := make([][]string, len(g.groups))
	for i, group := range g.groups {
		out[i] = slices.Clone(group)
	}
	return out
}
