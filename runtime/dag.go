package runtime

import (
	"fmt"

	"github.com/juju/errors"
	"github.com/warriorguo/stemflow/types"
	"github.com/warriorguo/stemflow/utils"
)

/**
 * dependencyGraph is derived from the node registry on every run.
 * dependents maps a node to the nodes declaring it as a dependency,
 * both kept in registration order. terminals are nodes nobody depends on.
 */
type dependencyGraph struct {
	order      []string
	dependents map[string][]string
	terminals  []string
}

func buildGraph(order []string, nodes map[string]*types.Node) (*dependencyGraph, error) {
	g := &dependencyGraph{
		order:      order,
		dependents: make(map[string][]string, len(order)),
	}
	for _, id := range order {
		g.dependents[id] = []string{}
	}

	for _, id := range order {
		node := nodes[id]
		for _, dep := range node.DependsOn {
			if _, exists := nodes[dep]; !exists {
				return nil, errors.NewNotFound(nil, fmt.Sprintf("node %s depends on non-existent node %s", id, dep))
			}
			g.dependents[dep] = append(g.dependents[dep], id)
		}
	}
	// a node listing the same dependency twice is still dispatched once
	for id, dependents := range g.dependents {
		g.dependents[id] = utils.UniqueSlice(dependents)
	}

	for _, id := range order {
		if len(g.dependents[id]) == 0 {
			g.terminals = append(g.terminals, id)
		}
	}

	if cycleNode, found := findCycle(order, nodes); found {
		return nil, errors.NewNotValid(nil, fmt.Sprintf("dependency cycle through node %s", cycleNode))
	}
	return g, nil
}

func (g *dependencyGraph) isTerminal(id string) bool {
	return containsString(g.terminals, id)
}

// findCycle walks DependsOn depth first and reports a node lying on a cycle.
func findCycle(order []string, nodes map[string]*types.Node) (string, bool) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(order))

	var visit func(id string) (string, bool)
	visit = func(id string) (string, bool) {
		state[id] = visiting
		for _, dep := range nodes[id].DependsOn {
			switch state[dep] {
			case visiting:
				return dep, true
			case unvisited:
				if cycleNode, found := visit(dep); found {
					return cycleNode, true
				}
			}
		}
		state[id] = done
		return "", false
	}

	for _, id := range order {
		if state[id] != unvisited {
			continue
		}
		if cycleNode, found := visit(id); found {
			return cycleNode, true
		}
	}
	return "", false
}

func containsString(a []string, s string) bool {
	for _, v := range a {
		if v == s {
			return true
		}
	}
	return false
}
