package types

import "time"

/**
 * Node is the atomic unit of work of a pipeline.
 * A node with a single dependency receives the raw upstream output as input,
 * a node with more than one receives []any ordered as DependsOn.
 */
type Node struct {
	ID        string
	DependsOn []string
	Condition ConditionFunc
	Process   NodeHandler
}

// HasDependency reports whether id is one of the declared dependencies.
func (n *Node) HasDependency(id string) bool {
	for _, dep := range n.DependsOn {
		if dep == id {
			return true
		}
	}
	return false
}

type NodeTraceRecord struct {
	NodeID    string
	StartTime time.Time
	EndTime   time.Time
	Error     string
}

type NodeHandler func(ctx Context, input any) (any, error)
type ConditionFunc func(ctx Context) bool
