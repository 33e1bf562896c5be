package runtime

import (
	"github.com/juju/errors"
	"github.com/warriorguo/stemflow/types"
)

// NodeBuilder accumulates the parts of a node and freezes them with Build.
type NodeBuilder struct {
	id        string
	process   types.NodeHandler
	dependsOn []string
	condition types.ConditionFunc
}

func NewNode(id string) *NodeBuilder {
	return &NodeBuilder{id: id}
}

func (b *NodeBuilder) Process(handler types.NodeHandler) *NodeBuilder {
	b.process = handler
	return b
}

func (b *NodeBuilder) DependsOn(ids ...string) *NodeBuilder {
	b.dependsOn = append(b.dependsOn, ids...)
	return b
}

// When sets the execution guard evaluated at dispatch time.
func (b *NodeBuilder) When(condition types.ConditionFunc) *NodeBuilder {
	b.condition = condition
	return b
}

func (b *NodeBuilder) Build() (*types.Node, error) {
	if b.id == "" {
		return nil, errors.BadRequestf("node id is empty")
	}
	if b.process == nil {
		return nil, errors.BadRequestf("node:%s process is nil", b.id)
	}
	return &types.Node{
		ID:        b.id,
		DependsOn: append([]string(nil), b.dependsOn...),
		Condition: b.condition,
		Process:   b.process,
	}, nil
}

// MustBuild is Build for statically assembled pipelines, it panics on error.
func (b *NodeBuilder) MustBuild() *types.Node {
	node, err := b.Build()
	if err != nil {
		panic(err)
	}
	return node
}

/**
 * MergeNode builds a node whose dependencies are exactly its inputs.
 * fn always receives the upstream outputs as an ordered list, even for a
 * single dependency.
 */
func MergeNode(id string, fn func(ctx types.Context, inputs []any) (any, error), deps ...string) (*types.Node, error) {
	if len(deps) == 0 {
		return nil, errors.BadRequestf("merge node:%s has no dependencies", id)
	}
	if fn == nil {
		return nil, errors.BadRequestf("merge node:%s process is nil", id)
	}
	single := len(deps) == 1
	return NewNode(id).DependsOn(deps...).Process(func(ctx types.Context, input any) (any, error) {
		if single {
			return fn(ctx, []any{input})
		}
		inputs, ok := input.([]any)
		if !ok {
			return nil, errors.NotValidf("merge node:%s input type %T", id, input)
		}
		return fn(ctx, inputs)
	}).Build()
}
