package runtime

import (
	"github.com/juju/errors"
	"github.com/warriorguo/stemflow/types"
)

// Unary adapts a typed single-input function into a NodeHandler.
func Unary[I, O any](fn func(ctx types.Context, input I) (O, error)) types.NodeHandler {
	return func(ctx types.Context, input any) (any, error) {
		in, ok := input.(I)
		if !ok && input != nil {
			var want I
			return nil, errors.NotValidf("input type %T, expected %T", input, want)
		}
		return fn(ctx, in)
	}
}

// ResultAs reads the output of nodeID from the run context as T.
func ResultAs[T any](ctx types.Context, nodeID string) (T, bool) {
	var zero T
	v, exists := ctx.Result(nodeID)
	if !exists {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// InputAs casts the i-th element of a merge node's inputs to T.
func InputAs[T any](inputs []any, i int) (T, error) {
	var zero T
	if i < 0 || i >= len(inputs) {
		return zero, errors.NotValidf("input index %d of %d", i, len(inputs))
	}
	t, ok := inputs[i].(T)
	if !ok {
		return zero, errors.NotValidf("input %d type %T, expected %T", i, inputs[i], zero)
	}
	return t, nil
}
