// Package starlarkresolve exposes the dynamic action subsystem to
// Starlark. Build files register specs whose resolver implementations
// are Starlark callables; the callable runs once the spec's value
// dependencies are materialized, receiving an invocation value through
// which it reads dependency content and emits its sub-graph.
package starlarkresolve

import (
	"context"

	"pyrite.build/pkg/dynamic"

	"go.starlark.net/starlark"
)

type callableResolver struct {
	callable starlark.Callable
}

// NewCallableResolver adapts a Starlark callable into a resolver. The
// callable is invoked with a single invocation argument. Errors raised
// by the callable keep their cause chain, so that violations of
// graph-wide invariants surfaced through builtins remain classifiable
// by the scheduler.
func NewCallableResolver(callable starlark.Callable) dynamic.Resolver {
	return callableResolver{callable: callable}
}

func (r callableResolver) Resolve(ctx context.Context, invocation *dynamic.Invocation) error {
	thread := &starlark.Thread{Name: r.callable.Name()}
	_, err := starlark.Call(thread, r.callable, starlark.Tuple{newInvocationValue(invocation)}, nil)
	return err
}
