package unpack

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

type typeUnpackerInto[T starlark.Value] struct {
	expectedType string
}

// Type is capable of unpacking arguments that are instances of a
// specific native Starlark value type, such as the artifact and output
// slot handles exposed to resolver implementations.
func Type[T starlark.Value](expectedType string) UnpackerInto[T] {
	return &typeUnpackerInto[T]{expectedType: expectedType}
}

func (ui *typeUnpackerInto[T]) UnpackInto(thread *starlark.Thread, v starlark.Value, dst *T) error {
	typed, ok := v.(T)
	if !ok {
		return fmt.Errorf("got %s, want %s", v.Type(), ui.expectedType)
	}
	*dst = typed
	return nil
}

func (ui *typeUnpackerInto[T]) Canonicalize(thread *starlark.Thread, v starlark.Value) (starlark.Value, error) {
	var typed T
	if err := ui.UnpackInto(thread, v, &typed); err != nil {
		return nil, err
	}
	return typed, nil
}

func (typeUnpackerInto[T]) GetConcatenationOperator() syntax.Token {
	return 0
}
