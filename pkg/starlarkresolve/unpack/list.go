package unpack

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

type listUnpackerInto[T any] struct {
	base UnpackerInto[T]
}

// List is capable of unpacking list arguments, unpacking every element
// with the provided strategy.
func List[T any](base UnpackerInto[T]) UnpackerInto[[]T] {
	return &listUnpackerInto[T]{base: base}
}

func (ui *listUnpackerInto[T]) UnpackInto(thread *starlark.Thread, v starlark.Value, dst *[]T) error {
	list, ok := v.(starlark.Iterable)
	if !ok {
		return fmt.Errorf("got %s, want list", v.Type())
	}
	iter := list.Iterate()
	defer iter.Done()
	var elements []T
	var element starlark.Value
	for i := 0; iter.Next(&element); i++ {
		var unpacked T
		if err := ui.base.UnpackInto(thread, element, &unpacked); err != nil {
			return fmt.Errorf("at index %d: %w", i, err)
		}
		elements = append(elements, unpacked)
	}
	*dst = elements
	return nil
}

func (ui *listUnpackerInto[T]) Canonicalize(thread *starlark.Thread, v starlark.Value) (starlark.Value, error) {
	list, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("got %s, want list", v.Type())
	}
	iter := list.Iterate()
	defer iter.Done()
	var elements []starlark.Value
	var element starlark.Value
	for i := 0; iter.Next(&element); i++ {
		canonicalized, err := ui.base.Canonicalize(thread, element)
		if err != nil {
			return nil, fmt.Errorf("at index %d: %w", i, err)
		}
		elements = append(elements, canonicalized)
	}
	return starlark.NewList(elements), nil
}

func (listUnpackerInto[T]) GetConcatenationOperator() syntax.Token {
	return syntax.PLUS
}
