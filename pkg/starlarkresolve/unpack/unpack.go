// Package unpack provides strategies for unpacking arguments of
// Starlark builtins into Go types.
package unpack

import (
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Canonicalizer of Starlark values. Whereas implementations of
// UnpackerInto provide an algorithm for converting Starlark values to
// native Go types, instances of Canonicalizer merely convert them to
// Starlark values that are considered canonical.
type Canonicalizer interface {
	Canonicalize(thread *starlark.Thread, v starlark.Value) (starlark.Value, error)
	GetConcatenationOperator() syntax.Token
}

// UnpackerInto implements a strategy for unpacking a function argument
// of a Starlark function into a Go type.
type UnpackerInto[T any] interface {
	Canonicalizer
	UnpackInto(thread *starlark.Thread, v starlark.Value, dst *T) error
}

type boundUnpacker[T any] struct {
	thread   *starlark.Thread
	dst      *T
	unpacker UnpackerInto[T]
}

// Bind an UnpackerInto to a variable, so that it can unpack a function
// argument and store it at a desired location.
func Bind[T any](thread *starlark.Thread, dst *T, unpacker UnpackerInto[T]) starlark.Unpacker {
	return &boundUnpacker[T]{
		thread:   thread,
		dst:      dst,
		unpacker: unpacker,
	}
}

func (u *boundUnpacker[T]) Unpack(v starlark.Value) error {
	return u.unpacker.UnpackInto(u.thread, v, u.dst)
}
