package unpack

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

type stringUnpackerInto struct{}

// String is capable of unpacking string arguments.
var String UnpackerInto[string] = stringUnpackerInto{}

func (stringUnpackerInto) UnpackInto(thread *starlark.Thread, v starlark.Value, dst *string) error {
	s, ok := starlark.AsString(v)
	if !ok {
		return fmt.Errorf("got %s, want string", v.Type())
	}
	*dst = s
	return nil
}

func (ui stringUnpackerInto) Canonicalize(thread *starlark.Thread, v starlark.Value) (starlark.Value, error) {
	var s string
	if err := ui.UnpackInto(thread, v, &s); err != nil {
		return nil, err
	}
	return starlark.String(s), nil
}

func (stringUnpackerInto) GetConcatenationOperator() syntax.Token {
	return syntax.PLUS
}

type boolUnpackerInto struct{}

// Bool is capable of unpacking boolean arguments.
var Bool UnpackerInto[bool] = boolUnpackerInto{}

func (boolUnpackerInto) UnpackInto(thread *starlark.Thread, v starlark.Value, dst *bool) error {
	b, ok := v.(starlark.Bool)
	if !ok {
		return fmt.Errorf("got %s, want bool", v.Type())
	}
	*dst = bool(b)
	return nil
}

func (boolUnpackerInto) Canonicalize(thread *starlark.Thread, v starlark.Value) (starlark.Value, error) {
	if _, ok := v.(starlark.Bool); !ok {
		return nil, fmt.Errorf("got %s, want bool", v.Type())
	}
	return v, nil
}

func (boolUnpackerInto) GetConcatenationOperator() syntax.Token {
	return 0
}

type intUnpackerInto[T int | int32 | int64] struct{}

// Int is capable of unpacking integer arguments that fit the desired
// native integer type.
func Int[T int | int32 | int64]() UnpackerInto[T] {
	return intUnpackerInto[T]{}
}

func (intUnpackerInto[T]) UnpackInto(thread *starlark.Thread, v starlark.Value, dst *T) error {
	i, ok := v.(starlark.Int)
	if !ok {
		return fmt.Errorf("got %s, want int", v.Type())
	}
	n, ok := i.Int64()
	if !ok || int64(T(n)) != n {
		return fmt.Errorf("integer %s out of range", i)
	}
	*dst = T(n)
	return nil
}

func (ui intUnpackerInto[T]) Canonicalize(thread *starlark.Thread, v starlark.Value) (starlark.Value, error) {
	var n T
	if err := ui.UnpackInto(thread, v, &n); err != nil {
		return nil, err
	}
	return starlark.MakeInt64(int64(n)), nil
}

func (intUnpackerInto[T]) GetConcatenationOperator() syntax.Token {
	return 0
}
