package unpack

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

type dictUnpackerInto[TKey comparable, TValue any] struct {
	keys   UnpackerInto[TKey]
	values UnpackerInto[TValue]
}

// Dict is capable of unpacking dict arguments, unpacking keys and
// values with the provided strategies. Iteration order of the source
// dict is preserved.
func Dict[TKey comparable, TValue any](keys UnpackerInto[TKey], values UnpackerInto[TValue]) UnpackerInto[map[TKey]TValue] {
	return &dictUnpackerInto[TKey, TValue]{keys: keys, values: values}
}

func (ui *dictUnpackerInto[TKey, TValue]) UnpackInto(thread *starlark.Thread, v starlark.Value, dst *map[TKey]TValue) error {
	dict, ok := v.(starlark.IterableMapping)
	if !ok {
		return fmt.Errorf("got %s, want dict", v.Type())
	}
	entries := map[TKey]TValue{}
	for _, item := range dict.Items() {
		var key TKey
		if err := ui.keys.UnpackInto(thread, item[0], &key); err != nil {
			return fmt.Errorf("for key %s: %w", item[0], err)
		}
		var value TValue
		if err := ui.values.UnpackInto(thread, item[1], &value); err != nil {
			return fmt.Errorf("for value of key %s: %w", item[0], err)
		}
		entries[key] = value
	}
	*dst = entries
	return nil
}

func (ui *dictUnpackerInto[TKey, TValue]) Canonicalize(thread *starlark.Thread, v starlark.Value) (starlark.Value, error) {
	dict, ok := v.(starlark.IterableMapping)
	if !ok {
		return nil, fmt.Errorf("got %s, want dict", v.Type())
	}
	canonicalized := starlark.NewDict(len(dict.Items()))
	for _, item := range dict.Items() {
		key, err := ui.keys.Canonicalize(thread, item[0])
		if err != nil {
			return nil, fmt.Errorf("for key %s: %w", item[0], err)
		}
		value, err := ui.values.Canonicalize(thread, item[1])
		if err != nil {
			return nil, fmt.Errorf("for value of key %s: %w", item[0], err)
		}
		if err := canonicalized.SetKey(key, value); err != nil {
			return nil, err
		}
	}
	return canonicalized, nil
}

func (dictUnpackerInto[TKey, TValue]) GetConcatenationOperator() syntax.Token {
	return syntax.PIPE
}
