package unpack

import (
	"fmt"

	"pyrite.build/pkg/identity"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

type identifierUnpackerInto struct{}

// Identifier is capable of unpacking a string containing an action
// identifier. Strings that are not valid identifiers are rejected.
var Identifier UnpackerInto[identity.Identifier] = identifierUnpackerInto{}

func (identifierUnpackerInto) UnpackInto(thread *starlark.Thread, v starlark.Value, dst *identity.Identifier) error {
	s, ok := starlark.AsString(v)
	if !ok {
		return fmt.Errorf("got %s, want string", v.Type())
	}
	i, err := identity.NewIdentifier(s)
	if err != nil {
		return fmt.Errorf("invalid action identifier: %w", err)
	}
	*dst = i
	return nil
}

func (ui identifierUnpackerInto) Canonicalize(thread *starlark.Thread, v starlark.Value) (starlark.Value, error) {
	var i identity.Identifier
	if err := ui.UnpackInto(thread, v, &i); err != nil {
		return nil, err
	}
	return starlark.String(i.String()), nil
}

func (identifierUnpackerInto) GetConcatenationOperator() syntax.Token {
	return 0
}
