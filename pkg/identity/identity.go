package identity

import (
	"errors"
	"regexp"
)

const (
	validCategoryPattern   = "[a-z][a-z0-9_]*"
	validIdentifierPattern = "[a-zA-Z0-9_.+=,@~-][a-zA-Z0-9_.+=,@~/-]*"
)

var (
	validCategoryRegexp   = regexp.MustCompile("^" + validCategoryPattern + "$")
	validIdentifierRegexp = regexp.MustCompile("^" + validIdentifierPattern + "$")

	errInvalidCategory   = errors.New("Action category must match " + validCategoryPattern)
	errInvalidIdentifier = errors.New("Action identifier must match " + validIdentifierPattern)
)

// Category corresponds to the kind of an emitted action (e.g., "copy",
// "write", "genrule"). Multiple actions within a build may share a
// category, as long as their identifiers differ.
type Category struct {
	value string
}

// NewCategory validates that a string contains a valid action category.
// If so, an instance of Category that wraps the value is returned.
func NewCategory(value string) (Category, error) {
	if !validCategoryRegexp.MatchString(value) {
		return Category{}, errInvalidCategory
	}
	return Category{value: value}, nil
}

// MustNewCategory is the same as NewCategory, except that it panics if
// the provided value is not a valid category.
func MustNewCategory(value string) Category {
	category, err := NewCategory(value)
	if err != nil {
		panic(err)
	}
	return category
}

func (c Category) String() string {
	return c.value
}

// Identifier disambiguates an action from all other actions emitted
// with the same category. Identifiers may contain slashes, so that
// sub-builders can prefix identifiers of nested emissions with the
// namespace of the enclosing resolution.
type Identifier struct {
	value string
}

// NewIdentifier validates that a string contains a valid action
// identifier. If so, an instance of Identifier that wraps the value is
// returned.
func NewIdentifier(value string) (Identifier, error) {
	if !validIdentifierRegexp.MatchString(value) {
		return Identifier{}, errInvalidIdentifier
	}
	return Identifier{value: value}, nil
}

// MustNewIdentifier is the same as NewIdentifier, except that it panics
// if the provided value is not a valid identifier.
func MustNewIdentifier(value string) Identifier {
	identifier, err := NewIdentifier(value)
	if err != nil {
		panic(err)
	}
	return identifier
}

// GetPrefixed returns a new identifier consisting of the current one,
// extended with one additional trailing path component. Sub-builders
// use this to place identifiers of nested emissions under the namespace
// of their own resolution.
func (i Identifier) GetPrefixed(suffix Identifier) Identifier {
	return Identifier{value: i.value + "/" + suffix.value}
}

func (i Identifier) String() string {
	return i.value
}

// ActionIdentity is the globally unique key of an emitted action. No
// two actions within one build may share an identity, regardless of
// whether they were emitted during static analysis or during dynamic
// resolution.
type ActionIdentity struct {
	Category   Category
	Identifier Identifier
}

func (ai ActionIdentity) String() string {
	return ai.Category.String() + ":" + ai.Identifier.String()
}
