package identity_test

import (
	"testing"

	"pyrite.build/pkg/identity"

	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategory(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		for _, value := range []string{"copy", "write", "symlink_tree", "genrule2"} {
			category, err := identity.NewCategory(value)
			require.NoError(t, err)
			assert.Equal(t, value, category.String())
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		for _, value := range []string{"", "Copy", "1copy", "co py", "co:py"} {
			_, err := identity.NewCategory(value)
			assert.Error(t, err)
		}
	})
}

func TestIdentifier(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		for _, value := range []string{"output", "out.txt", "a/b/c", "lib-1.2+x"} {
			identifier, err := identity.NewIdentifier(value)
			require.NoError(t, err)
			assert.Equal(t, value, identifier.String())
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		for _, value := range []string{"", "/absolute", "spa ce", "co:lon"} {
			_, err := identity.NewIdentifier(value)
			assert.Error(t, err)
		}
	})

	t.Run("GetPrefixed", func(t *testing.T) {
		assert.Equal(
			t,
			"dyn0/output",
			util.Must(identity.NewIdentifier("dyn0")).
				GetPrefixed(util.Must(identity.NewIdentifier("output"))).
				String(),
		)
	})
}
