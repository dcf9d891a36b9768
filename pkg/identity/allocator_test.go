package identity_test

import (
	"fmt"
	"sync"
	"testing"

	"pyrite.build/pkg/identity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocator(t *testing.T) {
	t.Run("DistinctIdentifiers", func(t *testing.T) {
		// Sharing a category is permitted, as long as the
		// identifiers differ.
		allocator := identity.NewAllocator()
		category := identity.MustNewCategory("copy")
		require.NoError(t, allocator.Allocate(identity.ActionIdentity{
			Category:   category,
			Identifier: identity.MustNewIdentifier("output1"),
		}, "//pkg:rule1"))
		require.NoError(t, allocator.Allocate(identity.ActionIdentity{
			Category:   category,
			Identifier: identity.MustNewIdentifier("output2"),
		}, "//pkg:rule1"))
	})

	t.Run("DistinctCategories", func(t *testing.T) {
		// The same identifier under two categories is two
		// distinct identities.
		allocator := identity.NewAllocator()
		identifier := identity.MustNewIdentifier("output")
		require.NoError(t, allocator.Allocate(identity.ActionIdentity{
			Category:   identity.MustNewCategory("copy"),
			Identifier: identifier,
		}, "//pkg:rule1"))
		require.NoError(t, allocator.Allocate(identity.ActionIdentity{
			Category:   identity.MustNewCategory("write"),
			Identifier: identifier,
		}, "//pkg:rule1"))
	})

	t.Run("Collision", func(t *testing.T) {
		allocator := identity.NewAllocator()
		ai := identity.ActionIdentity{
			Category:   identity.MustNewCategory("copy"),
			Identifier: identity.MustNewIdentifier("output"),
		}
		require.NoError(t, allocator.Allocate(ai, "//pkg:rule1"))

		err := allocator.Allocate(ai, "//pkg:rule2")
		var collisionErr *identity.CollisionError
		require.ErrorAs(t, err, &collisionErr)
		assert.Equal(t, ai, collisionErr.Identity)
		assert.Equal(t, "//pkg:rule1", collisionErr.FirstSite)
		assert.Equal(t, "//pkg:rule2", collisionErr.SecondSite)
		assert.Equal(
			t,
			"identity collision on \"copy:output\": first emitted by //pkg:rule1, emitted again by //pkg:rule2",
			err.Error(),
		)
	})

	t.Run("ConcurrentAllocation", func(t *testing.T) {
		// Exactly one out of many concurrent emissions of the
		// same identity may succeed.
		allocator := identity.NewAllocator()
		ai := identity.ActionIdentity{
			Category:   identity.MustNewCategory("copy"),
			Identifier: identity.MustNewIdentifier("contended"),
		}
		const workers = 16
		errs := make([]error, workers)
		var group sync.WaitGroup
		for i := 0; i < workers; i++ {
			group.Add(1)
			go func(i int) {
				defer group.Done()
				errs[i] = allocator.Allocate(ai, fmt.Sprintf("//pkg:rule%d", i))
			}(i)
		}
		group.Wait()

		successes := 0
		for _, err := range errs {
			if err == nil {
				successes++
			} else {
				var collisionErr *identity.CollisionError
				require.ErrorAs(t, err, &collisionErr)
			}
		}
		assert.Equal(t, 1, successes)
	})
}
