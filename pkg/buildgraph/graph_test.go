package buildgraph_test

import (
	"testing"

	"pyrite.build/pkg/buildgraph"
	"pyrite.build/pkg/identity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func copyIdentity(name string) identity.ActionIdentity {
	return identity.ActionIdentity{
		Category:   identity.MustNewCategory("copy"),
		Identifier: identity.MustNewIdentifier(name),
	}
}

func TestGraphArtifacts(t *testing.T) {
	graph := buildgraph.NewGraph()

	t.Run("SourceArtifact", func(t *testing.T) {
		id := graph.AddSourceArtifact("src.txt", []byte("42"))
		artifact, ok := graph.Artifact(id)
		require.True(t, ok)
		assert.True(t, artifact.IsMaterialized())
		assert.Equal(t, buildgraph.InvalidNode, artifact.Producer())

		content, err := artifact.Content()
		require.NoError(t, err)
		assert.Equal(t, []byte("42"), content)

		_, err = artifact.DirectoryEntries()
		assert.Error(t, err)
	})

	t.Run("PendingArtifact", func(t *testing.T) {
		id := graph.DeclareArtifact("out.txt")
		artifact, ok := graph.Artifact(id)
		require.True(t, ok)
		assert.False(t, artifact.IsMaterialized())

		_, err := artifact.Content()
		assert.Error(t, err)

		require.NoError(t, graph.SetArtifactContent(id, []byte("hello")))
		content, err := artifact.Content()
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), content)

		// A second materialization must be refused, even with
		// identical content.
		assert.Error(t, graph.SetArtifactContent(id, []byte("hello")))
	})

	t.Run("DirectoryArtifact", func(t *testing.T) {
		a := graph.AddSourceArtifact("a.txt", []byte("a"))
		b := graph.AddSourceArtifact("b.txt", []byte("b"))
		dir := graph.DeclareArtifact("tree")
		require.NoError(t, graph.SetArtifactDirectory(dir, []buildgraph.DirectoryEntry{
			{Name: "b", Target: b},
			{Name: "a", Target: a},
		}))

		artifact, ok := graph.Artifact(dir)
		require.True(t, ok)
		entries, err := artifact.DirectoryEntries()
		require.NoError(t, err)
		assert.Equal(t, []buildgraph.DirectoryEntry{
			{Name: "a", Target: a},
			{Name: "b", Target: b},
		}, entries)

		_, err = artifact.Content()
		assert.Error(t, err)
	})

	t.Run("ContentIsCopied", func(t *testing.T) {
		// A callback mutating the slice it was handed must not
		// corrupt the view observed by other readers.
		id := graph.AddSourceArtifact("shared.txt", []byte("42"))
		artifact, ok := graph.Artifact(id)
		require.True(t, ok)
		content, err := artifact.Content()
		require.NoError(t, err)
		content[0] = 'X'

		again, err := artifact.Content()
		require.NoError(t, err)
		assert.Equal(t, []byte("42"), again)
	})

	t.Run("UnknownArtifact", func(t *testing.T) {
		_, ok := graph.Artifact(buildgraph.InvalidArtifact)
		assert.False(t, ok)
		_, ok = graph.Artifact(buildgraph.ArtifactID(10000))
		assert.False(t, ok)
	})
}

func TestGraphAddNode(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		graph := buildgraph.NewGraph()
		src := graph.AddSourceArtifact("src.txt", []byte("42"))
		out := graph.DeclareArtifact("out.txt")

		nodeID, err := graph.AddNode(
			copyIdentity("out.txt"),
			"//pkg:rule",
			buildgraph.CopyAction{Source: src, Target: out},
			[]buildgraph.ArtifactID{src},
			[]buildgraph.ArtifactID{out},
		)
		require.NoError(t, err)

		node, ok := graph.Node(nodeID)
		require.True(t, ok)
		assert.Equal(t, "copy:out.txt", node.Identity().String())
		assert.Equal(t, []buildgraph.ArtifactID{src}, node.Dependencies())
		assert.Equal(t, []buildgraph.ArtifactID{out}, node.Outputs())

		artifact, ok := graph.Artifact(out)
		require.True(t, ok)
		assert.Equal(t, nodeID, artifact.Producer())
	})

	t.Run("UnknownDependency", func(t *testing.T) {
		graph := buildgraph.NewGraph()
		out := graph.DeclareArtifact("out.txt")

		_, err := graph.AddNode(
			copyIdentity("out.txt"),
			"//pkg:rule",
			buildgraph.CopyAction{Source: buildgraph.ArtifactID(999), Target: out},
			[]buildgraph.ArtifactID{buildgraph.ArtifactID(999)},
			[]buildgraph.ArtifactID{out},
		)
		var unknownErr *buildgraph.UnknownDependencyError
		require.ErrorAs(t, err, &unknownErr)
		assert.Equal(t, buildgraph.ArtifactID(999), unknownErr.Artifact)
	})

	t.Run("TwoProducers", func(t *testing.T) {
		graph := buildgraph.NewGraph()
		src := graph.AddSourceArtifact("src.txt", []byte("42"))
		out := graph.DeclareArtifact("out.txt")

		_, err := graph.AddNode(
			copyIdentity("first"),
			"//pkg:rule1",
			buildgraph.CopyAction{Source: src, Target: out},
			[]buildgraph.ArtifactID{src},
			[]buildgraph.ArtifactID{out},
		)
		require.NoError(t, err)

		_, err = graph.AddNode(
			copyIdentity("second"),
			"//pkg:rule2",
			buildgraph.CopyAction{Source: src, Target: out},
			[]buildgraph.ArtifactID{src},
			[]buildgraph.ArtifactID{out},
		)
		var ownershipErr *buildgraph.DuplicateOutputOwnershipError
		require.ErrorAs(t, err, &ownershipErr)
		assert.Equal(t, "out.txt", ownershipErr.Slot)
		assert.Equal(t, "//pkg:rule1", ownershipErr.FirstOwner)
		assert.Equal(t, "//pkg:rule2", ownershipErr.NewOwner)
	})
}

func TestOutputSlot(t *testing.T) {
	t.Run("ClaimAndBind", func(t *testing.T) {
		graph := buildgraph.NewGraph()
		slot := graph.DeclareOutputSlot("out.txt", "//pkg:rule")
		assert.Equal(t, buildgraph.SlotDeclared, slot.State())

		require.NoError(t, slot.Claim("//pkg:rule@dyn0"))
		// Reclaiming under the same owner is a no-op.
		require.NoError(t, slot.Claim("//pkg:rule@dyn0"))

		err := slot.Claim("//pkg:rule@dyn1")
		var ownershipErr *buildgraph.DuplicateOutputOwnershipError
		require.ErrorAs(t, err, &ownershipErr)
		assert.Equal(t, "//pkg:rule@dyn0", ownershipErr.FirstOwner)

		require.NoError(t, slot.Bind("//pkg:rule@dyn0"))
		assert.Equal(t, buildgraph.SlotBound, slot.State())

		var boundErr *buildgraph.SlotAlreadyBoundError
		require.ErrorAs(t, slot.Bind("//pkg:rule@dyn1"), &boundErr)
		assert.Equal(t, "//pkg:rule@dyn0", boundErr.FirstWriter)
	})

	t.Run("TransferClaim", func(t *testing.T) {
		graph := buildgraph.NewGraph()
		slot := graph.DeclareOutputSlot("out.txt", "//pkg:rule")
		require.NoError(t, slot.Claim("//pkg:rule@dyn0"))
		require.NoError(t, slot.TransferClaim("//pkg:rule@dyn0", "//pkg:rule@dyn0/nested"))

		// The original owner no longer holds the claim.
		err := slot.TransferClaim("//pkg:rule@dyn0", "//pkg:rule@elsewhere")
		assert.Error(t, err)
	})

	t.Run("SlotLookup", func(t *testing.T) {
		graph := buildgraph.NewGraph()
		slot := graph.DeclareOutputSlot("out.txt", "//pkg:rule")
		found, ok := graph.SlotForArtifact(slot.Artifact())
		require.True(t, ok)
		assert.Same(t, slot, found)

		plain := graph.DeclareArtifact("plain.txt")
		_, ok = graph.SlotForArtifact(plain)
		assert.False(t, ok)
	})
}
