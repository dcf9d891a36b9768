package starlarkresolve_test

import (
	"context"
	"testing"

	"pyrite.build/pkg/buildgraph"
	"pyrite.build/pkg/dynamic"
	"pyrite.build/pkg/identity"
	"pyrite.build/pkg/scheduler"
	"pyrite.build/pkg/starlarkresolve"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runBuildFile(t *testing.T, source string) (*buildgraph.Graph, error) {
	t.Helper()
	graph := buildgraph.NewGraph()
	registrar := dynamic.NewRegistrar(graph, identity.NewAllocator())
	roots, err := starlarkresolve.ExecBuildFile("BUILD.pyrite", []byte(source), registrar)
	if err != nil {
		return graph, err
	}
	return graph, scheduler.NewScheduler(
		graph,
		dynamic.NewNodeResolver(registrar),
		nil,
		nil,
		4,
	).Run(context.Background(), roots)
}

func requireSlotContent(t *testing.T, graph *buildgraph.Graph, name, expected string) {
	t.Helper()
	for _, slot := range graph.Slots() {
		if slot.Name() == name {
			require.Equal(t, buildgraph.SlotBound, slot.State())
			artifact, ok := graph.Artifact(slot.Artifact())
			require.True(t, ok)
			content, err := artifact.Content()
			require.NoError(t, err)
			assert.Equal(t, expected, string(content))
			return
		}
	}
	t.Fatalf("no output slot named %#v", name)
}

func TestExecBuildFile(t *testing.T) {
	t.Run("DynamicPipeline", func(t *testing.T) {
		graph, err := runBuildFile(t, `
src = source(name = "src.txt", content = "42")
out = declare_output(name = "out.txt")

def _impl(inv):
    inv.output(out).write(inv.read(src))

dynamic_action(
    name = "passthrough",
    implementation = _impl,
    deps = [src],
    outputs = [out],
)
`)
		require.NoError(t, err)
		requireSlotContent(t, graph, "out.txt", "42")
	})

	t.Run("ArgumentThreading", func(t *testing.T) {
		graph, err := runBuildFile(t, `
src = source(name = "src.txt", content = "value")
out = declare_output(name = "out.txt")

def _impl(inv):
    inv.output(out).write(inv.argument + "_" + inv.read(src))

dynamic_action(
    name = "tagged",
    implementation = _impl,
    deps = [src],
    outputs = [out],
    argument = "tag",
)
`)
		require.NoError(t, err)
		requireSlotContent(t, graph, "out.txt", "tag_value")
	})

	t.Run("DynamicEmissions", func(t *testing.T) {
		// The implementation expands into further actions and a
		// nested registration that binds the outer slot.
		graph, err := runBuildFile(t, `
src = source(name = "src.txt", content = "seed")
out = declare_output(name = "out.txt")

def _nested_impl(inv):
    inv.output(out).write(inv.read(inv.argument) + "_bound")

def _impl(inv):
    intermediate = inv.declare_artifact(name = "intermediate.txt")
    inv.action_write(target = intermediate, content = inv.read(src) + "_expanded")
    inv.dynamic_action(
        name = "nested",
        implementation = _nested_impl,
        deps = [intermediate],
        outputs = [out],
        argument = intermediate,
    )

dynamic_action(
    name = "outer",
    implementation = _impl,
    deps = [src],
    outputs = [out],
)
`)
		require.NoError(t, err)
		requireSlotContent(t, graph, "out.txt", "seed_expanded_bound")
	})

	t.Run("StaticSymlinkTree", func(t *testing.T) {
		graph, err := runBuildFile(t, `
a = source(name = "a.txt", content = "a")
b = source(name = "b.txt", content = "b")
symlink_tree(name = "tree", entries = {"first": a, "second": b})
`)
		require.NoError(t, err)

		var tree *buildgraph.Artifact
		for id := buildgraph.ArtifactID(1); ; id++ {
			artifact, ok := graph.Artifact(id)
			if !ok {
				break
			}
			if artifact.Name() == "tree" {
				tree = artifact
			}
		}
		require.NotNil(t, tree)
		entries, err := tree.DirectoryEntries()
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "first", entries[0].Name)
		assert.Equal(t, "second", entries[1].Name)
	})

	t.Run("DuplicateRegistrationName", func(t *testing.T) {
		_, err := runBuildFile(t, `
src = source(name = "src.txt", content = "x")
out1 = declare_output(name = "out1.txt")
out2 = declare_output(name = "out2.txt")

def _impl(inv):
    pass

dynamic_action(name = "dyn", implementation = _impl, deps = [src], outputs = [out1])
dynamic_action(name = "dyn", implementation = _impl, deps = [src], outputs = [out2])
`)
		var collisionErr *identity.CollisionError
		require.ErrorAs(t, err, &collisionErr)
		assert.Equal(t, "dynamic:dyn", collisionErr.Identity.String())
	})

	t.Run("InvalidRegistrationName", func(t *testing.T) {
		_, err := runBuildFile(t, `
src = source(name = "src.txt", content = "x")
out = declare_output(name = "out.txt")

def _impl(inv):
    pass

dynamic_action(name = "has space", implementation = _impl, deps = [src], outputs = [out])
`)
		require.ErrorContains(t, err, "invalid action identifier")
	})

	t.Run("UnboundOutput", func(t *testing.T) {
		_, err := runBuildFile(t, `
src = source(name = "src.txt", content = "x")
out = declare_output(name = "out.txt")

def _impl(inv):
    pass

dynamic_action(name = "dyn", implementation = _impl, deps = [src], outputs = [out])
`)
		var unboundErr *dynamic.UnboundOutputError
		require.ErrorAs(t, err, &unboundErr)
		assert.Equal(t, "out.txt", unboundErr.Slot)
	})
}
