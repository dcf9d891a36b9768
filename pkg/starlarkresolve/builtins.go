package starlarkresolve

import (
	"fmt"
	"maps"
	"slices"

	"pyrite.build/pkg/buildgraph"
	"pyrite.build/pkg/dynamic"
	"pyrite.build/pkg/identity"
	"pyrite.build/pkg/starlarkresolve/unpack"

	"go.starlark.net/starlark"
)

// emitter is the graph construction surface shared by top-level build
// file evaluation and resolver invocations. During resolution it is
// the invocation's sub-builder; at the top level it is an adapter that
// inserts nodes into the graph immediately.
type emitter interface {
	DeclareArtifact(name string) buildgraph.ArtifactID
	DeclareOutputSlot(name string) *buildgraph.OutputSlot
	EmitWrite(target buildgraph.ArtifactID, content []byte) error
	EmitCopy(source, target buildgraph.ArtifactID) error
	EmitCommand(arguments []string, environment map[string]string, inputs []buildgraph.ArtifactID, target buildgraph.ArtifactID) error
	EmitSymlinkTree(name string, tree *dynamic.SymlinkTreeBuilder) (buildgraph.ArtifactID, error)
	RegisterDynamic(name identity.Identifier, spec dynamic.Spec) error
}

var (
	artifactUnpackerInto = unpack.Type[Artifact]("artifact")
	slotUnpackerInto     = unpack.Type[Slot]("output_slot")
)

// emitterBuiltins constructs the builtins through which Starlark code
// expands the build graph. The same surface is available inside build
// files and inside resolver implementations; only the emitter behind
// it differs.
func emitterBuiltins(e emitter) starlark.StringDict {
	return starlark.StringDict{
		"declare_artifact": starlark.NewBuiltin(
			"declare_artifact",
			func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var name string
				if err := starlark.UnpackArgs(
					b.Name(), args, kwargs,
					"name", unpack.Bind(thread, &name, unpack.String),
				); err != nil {
					return nil, err
				}
				return Artifact{ID: e.DeclareArtifact(name), name: name}, nil
			},
		),
		"declare_output": starlark.NewBuiltin(
			"declare_output",
			func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var name string
				if err := starlark.UnpackArgs(
					b.Name(), args, kwargs,
					"name", unpack.Bind(thread, &name, unpack.String),
				); err != nil {
					return nil, err
				}
				return Slot{Slot: e.DeclareOutputSlot(name)}, nil
			},
		),
		"action_write": starlark.NewBuiltin(
			"action_write",
			func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var target Artifact
				var content string
				if err := starlark.UnpackArgs(
					b.Name(), args, kwargs,
					"target", unpack.Bind(thread, &target, artifactUnpackerInto),
					"content", unpack.Bind(thread, &content, unpack.String),
				); err != nil {
					return nil, err
				}
				return starlark.None, e.EmitWrite(target.ID, []byte(content))
			},
		),
		"action_copy": starlark.NewBuiltin(
			"action_copy",
			func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var source, target Artifact
				if err := starlark.UnpackArgs(
					b.Name(), args, kwargs,
					"source", unpack.Bind(thread, &source, artifactUnpackerInto),
					"target", unpack.Bind(thread, &target, artifactUnpackerInto),
				); err != nil {
					return nil, err
				}
				return starlark.None, e.EmitCopy(source.ID, target.ID)
			},
		),
		"action_command": starlark.NewBuiltin(
			"action_command",
			func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var arguments []string
				var target Artifact
				var inputs []Artifact
				var environment map[string]string
				if err := starlark.UnpackArgs(
					b.Name(), args, kwargs,
					"arguments", unpack.Bind(thread, &arguments, unpack.List(unpack.String)),
					"target", unpack.Bind(thread, &target, artifactUnpackerInto),
					"inputs?", unpack.Bind(thread, &inputs, unpack.List(artifactUnpackerInto)),
					"environment?", unpack.Bind(thread, &environment, unpack.Dict(unpack.String, unpack.String)),
				); err != nil {
					return nil, err
				}
				return starlark.None, e.EmitCommand(arguments, environment, artifactIDs(inputs), target.ID)
			},
		),
		"symlink_tree": starlark.NewBuiltin(
			"symlink_tree",
			func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var name string
				var entries map[string]Artifact
				if err := starlark.UnpackArgs(
					b.Name(), args, kwargs,
					"name", unpack.Bind(thread, &name, unpack.String),
					"entries", unpack.Bind(thread, &entries, unpack.Dict(unpack.String, artifactUnpackerInto)),
				); err != nil {
					return nil, err
				}
				tree, err := treeFromEntries(entries)
				if err != nil {
					return nil, err
				}
				id, err := e.EmitSymlinkTree(name, tree)
				if err != nil {
					return nil, err
				}
				return Artifact{ID: id, name: name}, nil
			},
		),
		"dynamic_action": starlark.NewBuiltin(
			"dynamic_action",
			func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var name identity.Identifier
				var implementation starlark.Callable
				var deps []Artifact
				var outputs []Slot
				var argument starlark.Value = starlark.None
				if err := starlark.UnpackArgs(
					b.Name(), args, kwargs,
					"name", unpack.Bind(thread, &name, unpack.Identifier),
					"implementation", &implementation,
					"deps?", unpack.Bind(thread, &deps, unpack.List(artifactUnpackerInto)),
					"outputs?", unpack.Bind(thread, &outputs, unpack.List(slotUnpackerInto)),
					"argument?", &argument,
				); err != nil {
					return nil, err
				}
				return starlark.None, e.RegisterDynamic(name, dynamic.Spec{
					Dependencies: artifactIDs(deps),
					Outputs:      outputSlots(outputs),
					Argument:     argument,
					Resolver:     NewCallableResolver(implementation),
				})
			},
		),
	}
}

func treeFromEntries(entries map[string]Artifact) (*dynamic.SymlinkTreeBuilder, error) {
	tree := dynamic.NewSymlinkTreeBuilder()
	for _, name := range slices.Sorted(maps.Keys(entries)) {
		if err := tree.Add(name, entries[name].ID); err != nil {
			return nil, fmt.Errorf("invalid symlink tree: %w", err)
		}
	}
	return tree, nil
}
