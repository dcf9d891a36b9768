package starlarkresolve

import (
	"pyrite.build/pkg/buildgraph"
	"pyrite.build/pkg/dynamic"
	"pyrite.build/pkg/identity"
	"pyrite.build/pkg/starlarkresolve/unpack"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// rootEmitter inserts actions evaluated at the top level of a build
// file straight into the graph. Unlike emissions of a resolver
// invocation there is no buffering and no namespace prefix: top-level
// actions are fully specified up front, and their identifiers are the
// names of their target artifacts.
type rootEmitter struct {
	graph     *buildgraph.Graph
	allocator *identity.Allocator
	registrar *dynamic.Registrar
	site      string
	roots     []buildgraph.NodeID
}

func (e *rootEmitter) DeclareArtifact(name string) buildgraph.ArtifactID {
	return e.graph.DeclareArtifact(name)
}

func (e *rootEmitter) DeclareOutputSlot(name string) *buildgraph.OutputSlot {
	return e.graph.DeclareOutputSlot(name, e.site)
}

func (e *rootEmitter) emit(payload buildgraph.ActionPayload, deps []buildgraph.ArtifactID, target buildgraph.ArtifactID) error {
	artifact, ok := e.graph.Artifact(target)
	if !ok {
		return status.Errorf(codes.InvalidArgument, "%s emits an action targeting unknown artifact %d", e.site, int(target))
	}
	identifier, err := identity.NewIdentifier(artifact.Name())
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "Artifact name %#v cannot be used as an action identifier", artifact.Name())
	}
	actionIdentity := identity.ActionIdentity{
		Category:   payload.ActionCategory(),
		Identifier: identifier,
	}
	if err := e.allocator.Allocate(actionIdentity, e.site); err != nil {
		return err
	}
	id, err := e.graph.AddNode(actionIdentity, e.site, payload, deps, []buildgraph.ArtifactID{target})
	if err != nil {
		return err
	}
	e.roots = append(e.roots, id)
	return nil
}

func (e *rootEmitter) EmitWrite(target buildgraph.ArtifactID, content []byte) error {
	return e.emit(buildgraph.WriteAction{Target: target, Content: content}, nil, target)
}

func (e *rootEmitter) EmitCopy(source, target buildgraph.ArtifactID) error {
	return e.emit(buildgraph.CopyAction{Source: source, Target: target}, []buildgraph.ArtifactID{source}, target)
}

func (e *rootEmitter) EmitCommand(arguments []string, environment map[string]string, inputs []buildgraph.ArtifactID, target buildgraph.ArtifactID) error {
	return e.emit(
		buildgraph.CommandAction{
			Arguments:   arguments,
			Environment: environment,
			Inputs:      inputs,
			Target:      target,
		},
		inputs,
		target,
	)
}

func (e *rootEmitter) EmitSymlinkTree(name string, tree *dynamic.SymlinkTreeBuilder) (buildgraph.ArtifactID, error) {
	target := e.graph.DeclareArtifact(name)
	entries := tree.Entries()
	targets := make([]buildgraph.ArtifactID, 0, len(entries))
	for _, entry := range entries {
		targets = append(targets, entry.Target)
	}
	if err := e.emit(buildgraph.SymlinkTreeAction{Entries: entries, Target: target}, targets, target); err != nil {
		return buildgraph.InvalidArtifact, err
	}
	return target, nil
}

func (e *rootEmitter) RegisterDynamic(name identity.Identifier, spec dynamic.Spec) error {
	node, err := e.registrar.Register(e.site, name, spec)
	if err != nil {
		return err
	}
	e.roots = append(e.roots, node.ID)
	return nil
}

// ExecBuildFile evaluates a Starlark build file against the graph
// behind the given registrar and returns the root nodes it produced,
// ready to be handed to the scheduler. Dynamic action specs registered
// by the file remain dormant until their dependencies materialize.
func ExecBuildFile(filename string, source []byte, registrar *dynamic.Registrar) ([]buildgraph.NodeID, error) {
	e := &rootEmitter{
		graph:     registrar.Graph(),
		allocator: registrar.Allocator(),
		registrar: registrar,
		site:      "//" + filename,
	}
	predeclared := emitterBuiltins(e)
	predeclared["source"] = starlark.NewBuiltin(
		"source",
		func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name, content string
			if err := starlark.UnpackArgs(
				b.Name(), args, kwargs,
				"name", unpack.Bind(thread, &name, unpack.String),
				"content", unpack.Bind(thread, &content, unpack.String),
			); err != nil {
				return nil, err
			}
			return Artifact{ID: e.graph.AddSourceArtifact(name, []byte(content)), name: name}, nil
		},
	)

	_, program, err := starlark.SourceProgramOptions(
		&syntax.FileOptions{Set: true},
		filename,
		source,
		predeclared.Has,
	)
	if err != nil {
		return nil, err
	}
	thread := &starlark.Thread{Name: filename}
	if _, err := program.Init(thread, predeclared); err != nil {
		return nil, err
	}
	return e.roots, nil
}
