package starlarkresolve

import (
	"fmt"
	"sort"

	"pyrite.build/pkg/dynamic"
	"pyrite.build/pkg/starlarkresolve/unpack"

	"go.starlark.net/starlark"
)

// invocationValue is the single argument passed to a Starlark resolver
// implementation. It scopes the callable to its invocation: dependency
// reads, output sinks and graph expansion all go through here.
type invocationValue struct {
	invocation *dynamic.Invocation
	builtins   starlark.StringDict
}

var _ starlark.HasAttrs = (*invocationValue)(nil)

func newInvocationValue(invocation *dynamic.Invocation) *invocationValue {
	iv := &invocationValue{
		invocation: invocation,
		builtins:   emitterBuiltins(invocation.SubBuilder()),
	}
	iv.builtins["read"] = starlark.NewBuiltin("read", iv.doRead)
	iv.builtins["entries"] = starlark.NewBuiltin("entries", iv.doEntries)
	iv.builtins["output"] = starlark.NewBuiltin("output", iv.doOutput)
	return iv
}

func (iv *invocationValue) String() string {
	return fmt.Sprintf("<invocation %s>", iv.invocation.SubBuilder().Site())
}

// Type returns the Starlark type name of invocation values.
func (*invocationValue) Type() string {
	return "invocation"
}

// Freeze is a no-op. The invocation's own lifecycle state rejects use
// after the implementation has returned.
func (*invocationValue) Freeze() {}

// Truth returns true.
func (*invocationValue) Truth() starlark.Bool {
	return starlark.True
}

// Hash fails, as invocation values are not hashable.
func (iv *invocationValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("%s is not hashable", iv.Type())
}

// Attr returns an attribute of the invocation.
func (iv *invocationValue) Attr(name string) (starlark.Value, error) {
	if name == "argument" {
		argument, ok := iv.invocation.Argument().(starlark.Value)
		if !ok {
			return starlark.None, nil
		}
		return argument, nil
	}
	return iv.builtins[name], nil
}

// AttrNames returns the names of all attributes of the invocation.
func (iv *invocationValue) AttrNames() []string {
	names := make([]string, 0, len(iv.builtins)+1)
	for name := range iv.builtins {
		names = append(names, name)
	}
	names = append(names, "argument")
	sort.Strings(names)
	return names
}

func (iv *invocationValue) doRead(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var artifact Artifact
	if err := starlark.UnpackArgs(
		b.Name(), args, kwargs,
		"artifact", unpack.Bind(thread, &artifact, artifactUnpackerInto),
	); err != nil {
		return nil, err
	}
	content, err := iv.invocation.DependencyContent(artifact.ID)
	if err != nil {
		return nil, err
	}
	return starlark.String(content), nil
}

func (iv *invocationValue) doEntries(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var artifact Artifact
	if err := starlark.UnpackArgs(
		b.Name(), args, kwargs,
		"artifact", unpack.Bind(thread, &artifact, artifactUnpackerInto),
	); err != nil {
		return nil, err
	}
	entries, err := iv.invocation.DependencyDirectory(artifact.ID)
	if err != nil {
		return nil, err
	}
	dict := starlark.NewDict(len(entries))
	for _, entry := range entries {
		if err := dict.SetKey(starlark.String(entry.Name), Artifact{ID: entry.Target, name: entry.Name}); err != nil {
			return nil, err
		}
	}
	return dict, nil
}

func (iv *invocationValue) doOutput(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var slot Slot
	if err := starlark.UnpackArgs(
		b.Name(), args, kwargs,
		"slot", unpack.Bind(thread, &slot, slotUnpackerInto),
	); err != nil {
		return nil, err
	}
	sink, err := iv.invocation.Output(slot.Slot)
	if err != nil {
		return nil, err
	}
	return &sinkValue{sink: sink}, nil
}

// sinkValue is the write capability of a single owned output slot.
type sinkValue struct {
	sink *dynamic.OutputSink
}

var _ starlark.HasAttrs = (*sinkValue)(nil)

func (sv *sinkValue) String() string {
	return fmt.Sprintf("<output_sink %s>", sv.sink.Slot().Name())
}

// Type returns the Starlark type name of output sinks.
func (*sinkValue) Type() string {
	return "output_sink"
}

// Freeze is a no-op.
func (*sinkValue) Freeze() {}

// Truth returns true.
func (*sinkValue) Truth() starlark.Bool {
	return starlark.True
}

// Hash fails, as output sinks are not hashable.
func (sv *sinkValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("%s is not hashable", sv.Type())
}

// Attr returns an attribute of the output sink.
func (sv *sinkValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "write":
		return starlark.NewBuiltin("write", sv.doWrite), nil
	case "copy_from":
		return starlark.NewBuiltin("copy_from", sv.doCopyFrom), nil
	case "symlink_tree":
		return starlark.NewBuiltin("symlink_tree", sv.doSymlinkTree), nil
	}
	return nil, nil
}

// AttrNames returns the names of all attributes of the output sink.
func (*sinkValue) AttrNames() []string {
	return []string{"copy_from", "symlink_tree", "write"}
}

func (sv *sinkValue) doWrite(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var content string
	if err := starlark.UnpackArgs(
		b.Name(), args, kwargs,
		"content", unpack.Bind(thread, &content, unpack.String),
	); err != nil {
		return nil, err
	}
	return starlark.None, sv.sink.Write([]byte(content))
}

func (sv *sinkValue) doCopyFrom(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var source Artifact
	if err := starlark.UnpackArgs(
		b.Name(), args, kwargs,
		"source", unpack.Bind(thread, &source, artifactUnpackerInto),
	); err != nil {
		return nil, err
	}
	return starlark.None, sv.sink.CopyFrom(source.ID)
}

func (sv *sinkValue) doSymlinkTree(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var entries map[string]Artifact
	if err := starlark.UnpackArgs(
		b.Name(), args, kwargs,
		"entries", unpack.Bind(thread, &entries, unpack.Dict(unpack.String, artifactUnpackerInto)),
	); err != nil {
		return nil, err
	}
	tree, err := treeFromEntries(entries)
	if err != nil {
		return nil, err
	}
	return starlark.None, sv.sink.FromSymlinkTree(tree)
}
