package dynamic

import (
	"pyrite.build/pkg/buildgraph"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Invocation is what a resolver callback receives: read-only views of
// the materialized dependency artifacts, write sinks for the declared
// output slots, the opaque argument captured at registration time, and
// a sub-builder for emitting further actions.
type Invocation struct {
	graph    *buildgraph.Graph
	deps     map[buildgraph.ArtifactID]*buildgraph.Artifact
	outputs  []*buildgraph.OutputSlot
	argument any
	sub      *SubBuilder
}

// Argument returns the opaque payload that was captured when the spec
// was registered.
func (inv *Invocation) Argument() any {
	return inv.argument
}

// SubBuilder returns the emission context scoped to this invocation.
func (inv *Invocation) SubBuilder() *SubBuilder {
	return inv.sub
}

func (inv *Invocation) dependency(id buildgraph.ArtifactID) (*buildgraph.Artifact, error) {
	artifact, ok := inv.deps[id]
	if !ok {
		return nil, status.Errorf(codes.PermissionDenied, "%s reads artifact %d, which is not among its declared value dependencies", inv.sub.site, int(id))
	}
	return artifact, nil
}

// DependencyContent returns the byte content of a declared value
// dependency. Reading artifacts that were not declared at registration
// time is refused: read access is scoped to the declared set.
func (inv *Invocation) DependencyContent(id buildgraph.ArtifactID) ([]byte, error) {
	artifact, err := inv.dependency(id)
	if err != nil {
		return nil, err
	}
	return artifact.Content()
}

// DependencyDirectory returns the entries of a directory-shaped value
// dependency, supporting traversal of its named indirections.
func (inv *Invocation) DependencyDirectory(id buildgraph.ArtifactID) ([]buildgraph.DirectoryEntry, error) {
	artifact, err := inv.dependency(id)
	if err != nil {
		return nil, err
	}
	return artifact.DirectoryEntries()
}

// Outputs returns sinks for all output slots this invocation owns, in
// registration order.
func (inv *Invocation) Outputs() []*OutputSink {
	sinks := make([]*OutputSink, 0, len(inv.outputs))
	for _, slot := range inv.outputs {
		sinks = append(sinks, &OutputSink{invocation: inv, slot: slot})
	}
	return sinks
}

// Output returns the sink for one owned output slot. Slots that were
// not declared against this spec cannot be written: the invocation has
// exclusive write ownership only of its own slots.
func (inv *Invocation) Output(slot *buildgraph.OutputSlot) (*OutputSink, error) {
	for _, owned := range inv.outputs {
		if owned == slot {
			return &OutputSink{invocation: inv, slot: slot}, nil
		}
	}
	return nil, status.Errorf(codes.PermissionDenied, "%s does not own output slot %#v", inv.sub.site, slot.Name())
}

// OutputSink is the write handle for one declared output slot. A sink
// can be filled by a direct content write, a byte-identical copy of
// another artifact, or assembly of a symlink tree. Delegation to a
// nested spec goes through SubBuilder.RegisterDynamic instead, by
// listing the slot among the nested spec's outputs.
type OutputSink struct {
	invocation *Invocation
	slot       *buildgraph.OutputSlot
}

// Slot returns the output slot this sink fills.
func (s *OutputSink) Slot() *buildgraph.OutputSlot {
	return s.slot
}

// Write fills the slot with literal content.
func (s *OutputSink) Write(content []byte) error {
	return s.invocation.sub.EmitWrite(s.slot.Artifact(), content)
}

// CopyFrom fills the slot with a byte-identical copy of another
// artifact's content.
func (s *OutputSink) CopyFrom(source buildgraph.ArtifactID) error {
	return s.invocation.sub.EmitCopy(source, s.slot.Artifact())
}

// FromSymlinkTree fills the slot with a directory assembled from the
// given tree builder.
func (s *OutputSink) FromSymlinkTree(tree *SymlinkTreeBuilder) error {
	return s.invocation.sub.emitSymlinkTreeTo(s.slot.Artifact(), tree)
}
