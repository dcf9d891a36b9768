package dynamic

import (
	"pyrite.build/pkg/buildgraph"
)

// SymlinkTreeBuilder assembles a named mapping of artifacts into a
// single directory-shaped output. Entries reference the mapped
// artifacts without copying their content. Entries may be outputs of
// nested dynamic resolutions; the assembly action emitted for the tree
// depends on every entry, so it only runs once all of them are bound.
type SymlinkTreeBuilder struct {
	entries []buildgraph.DirectoryEntry
	names   map[string]struct{}
}

// NewSymlinkTreeBuilder creates an empty tree builder.
func NewSymlinkTreeBuilder() *SymlinkTreeBuilder {
	return &SymlinkTreeBuilder{
		names: map[string]struct{}{},
	}
}

// Add places an artifact into the tree under the given name. Names
// must be unique within one tree; a repeated name fails with
// DuplicateTreeEntryError, which is local to this tree-building call.
func (b *SymlinkTreeBuilder) Add(name string, target buildgraph.ArtifactID) error {
	if _, ok := b.names[name]; ok {
		return &DuplicateTreeEntryError{Name: name}
	}
	b.names[name] = struct{}{}
	b.entries = append(b.entries, buildgraph.DirectoryEntry{
		Name:   name,
		Target: target,
	})
	return nil
}

// Entries returns a copy of the tree's entries in insertion order.
func (b *SymlinkTreeBuilder) Entries() []buildgraph.DirectoryEntry {
	entries := make([]buildgraph.DirectoryEntry, len(b.entries))
	copy(entries, b.entries)
	return entries
}

func (b *SymlinkTreeBuilder) targets() []buildgraph.ArtifactID {
	targets := make([]buildgraph.ArtifactID, 0, len(b.entries))
	for _, entry := range b.entries {
		targets = append(targets, entry.Target)
	}
	return targets
}
