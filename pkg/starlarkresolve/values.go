package starlarkresolve

import (
	"fmt"

	"pyrite.build/pkg/buildgraph"

	"go.starlark.net/starlark"
)

// Artifact is the Starlark handle of a build graph artifact. Handles
// are plain references: passing one around never copies or exposes the
// artifact's content.
type Artifact struct {
	ID buildgraph.ArtifactID

	name string
}

var _ starlark.Value = Artifact{}

func (a Artifact) String() string {
	return fmt.Sprintf("<artifact %s>", a.name)
}

// Type returns the Starlark type name of artifact handles.
func (Artifact) Type() string {
	return "artifact"
}

// Freeze is a no-op, as artifact handles are immutable.
func (Artifact) Freeze() {}

// Truth returns whether the handle is valid.
func (a Artifact) Truth() starlark.Bool {
	return a.ID != buildgraph.InvalidArtifact
}

// Hash returns a hash of the underlying artifact reference.
func (a Artifact) Hash() (uint32, error) {
	return uint32(a.ID) * 0x9e3779b9, nil
}

// Slot is the Starlark handle of an output slot declared by a rule.
type Slot struct {
	Slot *buildgraph.OutputSlot
}

var _ starlark.Value = Slot{}

func (s Slot) String() string {
	return fmt.Sprintf("<output_slot %s>", s.Slot.Name())
}

// Type returns the Starlark type name of output slot handles.
func (Slot) Type() string {
	return "output_slot"
}

// Freeze is a no-op. The slot's own single-writer discipline guards
// its state transitions.
func (Slot) Freeze() {}

// Truth returns whether the handle is valid.
func (s Slot) Truth() starlark.Bool {
	return s.Slot != nil
}

// Hash returns a hash of the underlying slot's placeholder artifact.
func (s Slot) Hash() (uint32, error) {
	return uint32(s.Slot.Artifact()) * 0x9e3779b9, nil
}

func artifactIDs(artifacts []Artifact) []buildgraph.ArtifactID {
	ids := make([]buildgraph.ArtifactID, 0, len(artifacts))
	for _, artifact := range artifacts {
		ids = append(ids, artifact.ID)
	}
	return ids
}

func outputSlots(slots []Slot) []*buildgraph.OutputSlot {
	outputs := make([]*buildgraph.OutputSlot, 0, len(slots))
	for _, slot := range slots {
		outputs = append(outputs, slot.Slot)
	}
	return outputs
}
