package buildgraph

import (
	"fmt"
)

// UnknownDependencyError is returned when an emitted action or a
// registered dynamic spec references an artifact that is not a node of
// the build graph. This failure is local to the emitting rule.
type UnknownDependencyError struct {
	Artifact ArtifactID
	Site     string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("%s references unknown artifact %d", e.Site, int(e.Artifact))
}

// DuplicateOutputOwnershipError is returned when two specs, or a spec
// and a static action, claim write ownership of the same output slot.
// This is a graph-wide correctness violation, detected at registration
// time before any execution begins for the slot's region.
type DuplicateOutputOwnershipError struct {
	Slot       string
	FirstOwner string
	NewOwner   string
}

func (e *DuplicateOutputOwnershipError) Error() string {
	return fmt.Sprintf(
		"output slot %#v is already owned by %s, cannot also be claimed by %s",
		e.Slot,
		e.FirstOwner,
		e.NewOwner,
	)
}

// SlotAlreadyBoundError is returned when an action attempts to bind an
// output slot that has already reached the Bound state. Slots have
// exactly one legal state transition, so a second producer is never
// permitted to race the first, even if it would write identical
// content.
type SlotAlreadyBoundError struct {
	Slot        string
	FirstWriter string
	NewWriter   string
}

func (e *SlotAlreadyBoundError) Error() string {
	return fmt.Sprintf(
		"output slot %#v was already bound by %s, refusing second bind by %s",
		e.Slot,
		e.FirstWriter,
		e.NewWriter,
	)
}
