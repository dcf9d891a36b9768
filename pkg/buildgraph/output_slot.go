package buildgraph

import (
	"sync"
)

// SlotState is the lifecycle state of an OutputSlot.
type SlotState int

const (
	// SlotDeclared means the slot exists as a placeholder, but no
	// action has materialized its content yet.
	SlotDeclared SlotState = iota
	// SlotBound means exactly one action has filled the slot.
	SlotBound
)

// OutputSlot is a placeholder handle for an output path that the outer
// rule advertised to its dependents before any dynamic computation ran.
// It is modeled as an explicit two-state handle with a single legal
// transition, rather than a generic promise: multiple independent
// producers must never race to bind the same slot, so the single-writer
// discipline is enforced here instead of at each call site.
type OutputSlot struct {
	artifact   ArtifactID
	name       string
	declaredBy string

	lock    sync.Mutex
	state   SlotState
	owner   string
	boundBy string
}

// Artifact returns the placeholder artifact that dependents of the
// declaring rule reference.
func (s *OutputSlot) Artifact() ArtifactID {
	return s.artifact
}

// Name returns the name the slot was declared under.
func (s *OutputSlot) Name() string {
	return s.name
}

// DeclaredBy returns the site of the declaring rule, used to attribute
// unbound-output failures.
func (s *OutputSlot) DeclaredBy() string {
	return s.declaredBy
}

// State returns the slot's current lifecycle state.
func (s *OutputSlot) State() SlotState {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

// Claim grants exclusive write ownership of the slot to a single spec
// or static action. Claiming is separate from binding: a dynamic spec
// claims all of its declared slots at registration time, long before
// any of them is filled, so that conflicting registrations are
// reported before execution begins for the slot's region.
//
// Reclaiming a slot under the same owner is permitted, so that an
// owner may delegate the slot to a nested spec registered under its
// own namespace.
func (s *OutputSlot) Claim(owner string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.state == SlotBound {
		return &DuplicateOutputOwnershipError{
			Slot:       s.name,
			FirstOwner: s.boundBy,
			NewOwner:   owner,
		}
	}
	if s.owner != "" && s.owner != owner {
		return &DuplicateOutputOwnershipError{
			Slot:       s.name,
			FirstOwner: s.owner,
			NewOwner:   owner,
		}
	}
	s.owner = owner
	return nil
}

// TransferClaim moves ownership of the slot from the current owner to
// a nested spec that will bind it. The slot remains Declared; only the
// party responsible for the eventual bind changes.
func (s *OutputSlot) TransferClaim(from, to string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.state == SlotBound || (s.owner != "" && s.owner != from) {
		return &DuplicateOutputOwnershipError{
			Slot:       s.name,
			FirstOwner: s.owner,
			NewOwner:   to,
		}
	}
	s.owner = to
	return nil
}

// Bind transitions the slot from Declared to Bound. The transition is
// legal exactly once; the content itself is carried by the slot's
// placeholder artifact, which the binding action materializes.
func (s *OutputSlot) Bind(writer string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.state == SlotBound {
		return &SlotAlreadyBoundError{
			Slot:        s.name,
			FirstWriter: s.boundBy,
			NewWriter:   writer,
		}
	}
	s.state = SlotBound
	s.boundBy = writer
	return nil
}
