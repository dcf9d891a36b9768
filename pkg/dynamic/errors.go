package dynamic

import (
	"fmt"
)

// UnboundOutputError is returned when a resolver invocation, including
// the transitive closure of its nested delegations, completed without
// binding one of its declared output slots. The failure is local to
// the node that owns the slot; sibling nodes continue.
type UnboundOutputError struct {
	Slot  string
	Owner string
}

func (e *UnboundOutputError) Error() string {
	return fmt.Sprintf("output slot %#v owned by %s was never bound", e.Slot, e.Owner)
}

// DuplicateTreeEntryError is returned when a symlink tree is assembled
// with two artifacts under the same name. This is a failure of the
// tree-building call only; it is unrelated to action identity
// collisions.
type DuplicateTreeEntryError struct {
	Name string
}

func (e *DuplicateTreeEntryError) Error() string {
	return fmt.Sprintf("symlink tree contains two entries named %#v", e.Name)
}

// ResolutionFailedError wraps a failure that originated inside user
// callback logic. Resolution is not retried: the callback may already
// have emitted actions and consumed identities before failing, so
// rerunning it blindly would not be safe.
type ResolutionFailedError struct {
	Site   string
	Reason error
}

func (e *ResolutionFailedError) Error() string {
	return fmt.Sprintf("resolution of %s failed: %s", e.Site, e.Reason)
}

func (e *ResolutionFailedError) Unwrap() error {
	return e.Reason
}
