package buildgraph

import (
	"sort"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ArtifactID addresses an artifact within the arena of a single build
// graph. Indices are stable: artifacts created while a resolver
// invocation is in progress can reference artifacts that already
// exist, and can in turn be referenced by artifacts created later,
// without any lifetime hazards.
type ArtifactID int

// InvalidArtifact is the zero value of ArtifactID. The arena reserves
// index zero, so that accidentally uninitialized references are caught
// instead of silently aliasing a real artifact.
const InvalidArtifact ArtifactID = 0

// DirectoryEntry is a single named indirection inside a
// directory-shaped artifact. Entries reference their targets by
// artifact, preserving the target's own content without copying.
type DirectoryEntry struct {
	Name   string
	Target ArtifactID
}

// Artifact is a node in the build graph that carries content. An
// artifact is owned by the action that declares it as an output;
// source artifacts have no producer and are materialized up front.
//
// Access to an artifact's content from a resolver invocation is a
// borrowed, read-only view that only becomes valid once the owning
// action has completed.
type Artifact struct {
	name     string
	producer NodeID

	lock         sync.Mutex
	materialized bool
	content      []byte
	directory    []DirectoryEntry
}

// Name returns the display name the artifact was declared under.
func (a *Artifact) Name() string {
	return a.name
}

// Producer returns the node that owns this artifact, or InvalidNode
// for source artifacts.
func (a *Artifact) Producer() NodeID {
	return a.producer
}

// IsMaterialized returns whether the artifact's content is available
// for reading.
func (a *Artifact) IsMaterialized() bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.materialized
}

// Content returns a copy of the artifact's byte content, so that a
// caller mutating the returned slice cannot corrupt the view observed
// by concurrent resolver invocations. It fails if the artifact has not
// been materialized yet, or if it is directory shaped.
func (a *Artifact) Content() ([]byte, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	if !a.materialized {
		return nil, status.Errorf(codes.FailedPrecondition, "Artifact %#v has not been materialized", a.name)
	}
	if a.directory != nil {
		return nil, status.Errorf(codes.InvalidArgument, "Artifact %#v is directory shaped", a.name)
	}
	content := make([]byte, len(a.content))
	copy(content, a.content)
	return content, nil
}

// DirectoryEntries returns the entries of a directory-shaped artifact,
// sorted by name. It fails if the artifact has not been materialized
// yet, or if it carries plain byte content.
func (a *Artifact) DirectoryEntries() ([]DirectoryEntry, error) {
	a.lock.Lock()
	defer a.lock.Unlock()
	if !a.materialized {
		return nil, status.Errorf(codes.FailedPrecondition, "Artifact %#v has not been materialized", a.name)
	}
	if a.directory == nil {
		return nil, status.Errorf(codes.InvalidArgument, "Artifact %#v is not directory shaped", a.name)
	}
	entries := make([]DirectoryEntry, len(a.directory))
	copy(entries, a.directory)
	return entries, nil
}

func (a *Artifact) setContent(content []byte) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.materialized {
		return status.Errorf(codes.Internal, "Artifact %#v was materialized twice", a.name)
	}
	a.materialized = true
	a.content = content
	return nil
}

func (a *Artifact) setDirectory(entries []DirectoryEntry) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.materialized {
		return status.Errorf(codes.Internal, "Artifact %#v was materialized twice", a.name)
	}
	sorted := make([]DirectoryEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	a.materialized = true
	a.directory = sorted
	return nil
}
