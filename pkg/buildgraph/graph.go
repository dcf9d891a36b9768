// Package buildgraph provides the arena in which the build's actions,
// artifacts and output slots live. The arena is designed to grow while
// the build is already executing: dynamic resolution inserts new nodes
// that reference existing artifacts by stable integer index, and can
// itself be referenced by nodes inserted later.
package buildgraph

import (
	"sync"

	"pyrite.build/pkg/identity"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NodeID addresses an action node within the arena of a single build
// graph.
type NodeID int

// InvalidNode is the zero value of NodeID. It is used as the producer
// of source artifacts.
const InvalidNode NodeID = 0

// ActionPayload describes what an action node does once its
// dependencies are materialized. Ordinary payloads are declared in
// this package; the dynamic-action payload lives in pkg/dynamic, as it
// carries the resolver capability.
type ActionPayload interface {
	ActionCategory() identity.Category
}

// WriteAction materializes its target artifact with literal content.
type WriteAction struct {
	Target  ArtifactID
	Content []byte
}

// ActionCategory returns the identity category under which write
// actions are emitted.
func (WriteAction) ActionCategory() identity.Category {
	return identity.MustNewCategory("write")
}

// CopyAction materializes its target artifact with a byte-identical
// copy of the source artifact's content.
type CopyAction struct {
	Source ArtifactID
	Target ArtifactID
}

// ActionCategory returns the identity category under which copy
// actions are emitted.
func (CopyAction) ActionCategory() identity.Category {
	return identity.MustNewCategory("copy")
}

// SymlinkTreeAction materializes its target as a directory-shaped
// artifact whose entries are indirections to the mapped artifacts. The
// entries' content is preserved without copying.
type SymlinkTreeAction struct {
	Entries []DirectoryEntry
	Target  ArtifactID
}

// ActionCategory returns the identity category under which symlink
// tree assembly actions are emitted.
func (SymlinkTreeAction) ActionCategory() identity.Category {
	return identity.MustNewCategory("symlink_tree")
}

// CommandAction runs a process through the build's Executor and
// materializes its target artifact with the process's standard output.
// The process backend itself is an external collaborator.
type CommandAction struct {
	Arguments   []string
	Environment map[string]string
	Inputs      []ArtifactID
	Target      ArtifactID
}

// ActionCategory returns the identity category under which command
// actions are emitted.
func (CommandAction) ActionCategory() identity.Category {
	return identity.MustNewCategory("command")
}

// Node is one action in the build graph, either fully specified at
// analysis time or inserted during dynamic resolution.
type Node struct {
	id       NodeID
	identity identity.ActionIdentity
	site     string
	deps     []ArtifactID
	outputs  []ArtifactID
	payload  ActionPayload
}

// ID returns the node's index in the graph arena.
func (n *Node) ID() NodeID {
	return n.id
}

// Identity returns the node's globally unique (category, identifier)
// key.
func (n *Node) Identity() identity.ActionIdentity {
	return n.identity
}

// Site returns a description of the emission point, used to attribute
// failures to the authoring rule.
func (n *Node) Site() string {
	return n.site
}

// Dependencies returns the artifacts that must be materialized before
// the node may execute.
func (n *Node) Dependencies() []ArtifactID {
	return n.deps
}

// Outputs returns the artifacts the node materializes upon completion.
func (n *Node) Outputs() []ArtifactID {
	return n.outputs
}

// Payload returns the description of what the node does.
func (n *Node) Payload() ActionPayload {
	return n.payload
}

// Graph is the arena holding all nodes and artifacts of one build. It
// is safe for concurrent use: growth is serialized on the graph lock,
// while artifact and slot state transitions are serialized per entry.
type Graph struct {
	lock      sync.RWMutex
	nodes     []*Node
	artifacts []*Artifact
	slots     map[ArtifactID]*OutputSlot
	producers map[ArtifactID]string
}

// NewGraph creates an empty build graph. Index zero of both arenas is
// reserved, so that zero-valued IDs never alias real entries.
func NewGraph() *Graph {
	return &Graph{
		nodes:     []*Node{nil},
		artifacts: []*Artifact{nil},
		slots:     map[ArtifactID]*OutputSlot{},
		producers: map[ArtifactID]string{},
	}
}

func (g *Graph) addArtifactLocked(a *Artifact) ArtifactID {
	id := ArtifactID(len(g.artifacts))
	g.artifacts = append(g.artifacts, a)
	return id
}

// AddSourceArtifact inserts an artifact that is materialized up front,
// such as a checked-in source file. Source artifacts have no producer.
func (g *Graph) AddSourceArtifact(name string, content []byte) ArtifactID {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.addArtifactLocked(&Artifact{
		name:         name,
		materialized: true,
		content:      content,
	})
}

// DeclareArtifact inserts a pending artifact. The artifact remains
// unreadable until the node that lists it as an output completes.
func (g *Graph) DeclareArtifact(name string) ArtifactID {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.addArtifactLocked(&Artifact{name: name})
}

// DeclareOutputSlot inserts a pending artifact together with the
// two-state handle that tracks its deferred binding. The declaring
// rule advertises the slot's artifact to its dependents; some action
// emitted later, possibly by a nested dynamic resolution, must bind
// it.
func (g *Graph) DeclareOutputSlot(name, declaredBy string) *OutputSlot {
	g.lock.Lock()
	defer g.lock.Unlock()
	slot := &OutputSlot{
		artifact:   g.addArtifactLocked(&Artifact{name: name}),
		name:       name,
		declaredBy: declaredBy,
	}
	g.slots[slot.artifact] = slot
	return slot
}

// Artifact looks up an artifact by index. The second return value
// reports whether the index refers to a real arena entry.
func (g *Graph) Artifact(id ArtifactID) (*Artifact, bool) {
	g.lock.RLock()
	defer g.lock.RUnlock()
	if id <= 0 || int(id) >= len(g.artifacts) {
		return nil, false
	}
	return g.artifacts[id], true
}

// SlotForArtifact returns the output slot whose placeholder artifact
// is the given one, if any.
func (g *Graph) SlotForArtifact(id ArtifactID) (*OutputSlot, bool) {
	g.lock.RLock()
	defer g.lock.RUnlock()
	slot, ok := g.slots[id]
	return slot, ok
}

// Slots returns all output slots that were declared against this
// graph.
func (g *Graph) Slots() []*OutputSlot {
	g.lock.RLock()
	defer g.lock.RUnlock()
	slots := make([]*OutputSlot, 0, len(g.slots))
	for _, slot := range g.slots {
		slots = append(slots, slot)
	}
	return slots
}

// Node looks up a node by index.
func (g *Graph) Node(id NodeID) (*Node, bool) {
	g.lock.RLock()
	defer g.lock.RUnlock()
	if id <= 0 || int(id) >= len(g.nodes) {
		return nil, false
	}
	return g.nodes[id], true
}

// DeferredBindingPayload is implemented by payloads whose outgoing
// edges are promises rather than direct materializations. Such a node
// does not become the producer of its output artifacts; the actions it
// emits during resolution do.
type DeferredBindingPayload interface {
	ActionPayload
	DeferredBinding()
}

// AddNode inserts an action node. All dependency artifacts must
// already exist in the arena, and every output artifact must not yet
// have a producing node. The caller is responsible for having
// allocated the node's identity against the build's identity
// allocator before insertion.
func (g *Graph) AddNode(
	actionIdentity identity.ActionIdentity,
	site string,
	payload ActionPayload,
	deps []ArtifactID,
	outputs []ArtifactID,
) (NodeID, error) {
	g.lock.Lock()
	defer g.lock.Unlock()

	for _, dep := range deps {
		if dep <= 0 || int(dep) >= len(g.artifacts) {
			return InvalidNode, &UnknownDependencyError{Artifact: dep, Site: site}
		}
	}
	_, deferred := payload.(DeferredBindingPayload)
	for _, output := range outputs {
		if output <= 0 || int(output) >= len(g.artifacts) {
			return InvalidNode, status.Errorf(codes.InvalidArgument, "%s declares unknown artifact %d as output", site, int(output))
		}
		if deferred {
			continue
		}
		if g.artifacts[output].IsMaterialized() {
			return InvalidNode, &DuplicateOutputOwnershipError{
				Slot:       g.artifacts[output].name,
				FirstOwner: "a materialized artifact",
				NewOwner:   site,
			}
		}
		if firstProducer, ok := g.producers[output]; ok {
			return InvalidNode, &DuplicateOutputOwnershipError{
				Slot:       g.artifacts[output].name,
				FirstOwner: firstProducer,
				NewOwner:   site,
			}
		}
	}
	if !deferred {
		// A non-deferred action producing a slot's placeholder takes
		// the claim itself, so that a dynamic spec registered later
		// against the same slot is rejected before execution begins,
		// and vice versa.
		for _, output := range outputs {
			if slot, ok := g.slots[output]; ok {
				if err := slot.Claim(site); err != nil {
					return InvalidNode, err
				}
			}
		}
	}

	id := NodeID(len(g.nodes))
	node := &Node{
		id:       id,
		identity: actionIdentity,
		site:     site,
		deps:     deps,
		outputs:  outputs,
		payload:  payload,
	}
	g.nodes = append(g.nodes, node)
	if !deferred {
		for _, output := range outputs {
			g.producers[output] = site
			g.artifacts[output].producer = id
		}
	}
	return id, nil
}

// SetArtifactContent materializes an artifact with byte content. Only
// the node that owns the artifact may call this, upon completion.
func (g *Graph) SetArtifactContent(id ArtifactID, content []byte) error {
	artifact, ok := g.Artifact(id)
	if !ok {
		return status.Errorf(codes.InvalidArgument, "Cannot materialize unknown artifact %d", int(id))
	}
	return artifact.setContent(content)
}

// SetArtifactDirectory materializes an artifact as a directory of
// named indirections.
func (g *Graph) SetArtifactDirectory(id ArtifactID, entries []DirectoryEntry) error {
	artifact, ok := g.Artifact(id)
	if !ok {
		return status.Errorf(codes.InvalidArgument, "Cannot materialize unknown artifact %d", int(id))
	}
	return artifact.setDirectory(entries)
}
