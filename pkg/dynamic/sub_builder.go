package dynamic

import (
	"sync"

	"pyrite.build/pkg/buildgraph"
	"pyrite.build/pkg/identity"

	"github.com/buildbarn/bb-storage/pkg/util"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type stagedNode struct {
	identity identity.ActionIdentity
	payload  buildgraph.ActionPayload
	deps     []buildgraph.ArtifactID
	outputs  []buildgraph.ArtifactID
}

// SubBuilder is the emission context handed to one resolver
// invocation. It owns the namespace prefix that disambiguates the
// identities of actions emitted during the invocation, and it buffers
// those emissions until the invocation completes: only then is the
// sub-graph merged into the global graph. If the build is cancelled
// while the callback is still running, the buffered sub-graph is
// discarded.
//
// Identity allocation is not buffered. Identities are consumed from
// the build-wide allocator at emission time, because collisions
// introduced by dynamic expansion can only be detected then.
type SubBuilder struct {
	graph     *buildgraph.Graph
	allocator *identity.Allocator
	ruleSite  string
	namespace identity.Identifier
	site      string
	owned     map[*buildgraph.OutputSlot]struct{}

	lock           sync.Mutex
	closed         bool
	staged         []stagedNode
	stagedPayloads []*Payload
	emittedTargets map[buildgraph.ArtifactID]struct{}
	delegated      map[*buildgraph.OutputSlot]struct{}
}

func newSubBuilder(graph *buildgraph.Graph, allocator *identity.Allocator, ruleSite string, namespace identity.Identifier, owned []*buildgraph.OutputSlot) *SubBuilder {
	ownedSet := make(map[*buildgraph.OutputSlot]struct{}, len(owned))
	for _, slot := range owned {
		ownedSet[slot] = struct{}{}
	}
	return &SubBuilder{
		graph:          graph,
		allocator:      allocator,
		ruleSite:       ruleSite,
		namespace:      namespace,
		site:           nodeSite(ruleSite, namespace),
		owned:          ownedSet,
		emittedTargets: map[buildgraph.ArtifactID]struct{}{},
		delegated:      map[*buildgraph.OutputSlot]struct{}{},
	}
}

// Namespace returns the identifier prefix under which this context's
// emissions are placed.
func (s *SubBuilder) Namespace() identity.Identifier {
	return s.namespace
}

// Site returns a description of this context's resolver invocation.
func (s *SubBuilder) Site() string {
	return s.site
}

// DeclareArtifact creates a fresh pending artifact owned by this
// context. The artifact is only visible within the invocation's
// emitted sub-graph, unless it is bound to an output slot or placed in
// a symlink tree.
func (s *SubBuilder) DeclareArtifact(name string) buildgraph.ArtifactID {
	return s.graph.DeclareArtifact(name)
}

// DeclareOutputSlot creates a fresh output slot scoped to this
// invocation, beyond the ones the outer rule declared. A nested spec
// registered by this context may claim it like any other slot.
func (s *SubBuilder) DeclareOutputSlot(name string) *buildgraph.OutputSlot {
	return s.graph.DeclareOutputSlot(name, s.site)
}

func (s *SubBuilder) emitLocked(payload buildgraph.ActionPayload, deps []buildgraph.ArtifactID, target buildgraph.ArtifactID) error {
	if s.closed {
		return status.Errorf(codes.FailedPrecondition, "Sub-builder of %s was used after its resolver invocation returned", s.site)
	}
	targetArtifact, ok := s.graph.Artifact(target)
	if !ok {
		return status.Errorf(codes.InvalidArgument, "%s emits an action targeting unknown artifact %d", s.site, int(target))
	}
	for _, dep := range deps {
		if _, ok := s.graph.Artifact(dep); !ok {
			return &buildgraph.UnknownDependencyError{Artifact: dep, Site: s.site}
		}
	}
	if _, ok := s.emittedTargets[target]; ok {
		return &buildgraph.DuplicateOutputOwnershipError{
			Slot:       targetArtifact.Name(),
			FirstOwner: s.site,
			NewOwner:   s.site,
		}
	}

	identifier, err := identity.NewIdentifier(targetArtifact.Name())
	if err != nil {
		return util.StatusWrapfWithCode(err, codes.InvalidArgument, "Artifact name %#v cannot be used as an action identifier", targetArtifact.Name())
	}
	actionIdentity := identity.ActionIdentity{
		Category:   payload.ActionCategory(),
		Identifier: s.namespace.GetPrefixed(identifier),
	}
	if err := s.allocator.Allocate(actionIdentity, s.site); err != nil {
		return err
	}

	s.staged = append(s.staged, stagedNode{
		identity: actionIdentity,
		payload:  payload,
		deps:     deps,
		outputs:  []buildgraph.ArtifactID{target},
	})
	s.emittedTargets[target] = struct{}{}
	return nil
}

// EmitWrite emits an ordinary action that materializes the target
// artifact with literal content.
func (s *SubBuilder) EmitWrite(target buildgraph.ArtifactID, content []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.emitLocked(
		buildgraph.WriteAction{Target: target, Content: content},
		nil,
		target,
	)
}

// EmitCopy emits an ordinary action that materializes the target
// artifact with a byte-identical copy of the source artifact.
func (s *SubBuilder) EmitCopy(source, target buildgraph.ArtifactID) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.emitLocked(
		buildgraph.CopyAction{Source: source, Target: target},
		[]buildgraph.ArtifactID{source},
		target,
	)
}

// EmitCommand emits an ordinary action that runs a process and
// materializes the target artifact with its standard output.
func (s *SubBuilder) EmitCommand(arguments []string, environment map[string]string, inputs []buildgraph.ArtifactID, target buildgraph.ArtifactID) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.emitLocked(
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

// EmitSymlinkTree declares a fresh directory-shaped artifact and emits
// the assembly action that fills it with the builder's entries. The
// assembly waits for every entry to be materialized, including entries
// that are outputs of nested dynamic resolutions.
func (s *SubBuilder) EmitSymlinkTree(name string, tree *SymlinkTreeBuilder) (buildgraph.ArtifactID, error) {
	target := s.graph.DeclareArtifact(name)
	if err := s.emitSymlinkTreeTo(target, tree); err != nil {
		return buildgraph.InvalidArtifact, err
	}
	return target, nil
}

func (s *SubBuilder) emitSymlinkTreeTo(target buildgraph.ArtifactID, tree *SymlinkTreeBuilder) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	entries := make([]buildgraph.DirectoryEntry, len(tree.entries))
	copy(entries, tree.entries)
	return s.emitLocked(
		buildgraph.SymlinkTreeAction{Entries: entries, Target: target},
		tree.targets(),
		target,
	)
}

// RegisterDynamic stages a nested dynamic spec under this context's
// namespace. A nested spec may delegate output slots owned by this
// invocation, in which case the binding obligation transfers to the
// nested node, or claim freshly declared slots of its own.
func (s *SubBuilder) RegisterDynamic(name identity.Identifier, spec Spec) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return status.Errorf(codes.FailedPrecondition, "Sub-builder of %s was used after its resolver invocation returned", s.site)
	}
	for _, dep := range spec.Dependencies {
		if _, ok := s.graph.Artifact(dep); !ok {
			return &buildgraph.UnknownDependencyError{Artifact: dep, Site: s.site}
		}
	}

	fullName := s.namespace.GetPrefixed(name)
	nestedSite := nodeSite(s.ruleSite, fullName)
	delegatedHere := make([]*buildgraph.OutputSlot, 0, len(spec.Outputs))
	for _, slot := range spec.Outputs {
		if _, owned := s.owned[slot]; owned {
			if err := slot.TransferClaim(s.site, nestedSite); err != nil {
				return err
			}
			delegatedHere = append(delegatedHere, slot)
		} else if err := slot.Claim(nestedSite); err != nil {
			return err
		}
	}

	if err := s.allocator.Allocate(identity.ActionIdentity{
		Category:   dynamicCategory,
		Identifier: fullName,
	}, nestedSite); err != nil {
		return err
	}

	s.stagedPayloads = append(s.stagedPayloads, &Payload{
		spec:      copySpec(spec),
		namespace: fullName,
		ruleSite:  s.ruleSite,
		site:      nestedSite,
	})
	for _, slot := range delegatedHere {
		s.delegated[slot] = struct{}{}
	}
	return nil
}

// close marks the context as destroyed and verifies that every output
// slot owned by the invocation has either been targeted by an emitted
// action or delegated to a staged nested spec. Binding itself may
// still be pending; the scheduler verifies the eventual Bound state at
// quiescence.
func (s *SubBuilder) close(outputs []*buildgraph.OutputSlot) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closed = true
	for _, slot := range outputs {
		if _, ok := s.emittedTargets[slot.Artifact()]; ok {
			continue
		}
		if _, ok := s.delegated[slot]; ok {
			continue
		}
		return &UnboundOutputError{Slot: slot.Name(), Owner: s.site}
	}
	return nil
}

// merge folds the buffered sub-graph into the global graph. It returns
// the inserted ordinary nodes and the nested dynamic registrations, so
// that the scheduler can pick them up.
func (s *SubBuilder) merge(registrar *Registrar) (ResolutionResult, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	var result ResolutionResult
	for _, staged := range s.staged {
		id, err := s.graph.AddNode(staged.identity, s.site, staged.payload, staged.deps, staged.outputs)
		if err != nil {
			return ResolutionResult{}, err
		}
		result.Nodes = append(result.Nodes, id)
	}
	for _, payload := range s.stagedPayloads {
		registered, err := registrar.insert(payload)
		if err != nil {
			return ResolutionResult{}, err
		}
		result.Registered = append(result.Registered, registered)
	}
	return result, nil
}
