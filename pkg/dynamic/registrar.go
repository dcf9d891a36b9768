package dynamic

import (
	"pyrite.build/pkg/buildgraph"
	"pyrite.build/pkg/identity"
)

// Registrar accepts dynamic action specs from rule bodies and inserts
// dormant nodes into the build graph. Registration returns
// immediately; the resolver callback is only invoked once the
// scheduler observes that all of the spec's value dependencies are
// materialized.
type Registrar struct {
	graph     *buildgraph.Graph
	allocator *identity.Allocator
}

// NewRegistrar creates a Registrar that inserts nodes into the given
// graph and consults the given build-wide identity allocator.
func NewRegistrar(graph *buildgraph.Graph, allocator *identity.Allocator) *Registrar {
	return &Registrar{
		graph:     graph,
		allocator: allocator,
	}
}

// Graph returns the graph registrations are inserted into.
func (r *Registrar) Graph() *buildgraph.Graph {
	return r.graph
}

// Allocator returns the build-wide identity allocator.
func (r *Registrar) Allocator() *identity.Allocator {
	return r.allocator
}

func nodeSite(site string, name identity.Identifier) string {
	return site + "@" + name.String()
}

// Register inserts a dynamic action node for the given spec. The name
// must be unique among all dynamic registrations of the build; it
// doubles as the namespace under which the resolver invocation's own
// emissions are placed.
//
// Registration fails with UnknownDependencyError if the spec
// references artifacts the graph does not know, and with
// DuplicateOutputOwnershipError if one of its output slots is already
// claimed by another spec or static action.
func (r *Registrar) Register(site string, name identity.Identifier, spec Spec) (*RegisteredNode, error) {
	for _, dep := range spec.Dependencies {
		if _, ok := r.graph.Artifact(dep); !ok {
			return nil, &buildgraph.UnknownDependencyError{Artifact: dep, Site: site}
		}
	}

	owner := nodeSite(site, name)
	for _, slot := range spec.Outputs {
		if err := slot.Claim(owner); err != nil {
			return nil, err
		}
	}

	payload := &Payload{
		spec:      copySpec(spec),
		namespace: name,
		ruleSite:  site,
		site:      owner,
	}
	if err := r.allocator.Allocate(identity.ActionIdentity{
		Category:   payload.ActionCategory(),
		Identifier: name,
	}, owner); err != nil {
		return nil, err
	}
	return r.insert(payload)
}

// insert places an already claimed and identity-allocated dynamic
// payload into the graph. Nested registrations staged by a sub-builder
// go through this path at merge time.
func (r *Registrar) insert(payload *Payload) (*RegisteredNode, error) {
	outputs := make([]buildgraph.ArtifactID, 0, len(payload.spec.Outputs))
	for _, slot := range payload.spec.Outputs {
		outputs = append(outputs, slot.Artifact())
	}
	id, err := r.graph.AddNode(
		identity.ActionIdentity{
			Category:   payload.ActionCategory(),
			Identifier: payload.namespace,
		},
		payload.site,
		payload,
		payload.spec.Dependencies,
		outputs,
	)
	if err != nil {
		return nil, err
	}
	return &RegisteredNode{ID: id, Payload: payload}, nil
}

func copySpec(spec Spec) Spec {
	deps := make([]buildgraph.ArtifactID, len(spec.Dependencies))
	copy(deps, spec.Dependencies)
	outputs := make([]*buildgraph.OutputSlot, len(spec.Outputs))
	copy(outputs, spec.Outputs)
	return Spec{
		Dependencies: deps,
		Outputs:      outputs,
		Argument:     spec.Argument,
		Resolver:     spec.Resolver,
	}
}
