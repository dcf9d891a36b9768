package dynamic

import (
	"context"
	"errors"

	"pyrite.build/pkg/buildgraph"
	"pyrite.build/pkg/identity"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ResolutionResult is the sub-graph a resolver invocation folded into
// the global graph: ordinary action nodes ready for scheduling and
// nested dynamic registrations, dormant like any other.
type ResolutionResult struct {
	Nodes      []buildgraph.NodeID
	Registered []*RegisteredNode
}

// NodeResolver executes registered dynamic nodes. It is invoked by the
// scheduler exactly once per node, only after every value dependency
// of the node's spec has been materialized.
type NodeResolver struct {
	registrar *Registrar
}

// NewNodeResolver creates a NodeResolver that merges emitted
// sub-graphs through the given registrar.
func NewNodeResolver(registrar *Registrar) *NodeResolver {
	return &NodeResolver{registrar: registrar}
}

// Resolve runs the node's resolver callback and merges its emitted
// sub-graph into the global graph.
//
// The callback runs synchronously and with exclusive write ownership
// of the node's declared output slots. When it returns, every owned
// slot must have been targeted by an emitted action or delegated to a
// nested registration; otherwise the node fails with
// UnboundOutputError. If the surrounding build was cancelled while the
// callback was running, the emitted sub-graph is discarded instead of
// merged.
func (nr *NodeResolver) Resolve(ctx context.Context, node *RegisteredNode) (ResolutionResult, error) {
	payload := node.Payload
	spec := payload.Spec()
	graph := nr.registrar.Graph()

	deps := make(map[buildgraph.ArtifactID]*buildgraph.Artifact, len(spec.Dependencies))
	for _, dep := range spec.Dependencies {
		artifact, ok := graph.Artifact(dep)
		if !ok {
			return ResolutionResult{}, &buildgraph.UnknownDependencyError{Artifact: dep, Site: payload.Site()}
		}
		if !artifact.IsMaterialized() {
			return ResolutionResult{}, status.Errorf(codes.Internal, "Resolver for %s was invoked before value dependency %#v was materialized", payload.Site(), artifact.Name())
		}
		deps[dep] = artifact
	}

	sub := newSubBuilder(graph, nr.registrar.Allocator(), payload.ruleSite, payload.Namespace(), spec.Outputs)
	invocation := &Invocation{
		graph:    graph,
		deps:     deps,
		outputs:  spec.Outputs,
		argument: spec.Argument,
		sub:      sub,
	}

	if err := spec.Resolver.Resolve(ctx, invocation); err != nil {
		sub.lock.Lock()
		sub.closed = true
		sub.lock.Unlock()
		return ResolutionResult{}, wrapCallbackError(payload.Site(), err)
	}

	if err := sub.close(spec.Outputs); err != nil {
		return ResolutionResult{}, err
	}

	// The build may have been cancelled while the callback was
	// running. The callback was allowed to finish, but its emitted
	// sub-graph must not become part of the global graph.
	if err := ctx.Err(); err != nil {
		return ResolutionResult{}, err
	}
	return sub.merge(nr.registrar)
}

// wrapCallbackError classifies a failure that escaped the callback.
// Violations of global invariants (identity collisions, duplicate
// output ownership) pass through unchanged, so that the scheduler can
// fail the whole build. Everything else is a node-local
// ResolutionFailedError.
func wrapCallbackError(site string, err error) error {
	var collisionErr *identity.CollisionError
	var ownershipErr *buildgraph.DuplicateOutputOwnershipError
	var unknownErr *buildgraph.UnknownDependencyError
	var unboundErr *UnboundOutputError
	var treeErr *DuplicateTreeEntryError
	if errors.As(err, &collisionErr) ||
		errors.As(err, &ownershipErr) ||
		errors.As(err, &unknownErr) ||
		errors.As(err, &unboundErr) ||
		errors.As(err, &treeErr) {
		return err
	}
	return &ResolutionFailedError{Site: site, Reason: err}
}
