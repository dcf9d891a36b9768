// Package dynamic implements deferred, content-dependent expansion of
// the build graph. A rule registers a spec whose resolver callback only
// runs once the content of its declared dependencies is available. The
// callback may read that content, fill output slots the rule advertised
// up front, and emit further actions, including nested dynamic specs
// that themselves expand the graph later.
package dynamic

import (
	"context"

	"pyrite.build/pkg/buildgraph"
	"pyrite.build/pkg/identity"
)

// Resolver is the capability carried by a dynamic action spec. It is a
// single-operation interface by design: user callbacks are stored as a
// closure or trait object alongside their captured argument payload and
// invoked exactly once per registered node.
type Resolver interface {
	Resolve(ctx context.Context, invocation *Invocation) error
}

// ResolverFunc adapts an ordinary function to the Resolver interface.
type ResolverFunc func(ctx context.Context, invocation *Invocation) error

// Resolve calls the wrapped function.
func (f ResolverFunc) Resolve(ctx context.Context, invocation *Invocation) error {
	return f(ctx, invocation)
}

// Spec is a user-authored descriptor of one dynamic action. It is
// immutable after registration: the registrar copies the slices it
// contains, so later mutation by the caller has no effect.
//
// The argument payload crosses the deferred-evaluation boundary. It
// must be self-contained: artifact references and plain values only,
// never live handles to mutable external state.
type Spec struct {
	// Artifacts whose materialized content the resolver needs.
	// They must already be known to the graph at registration time.
	Dependencies []buildgraph.ArtifactID
	// Output slots this spec promises to fill, directly or by
	// delegating them to nested specs.
	Outputs []*buildgraph.OutputSlot
	// Opaque payload threaded through to the resolver callback.
	Argument any
	// The deferred computation itself.
	Resolver Resolver
}

// Payload is the graph-node payload of a registered dynamic action. The
// scheduler treats such a node like any other action; its execution is
// one resolver invocation.
type Payload struct {
	spec      Spec
	namespace identity.Identifier
	ruleSite  string
	site      string
}

var dynamicCategory = identity.MustNewCategory("dynamic")

// ActionCategory returns the identity category under which dynamic
// actions are registered.
func (*Payload) ActionCategory() identity.Category {
	return dynamicCategory
}

// DeferredBinding marks the outgoing edges of a dynamic node as
// promises: the actions emitted during resolution become the actual
// producers of the declared output slots.
func (*Payload) DeferredBinding() {}

// Spec returns the registered descriptor.
func (p *Payload) Spec() *Spec {
	return &p.spec
}

// Namespace returns the identifier prefix under which emissions of this
// node's resolver invocation are placed.
func (p *Payload) Namespace() identity.Identifier {
	return p.namespace
}

// Site returns a description of the registration point, used to
// attribute failures.
func (p *Payload) Site() string {
	return p.site
}

// RegisteredNode is the handle returned by the registrar. The node
// remains dormant in the graph until the scheduler observes that all of
// its value dependencies are materialized.
type RegisteredNode struct {
	ID      buildgraph.NodeID
	Payload *Payload
}
