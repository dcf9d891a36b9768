package dynamic_test

import (
	"context"
	"testing"

	"pyrite.build/pkg/buildgraph"
	"pyrite.build/pkg/dynamic"
	"pyrite.build/pkg/identity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type resolverFixture struct {
	graph     *buildgraph.Graph
	registrar *dynamic.Registrar
	resolver  *dynamic.NodeResolver
}

func newResolverFixture() *resolverFixture {
	graph := buildgraph.NewGraph()
	registrar := dynamic.NewRegistrar(graph, identity.NewAllocator())
	return &resolverFixture{
		graph:     graph,
		registrar: registrar,
		resolver:  dynamic.NewNodeResolver(registrar),
	}
}

func (f *resolverFixture) register(t *testing.T, resolver dynamic.Resolver, deps []buildgraph.ArtifactID, outputs []*buildgraph.OutputSlot) *dynamic.RegisteredNode {
	t.Helper()
	node, err := f.registrar.Register("//pkg:rule", identity.MustNewIdentifier("dyn"), dynamic.Spec{
		Dependencies: deps,
		Outputs:      outputs,
		Resolver:     resolver,
	})
	require.NoError(t, err)
	return node
}

func TestNodeResolver(t *testing.T) {
	ctx := context.Background()

	t.Run("UnmaterializedDependency", func(t *testing.T) {
		// Invoking a resolver before its value dependencies are
		// available is a scheduling bug, not a user error.
		f := newResolverFixture()
		pending := f.graph.DeclareArtifact("pending.txt")
		slot := f.graph.DeclareOutputSlot("out.txt", "//pkg:rule")
		node := f.register(t, nopResolver, []buildgraph.ArtifactID{pending}, []*buildgraph.OutputSlot{slot})

		_, err := f.resolver.Resolve(ctx, node)
		require.Error(t, err)
		assert.Equal(t, codes.Internal, status.Code(err))
	})

	t.Run("ScopeExitUnbound", func(t *testing.T) {
		// A callback that returns successfully without filling or
		// delegating a declared output fails at scope exit.
		f := newResolverFixture()
		src := f.graph.AddSourceArtifact("src.txt", []byte("content"))
		slot := f.graph.DeclareOutputSlot("out.txt", "//pkg:rule")
		node := f.register(t, nopResolver, []buildgraph.ArtifactID{src}, []*buildgraph.OutputSlot{slot})

		_, err := f.resolver.Resolve(ctx, node)
		var unboundErr *dynamic.UnboundOutputError
		require.ErrorAs(t, err, &unboundErr)
		assert.Equal(t, "out.txt", unboundErr.Slot)
		assert.Equal(t, "//pkg:rule@dyn", unboundErr.Owner)
	})

	t.Run("UndeclaredRead", func(t *testing.T) {
		// Content access is scoped to the spec's declared
		// dependencies. Other artifacts may not even be
		// materialized yet.
		f := newResolverFixture()
		declared := f.graph.AddSourceArtifact("declared.txt", []byte("yes"))
		undeclared := f.graph.AddSourceArtifact("undeclared.txt", []byte("no"))
		slot := f.graph.DeclareOutputSlot("out.txt", "//pkg:rule")

		node := f.register(t, dynamic.ResolverFunc(func(ctx context.Context, invocation *dynamic.Invocation) error {
			if _, err := invocation.DependencyContent(undeclared); status.Code(err) != codes.PermissionDenied {
				return status.Errorf(codes.Internal, "Undeclared read was not rejected: %v", err)
			}
			content, err := invocation.DependencyContent(declared)
			if err != nil {
				return err
			}
			sink, err := invocation.Output(slot)
			if err != nil {
				return err
			}
			return sink.Write(content)
		}), []buildgraph.ArtifactID{declared}, []*buildgraph.OutputSlot{slot})

		_, err := f.resolver.Resolve(ctx, node)
		require.NoError(t, err)
	})

	t.Run("UnownedOutput", func(t *testing.T) {
		// Only slots listed in the spec may be filled by its
		// resolver.
		f := newResolverFixture()
		src := f.graph.AddSourceArtifact("src.txt", []byte("content"))
		owned := f.graph.DeclareOutputSlot("owned.txt", "//pkg:rule")
		foreign := f.graph.DeclareOutputSlot("foreign.txt", "//pkg:other")

		node := f.register(t, dynamic.ResolverFunc(func(ctx context.Context, invocation *dynamic.Invocation) error {
			if _, err := invocation.Output(foreign); status.Code(err) != codes.PermissionDenied {
				return status.Errorf(codes.Internal, "Unowned output was not rejected: %v", err)
			}
			sink, err := invocation.Output(owned)
			if err != nil {
				return err
			}
			return sink.Write([]byte("content"))
		}), []buildgraph.ArtifactID{src}, []*buildgraph.OutputSlot{owned})

		_, err := f.resolver.Resolve(ctx, node)
		require.NoError(t, err)
	})

	t.Run("EmissionAfterReturn", func(t *testing.T) {
		// The sub-builder is single-use. A callback that leaks it
		// and emits after returning must be rejected.
		f := newResolverFixture()
		src := f.graph.AddSourceArtifact("src.txt", []byte("content"))
		slot := f.graph.DeclareOutputSlot("out.txt", "//pkg:rule")

		var leaked *dynamic.SubBuilder
		node := f.register(t, dynamic.ResolverFunc(func(ctx context.Context, invocation *dynamic.Invocation) error {
			leaked = invocation.SubBuilder()
			sink, err := invocation.Output(slot)
			if err != nil {
				return err
			}
			return sink.Write([]byte("content"))
		}), []buildgraph.ArtifactID{src}, []*buildgraph.OutputSlot{slot})

		_, err := f.resolver.Resolve(ctx, node)
		require.NoError(t, err)

		target := leaked.DeclareArtifact("late.txt")
		err = leaked.EmitWrite(target, []byte("too late"))
		require.Error(t, err)
		assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	})

	t.Run("DuplicateEmissionTarget", func(t *testing.T) {
		// Two emitted actions materializing the same artifact
		// conflict even before the graph-level producer check, as
		// both would also collide on identity.
		f := newResolverFixture()
		src := f.graph.AddSourceArtifact("src.txt", []byte("content"))
		slot := f.graph.DeclareOutputSlot("out.txt", "//pkg:rule")

		node := f.register(t, dynamic.ResolverFunc(func(ctx context.Context, invocation *dynamic.Invocation) error {
			sub := invocation.SubBuilder()
			target := sub.DeclareArtifact("fresh.txt")
			if err := sub.EmitWrite(target, []byte("first")); err != nil {
				return err
			}
			return sub.EmitWrite(target, []byte("second"))
		}), []buildgraph.ArtifactID{src}, []*buildgraph.OutputSlot{slot})

		_, err := f.resolver.Resolve(ctx, node)
		var ownershipErr *buildgraph.DuplicateOutputOwnershipError
		require.ErrorAs(t, err, &ownershipErr)
		assert.Equal(t, "fresh.txt", ownershipErr.Slot)
	})

	t.Run("NamespacedIdentifiers", func(t *testing.T) {
		// Emissions of a resolution are placed under the
		// registration's namespace, so that two registrations may
		// both emit a "write fresh.txt" action without colliding.
		f := newResolverFixture()
		src := f.graph.AddSourceArtifact("src.txt", []byte("content"))
		slot1 := f.graph.DeclareOutputSlot("out1.txt", "//pkg:rule")
		slot2 := f.graph.DeclareOutputSlot("out2.txt", "//pkg:rule")

		emitFresh := func(slot *buildgraph.OutputSlot) dynamic.Resolver {
			return dynamic.ResolverFunc(func(ctx context.Context, invocation *dynamic.Invocation) error {
				sub := invocation.SubBuilder()
				fresh := sub.DeclareArtifact("fresh.txt")
				if err := sub.EmitWrite(fresh, []byte("fresh")); err != nil {
					return err
				}
				sink, err := invocation.Output(slot)
				if err != nil {
					return err
				}
				return sink.CopyFrom(fresh)
			})
		}

		node1, err := f.registrar.Register("//pkg:rule", identity.MustNewIdentifier("first"), dynamic.Spec{
			Dependencies: []buildgraph.ArtifactID{src},
			Outputs:      []*buildgraph.OutputSlot{slot1},
			Resolver:     emitFresh(slot1),
		})
		require.NoError(t, err)
		node2, err := f.registrar.Register("//pkg:rule", identity.MustNewIdentifier("second"), dynamic.Spec{
			Dependencies: []buildgraph.ArtifactID{src},
			Outputs:      []*buildgraph.OutputSlot{slot2},
			Resolver:     emitFresh(slot2),
		})
		require.NoError(t, err)

		result1, err := f.resolver.Resolve(ctx, node1)
		require.NoError(t, err)
		result2, err := f.resolver.Resolve(ctx, node2)
		require.NoError(t, err)

		var identities []string
		for _, result := range []dynamic.ResolutionResult{result1, result2} {
			for _, id := range result.Nodes {
				inserted, ok := f.graph.Node(id)
				require.True(t, ok)
				identities = append(identities, inserted.Identity().String())
			}
		}
		assert.Equal(t, []string{
			"write:first/fresh.txt",
			"copy:first/out1.txt",
			"write:second/fresh.txt",
			"copy:second/out2.txt",
		}, identities)
	})

	t.Run("CancelledMergeDiscarded", func(t *testing.T) {
		// A callback running at cancellation time finishes, but
		// its emissions must not enter the graph.
		f := newResolverFixture()
		src := f.graph.AddSourceArtifact("src.txt", []byte("content"))
		slot := f.graph.DeclareOutputSlot("out.txt", "//pkg:rule")

		cancelCtx, cancel := context.WithCancel(ctx)
		node := f.register(t, dynamic.ResolverFunc(func(ctx context.Context, invocation *dynamic.Invocation) error {
			cancel()
			sink, err := invocation.Output(slot)
			if err != nil {
				return err
			}
			return sink.Write([]byte("content"))
		}), []buildgraph.ArtifactID{src}, []*buildgraph.OutputSlot{slot})

		nodesBefore := countNodes(f.graph)
		_, err := f.resolver.Resolve(cancelCtx, node)
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, nodesBefore, countNodes(f.graph))
	})
}

func countNodes(graph *buildgraph.Graph) int {
	n := 0
	for id := buildgraph.NodeID(1); ; id++ {
		if _, ok := graph.Node(id); !ok {
			return n
		}
		n++
	}
}
