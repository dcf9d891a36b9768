// Package scheduler runs the build graph to quiescence on a bounded
// pool of workers. Dynamic-action nodes are tasks like any other: their
// only suspension point is waiting for their declared value
// dependencies to materialize, after which their resolver callback runs
// to completion on a single worker and its emitted sub-graph is merged
// and scheduled.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"

	"pyrite.build/pkg/buildevent"
	"pyrite.build/pkg/buildgraph"
	"pyrite.build/pkg/dynamic"
	"pyrite.build/pkg/identity"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Executor runs command actions. The process/sandbox backend is an
// external collaborator; the scheduler only depends on this interface.
type Executor interface {
	Execute(ctx context.Context, arguments []string, environment map[string]string, inputs map[string][]byte) ([]byte, error)
}

type nodeState struct {
	missing  int
	enqueued bool
}

// Scheduler executes the nodes of one build graph.
type Scheduler struct {
	graph       *buildgraph.Graph
	resolver    *dynamic.NodeResolver
	executor    Executor
	publisher   buildevent.Publisher
	concurrency *semaphore.Weighted

	lock    sync.Mutex
	states  map[buildgraph.NodeID]*nodeState
	waiters map[buildgraph.ArtifactID][]buildgraph.NodeID
	errs    []error
	group   *errgroup.Group
	ctx     context.Context
}

// NewScheduler creates a scheduler for the given graph, running at
// most concurrency actions at a time. The executor may be nil, in
// which case command actions fail as unimplemented.
func NewScheduler(
	graph *buildgraph.Graph,
	resolver *dynamic.NodeResolver,
	executor Executor,
	publisher buildevent.Publisher,
	concurrency int64,
) *Scheduler {
	if publisher == nil {
		publisher = buildevent.DiscardingPublisher{}
	}
	return &Scheduler{
		graph:       graph,
		resolver:    resolver,
		executor:    executor,
		publisher:   publisher,
		concurrency: semaphore.NewWeighted(concurrency),
		states:      map[buildgraph.NodeID]*nodeState{},
		waiters:     map[buildgraph.ArtifactID][]buildgraph.NodeID{},
	}
}

// isBuildFatal distinguishes violations of graph-wide invariants from
// node-local failures. The former abort the whole build; the latter
// only fail the dependent subtree, allowing unrelated targets to
// continue.
func isBuildFatal(err error) bool {
	var collisionErr *identity.CollisionError
	var ownershipErr *buildgraph.DuplicateOutputOwnershipError
	var boundErr *buildgraph.SlotAlreadyBoundError
	return errors.As(err, &collisionErr) ||
		errors.As(err, &ownershipErr) ||
		errors.As(err, &boundErr)
}

// Run executes the given root nodes and everything they transitively
// cause to be emitted, returning once the graph is quiescent or a
// build-fatal error occurred. Node-local failures are collected;
// unrelated regions of the graph keep running.
//
// After quiescence, any output slot that never reached the Bound state
// is reported, so a resolver invocation whose delegation chain fizzled
// can never pass as success.
func (s *Scheduler) Run(ctx context.Context, roots []buildgraph.NodeID) error {
	group, groupCtx := errgroup.WithContext(ctx)
	s.lock.Lock()
	s.group = group
	s.ctx = groupCtx
	var rootErr error
	for _, root := range roots {
		if err := s.enqueueLocked(root); err != nil {
			rootErr = err
			break
		}
	}
	s.lock.Unlock()
	if rootErr != nil {
		// Workers may already be running for earlier roots. Poison
		// the group so they observe cancellation, and drain them
		// before reporting the failure.
		group.Go(func() error { return rootErr })
		return group.Wait()
	}

	if err := group.Wait(); err != nil {
		var collisionErr *identity.CollisionError
		if errors.As(err, &collisionErr) {
			identityCollisionsDetected.Inc()
		}
		return err
	}
	if err := ctx.Err(); err != nil {
		// Cancelled builds drop their pending nodes; unbound
		// slots are not a correctness violation in that case.
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	errs := append([]error(nil), s.errs...)
	slots := s.graph.Slots()
	sort.Slice(slots, func(i, j int) bool { return slots[i].Name() < slots[j].Name() })
	for _, slot := range slots {
		if slot.State() != buildgraph.SlotBound {
			errs = append(errs, &dynamic.UnboundOutputError{
				Slot:  slot.Name(),
				Owner: slot.DeclaredBy(),
			})
		}
	}
	return errors.Join(errs...)
}

// enqueueLocked registers a node for execution. If all of its
// dependency artifacts are already materialized it starts right away;
// otherwise it waits for the missing ones.
func (s *Scheduler) enqueueLocked(id buildgraph.NodeID) error {
	node, ok := s.graph.Node(id)
	if !ok {
		return status.Errorf(codes.InvalidArgument, "Cannot schedule unknown node %d", int(id))
	}
	if state := s.states[id]; state != nil {
		return status.Errorf(codes.Internal, "Node %s was scheduled twice", node.Identity())
	}

	state := &nodeState{}
	s.states[id] = state
	seen := map[buildgraph.ArtifactID]struct{}{}
	for _, dep := range node.Dependencies() {
		if _, ok := seen[dep]; ok {
			continue
		}
		seen[dep] = struct{}{}
		artifact, ok := s.graph.Artifact(dep)
		if !ok {
			return &buildgraph.UnknownDependencyError{Artifact: dep, Site: node.Site()}
		}
		if !artifact.IsMaterialized() {
			s.waiters[dep] = append(s.waiters[dep], id)
			state.missing++
		}
	}
	if state.missing == 0 {
		s.startLocked(id)
	}
	return nil
}

func (s *Scheduler) startLocked(id buildgraph.NodeID) {
	state := s.states[id]
	if state.enqueued {
		return
	}
	state.enqueued = true
	s.group.Go(func() error {
		if err := s.concurrency.Acquire(s.ctx, 1); err != nil {
			// Build cancelled; pending nodes are dropped
			// without running.
			return nil
		}
		defer s.concurrency.Release(1)
		if s.ctx.Err() != nil {
			return nil
		}
		return s.runNode(s.ctx, id)
	})
}

// notifyMaterialized wakes up nodes that were waiting for the artifact
// and have no other missing dependencies left.
func (s *Scheduler) notifyMaterialized(artifact buildgraph.ArtifactID) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, waiter := range s.waiters[artifact] {
		state := s.states[waiter]
		state.missing--
		if state.missing == 0 {
			s.startLocked(waiter)
		}
	}
	delete(s.waiters, artifact)
}

func (s *Scheduler) recordFailure(node *buildgraph.Node, err error) {
	actionsFailed.WithLabelValues(node.Payload().ActionCategory().String()).Inc()
	s.publisher.Publish(buildevent.Event{
		Type:     buildevent.TypeActionFailed,
		Identity: node.Identity().String(),
		Site:     node.Site(),
		Error:    err.Error(),
	})
	s.lock.Lock()
	defer s.lock.Unlock()
	s.errs = append(s.errs, err)
}

// runNode executes one ready node on the current worker. A non-nil
// return value is build-fatal and cancels all other work.
func (s *Scheduler) runNode(ctx context.Context, id buildgraph.NodeID) error {
	node, _ := s.graph.Node(id)
	s.publisher.Publish(buildevent.Event{
		Type:     buildevent.TypeActionStarted,
		Identity: node.Identity().String(),
		Site:     node.Site(),
	})

	if payload, ok := node.Payload().(*dynamic.Payload); ok {
		return s.runDynamicNode(ctx, id, node, payload)
	}

	if err := s.executeOrdinary(ctx, node); err != nil {
		if isBuildFatal(err) {
			return err
		}
		s.recordFailure(node, err)
		return nil
	}

	actionsCompleted.WithLabelValues(node.Payload().ActionCategory().String()).Inc()
	s.publisher.Publish(buildevent.Event{
		Type:     buildevent.TypeActionCompleted,
		Identity: node.Identity().String(),
		Site:     node.Site(),
	})
	for _, output := range node.Outputs() {
		s.notifyMaterialized(output)
	}
	return nil
}

func (s *Scheduler) runDynamicNode(ctx context.Context, id buildgraph.NodeID, node *buildgraph.Node, payload *dynamic.Payload) error {
	result, err := s.resolver.Resolve(ctx, &dynamic.RegisteredNode{ID: id, Payload: payload})
	if err != nil {
		if ctx.Err() != nil {
			// The callback was allowed to finish, but its
			// sub-graph has been discarded.
			dynamicNodesDiscarded.Inc()
			s.publisher.Publish(buildevent.Event{
				Type:     buildevent.TypeDynamicDiscarded,
				Identity: node.Identity().String(),
				Site:     node.Site(),
			})
			return nil
		}
		if isBuildFatal(err) {
			return err
		}
		s.recordFailure(node, err)
		return nil
	}

	dynamicNodesResolved.Inc()
	s.publisher.Publish(buildevent.Event{
		Type:     buildevent.TypeDynamicResolved,
		Identity: node.Identity().String(),
		Site:     node.Site(),
	})

	s.lock.Lock()
	defer s.lock.Unlock()
	for _, emitted := range result.Nodes {
		if err := s.enqueueLocked(emitted); err != nil {
			return err
		}
	}
	for _, registered := range result.Registered {
		if err := s.enqueueLocked(registered.ID); err != nil {
			return err
		}
	}
	return nil
}

// bindOutput materializes one output artifact and, if the artifact is
// an output slot's placeholder, transitions the slot to Bound.
func (s *Scheduler) bindOutput(node *buildgraph.Node, target buildgraph.ArtifactID, materialize func() error) error {
	if err := materialize(); err != nil {
		return err
	}
	if slot, ok := s.graph.SlotForArtifact(target); ok {
		if err := slot.Bind(node.Site()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) executeOrdinary(ctx context.Context, node *buildgraph.Node) error {
	switch payload := node.Payload().(type) {
	case buildgraph.WriteAction:
		return s.bindOutput(node, payload.Target, func() error {
			return s.graph.SetArtifactContent(payload.Target, payload.Content)
		})

	case buildgraph.CopyAction:
		source, ok := s.graph.Artifact(payload.Source)
		if !ok {
			return &buildgraph.UnknownDependencyError{Artifact: payload.Source, Site: node.Site()}
		}
		return s.bindOutput(node, payload.Target, func() error {
			if entries, err := source.DirectoryEntries(); err == nil {
				return s.graph.SetArtifactDirectory(payload.Target, entries)
			}
			content, err := source.Content()
			if err != nil {
				return err
			}
			// Copies are byte identical: the target receives
			// exactly the source's content.
			return s.graph.SetArtifactContent(payload.Target, append([]byte(nil), content...))
		})

	case buildgraph.SymlinkTreeAction:
		return s.bindOutput(node, payload.Target, func() error {
			return s.graph.SetArtifactDirectory(payload.Target, payload.Entries)
		})

	case buildgraph.CommandAction:
		if s.executor == nil {
			return status.Errorf(codes.Unimplemented, "%s requires command execution, but no executor is configured", node.Site())
		}
		inputs := map[string][]byte{}
		for _, input := range payload.Inputs {
			artifact, ok := s.graph.Artifact(input)
			if !ok {
				return &buildgraph.UnknownDependencyError{Artifact: input, Site: node.Site()}
			}
			content, err := artifact.Content()
			if err != nil {
				return err
			}
			inputs[artifact.Name()] = content
		}
		stdout, err := s.executor.Execute(ctx, payload.Arguments, payload.Environment, inputs)
		if err != nil {
			return err
		}
		return s.bindOutput(node, payload.Target, func() error {
			return s.graph.SetArtifactContent(payload.Target, stdout)
		})

	default:
		return status.Errorf(codes.Unimplemented, "Node %s has an unsupported payload type", node.Identity())
	}
}
