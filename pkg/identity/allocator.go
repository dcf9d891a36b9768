package identity

import (
	"fmt"
	"hash/fnv"
	"sync"
)

// CollisionError is returned when two actions are emitted with the same
// (category, identifier) pair. Both emission sites are retained, so
// that the user can locate the two rules that collided.
type CollisionError struct {
	Identity   ActionIdentity
	FirstSite  string
	SecondSite string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf(
		"identity collision on %#v: first emitted by %s, emitted again by %s",
		e.Identity.String(),
		e.FirstSite,
		e.SecondSite,
	)
}

const allocatorShardCount = 64

type allocatorShard struct {
	lock  sync.Mutex
	sites map[ActionIdentity]string
}

// Allocator is a build-wide registry of action identities. Every
// component that emits actions (static analysis, resolver invocations,
// sub-builders) must consult the same Allocator, because identities
// minted during dynamic resolution can only be checked for uniqueness
// at the time they are emitted.
//
// The allocator is scoped to a single build. It is not a process-wide
// singleton, so that concurrent builds and tests each get their own
// identity space.
type Allocator struct {
	shards [allocatorShardCount]allocatorShard
}

// NewAllocator creates an Allocator that has no identities registered
// against it.
func NewAllocator() *Allocator {
	a := &Allocator{}
	for i := range a.shards {
		a.shards[i].sites = map[ActionIdentity]string{}
	}
	return a
}

func (a *Allocator) getShard(ai ActionIdentity) *allocatorShard {
	h := fnv.New64a()
	h.Write([]byte(ai.Category.String()))
	h.Write([]byte{0})
	h.Write([]byte(ai.Identifier.String()))
	return &a.shards[h.Sum64()%allocatorShardCount]
}

// Allocate registers the identity of an action that is about to be
// emitted. The site argument describes the emission point (e.g., the
// label of the authoring rule, or the namespace of the resolver
// invocation), and is only used to attribute collisions.
//
// Allocation serializes per identity shard rather than globally, so
// that dynamic expansion running on many workers does not contend on a
// single lock.
func (a *Allocator) Allocate(ai ActionIdentity, site string) error {
	shard := a.getShard(ai)
	shard.lock.Lock()
	defer shard.lock.Unlock()

	if firstSite, ok := shard.sites[ai]; ok {
		return &CollisionError{
			Identity:   ai,
			FirstSite:  firstSite,
			SecondSite: site,
		}
	}
	shard.sites[ai] = site
	return nil
}
