// Package inmem provides an in-memory node repository.
package inmem

import (
	"context"
	"fmt"
	"github.com/ejacobg/nodegraph/graph"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/btree"
	"io"
	"sync"
	"time"
)

// Compile-time check for ensuring Repository implements NodeRepository.
var _ graph.NodeRepository = (*Repository)(nil)

// Config encapsulates the settings for configuring the in-memory repository.
type Config struct {
	// The clock used to stamp access times. Defaults to the wall clock.
	Clock clock.Clock

	// Nodes that are not accessed within this window are evicted. Zero
	// disables eviction.
	EvictionWindow time.Duration

	// Logger is optional; logs are discarded if not specified.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if cfg.EvictionWindow < 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for eviction window"))
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.Out = io.Discard
		cfg.Logger = logrus.NewEntry(l)
	}
	return err
}

// entry wraps the persisted snapshot of a node. Entries are replaced, never
// mutated, so that updates can be applied with a compare-and-swap.
type entry struct {
	node graph.Node
}

// Repository implements an in-memory node repository that can be
// concurrently accessed by multiple clients without locking.
type Repository struct {
	cfg Config

	// Properties -> *entry
	nodes sync.Map

	// Classifier -> *sync.Map of Properties -> struct{}
	classifiers sync.Map

	// Orders nodes by access time for eviction. Only maintained when an
	// eviction window is configured.
	accessMu sync.Mutex
	access   *btree.BTreeG[accessItem]

	doneCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewRepository creates a new in-memory node repository. If an eviction
// window is configured, a background janitor is started; call Close to stop
// it.
func NewRepository(cfg Config) (*Repository, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("in-memory repository: config validation failed: %w", err)
	}

	r := &Repository{
		cfg:    cfg,
		doneCh: make(chan struct{}),
	}

	if cfg.EvictionWindow > 0 {
		r.access = btree.NewBTreeGOptions(accessItem.less, btree.Options{NoLocks: true})
		r.wg.Add(1)
		go r.janitor()
	}

	return r, nil
}

// Close stops the eviction janitor, if one is running.
func (r *Repository) Close() error {
	r.closeOnce.Do(func() { close(r.doneCh) })
	r.wg.Wait()
	return nil
}

// Save persists the node, merging its edge with the persisted one.
func (r *Repository) Save(_ context.Context, n graph.Node) error {
	if _, err := r.save(n, true); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

// Lookup returns the identities of all nodes indexed under c.
func (r *Repository) Lookup(_ context.Context, c graph.Classifier) ([]graph.Properties, error) {
	list := []graph.Properties{}
	if v, ok := r.classifiers.Load(c); ok {
		v.(*sync.Map).Range(func(key, _ any) bool {
			list = append(list, key.(graph.Properties))
			return true
		})
	}
	return list, nil
}

// Get looks up a node and refreshes its access time.
func (r *Repository) Get(_ context.Context, p graph.Properties) (graph.Node, bool, error) {
	if _, err := graph.CompositeKey(p); err != nil {
		return graph.Node{}, false, fmt.Errorf("get: %w", err)
	}
	n, found := r.touch(p, r.cfg.Clock.Now())
	return n, found, nil
}

// Read looks up a node without refreshing its access time.
func (r *Repository) Read(_ context.Context, p graph.Properties) (graph.Node, bool, error) {
	if _, err := graph.CompositeKey(p); err != nil {
		return graph.Node{}, false, fmt.Errorf("read: %w", err)
	}
	v, ok := r.nodes.Load(p)
	if !ok {
		return graph.Node{}, false, nil
	}
	return v.(*entry).node, true, nil
}

// GetOrCreate returns the node identified by p, creating an empty one if
// it does not exist.
func (r *Repository) GetOrCreate(_ context.Context, p graph.Properties) (graph.Node, error) {
	if _, err := graph.CompositeKey(p); err != nil {
		return graph.Node{}, fmt.Errorf("get or create: %w", err)
	}

	now := r.cfg.Clock.Now()
	for {
		if n, found := r.touch(p, now); found {
			return n, nil
		}

		created := &entry{node: graph.NewNode(p, now)}
		if _, loaded := r.nodes.LoadOrStore(p, created); loaded {
			// Lost the race against another creator; touch theirs.
			continue
		}
		r.indexClassifier(p)
		r.indexAccess(p, nil)
		return created.node, nil
	}
}

// Relate adds right to the relationships of left and left to the dependents
// of right.
func (r *Repository) Relate(_ context.Context, left, right graph.Node) error {
	for _, n := range []graph.Node{left, right} {
		if _, err := graph.CompositeKey(n.Properties()); err != nil {
			return fmt.Errorf("relate: %w", err)
		}
	}

	// Neither side may erase edges that the other side's snapshot
	// does not know about, so only additions are applied.
	if _, err := r.save(left.AddRelationship(right.Properties()), false); err != nil {
		return fmt.Errorf("relate: %w", err)
	}
	if _, err := r.save(right.AddDependent(left.Properties()), false); err != nil {
		return fmt.Errorf("relate: %w", err)
	}
	return nil
}

// Remove deletes a node and detaches it from all of its neighbours.
// Removing a missing node is a no-op.
func (r *Repository) Remove(ctx context.Context, p graph.Properties) error {
	n, found, err := r.Read(ctx, p)
	if err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	if !found {
		r.forget(p)
		return nil
	}

	for _, rel := range n.Edge().Relationships() {
		r.detach(rel, func(nb graph.Node) graph.Node { return nb.RemoveDependent(p) })
	}
	for _, dep := range n.Edge().Dependents() {
		r.detach(dep, func(nb graph.Node) graph.Node { return nb.RemoveRelationship(p) })
	}

	r.forget(p)
	return nil
}

// ExpireAll removes every node indexed under c that has not been accessed
// within ttl.
func (r *Repository) ExpireAll(ctx context.Context, c graph.Classifier, ttl time.Duration) error {
	list, err := r.Lookup(ctx, c)
	if err != nil {
		return fmt.Errorf("expire all: %w", err)
	}

	now := r.cfg.Clock.Now()
	var errs error
	for _, p := range list {
		n, found, err := r.Read(ctx, p)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if !found {
			// Indexed without a node; drop the stale classifier entry.
			r.forget(p)
			continue
		}
		if now.Sub(n.LastAccessTime()) <= ttl {
			continue
		}
		if err = r.Remove(ctx, p); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if errs != nil {
		return fmt.Errorf("expire all: %w", errs)
	}
	return nil
}

// save merges n into the persisted state and returns the new snapshot. When
// applyRemovals is false, members explicitly removed from n are kept.
func (r *Repository) save(n graph.Node, applyRemovals bool) (graph.Node, error) {
	p := n.Properties()
	if _, err := graph.CompositeKey(p); err != nil {
		return graph.Node{}, err
	}

	for {
		v, loaded := r.nodes.Load(p)
		if !loaded {
			// The incoming edge becomes the persisted edge verbatim.
			created := &entry{node: graph.NewNodeWithEdge(p, graph.Merge(graph.Edge{}, n, applyRemovals), n.LastAccessTime())}
			if _, raced := r.nodes.LoadOrStore(p, created); raced {
				continue
			}
			r.indexClassifier(p)
			r.indexAccess(p, nil)
			return created.node, nil
		}

		old := v.(*entry)
		merged := &entry{node: graph.NewNodeWithEdge(
			p,
			graph.Merge(old.node.Edge(), n, applyRemovals),
			graph.LaterOf(old.node.LastAccessTime(), n.LastAccessTime()),
		)}
		if r.nodes.CompareAndSwap(p, old, merged) {
			// A concurrent remove may have dropped the classifier entry
			// between our load and swap.
			r.indexClassifier(p)
			r.indexAccess(p, old)
			return merged.node, nil
		}
	}
}

// touch advances the access time of an existing node.
func (r *Repository) touch(p graph.Properties, now time.Time) (graph.Node, bool) {
	for {
		v, ok := r.nodes.Load(p)
		if !ok {
			return graph.Node{}, false
		}

		old := v.(*entry)
		touched := &entry{node: old.node.WithLastAccessTime(graph.LaterOf(old.node.LastAccessTime(), now))}
		if r.nodes.CompareAndSwap(p, old, touched) {
			r.indexAccess(p, old)
			return touched.node, true
		}
	}
}

// detach applies fn to the neighbour identified by p and saves the result.
// Neighbours that no longer exist are purged from the indexes.
func (r *Repository) detach(p graph.Properties, fn func(graph.Node) graph.Node) {
	v, ok := r.nodes.Load(p)
	if !ok {
		r.cfg.Logger.WithField("node", p.String()).Debug("purging dangling reference")
		r.forget(p)
		return
	}

	// Keys of persisted neighbours are always valid.
	_, _ = r.save(fn(v.(*entry).node), true)
}

// forget drops p from both indexes.
func (r *Repository) forget(p graph.Properties) {
	if v, loaded := r.nodes.LoadAndDelete(p); loaded {
		r.unindexAccess(p, v.(*entry))
	}
	if v, ok := r.classifiers.Load(p.Classifier); ok {
		set := v.(*sync.Map)
		set.Delete(p)

		// Re-created by a concurrent save after our delete.
		if r.isPresent(p) {
			r.indexClassifier(p)
			return
		}
		r.dropIfEmpty(p.Classifier, set)
	}
}

func (r *Repository) indexClassifier(p graph.Properties) {
	for {
		v, _ := r.classifiers.LoadOrStore(p.Classifier, new(sync.Map))
		set := v.(*sync.Map)
		set.Store(p, struct{}{})

		// Retry if the set was dropped while we were storing into it.
		if cur, ok := r.classifiers.Load(p.Classifier); ok && cur == v {
			return
		}
	}
}

// dropIfEmpty removes the classifier set for c once it holds no members.
func (r *Repository) dropIfEmpty(c graph.Classifier, set *sync.Map) {
	empty := true
	set.Range(func(_, _ any) bool {
		empty = false
		return false
	})
	if !empty || !r.classifiers.CompareAndDelete(c, set) {
		return
	}

	// Members stored after the emptiness check move to a fresh set.
	set.Range(func(key, _ any) bool {
		if p := key.(graph.Properties); r.isPresent(p) {
			r.indexClassifier(p)
		}
		return true
	})
}

func (r *Repository) isPresent(p graph.Properties) bool {
	_, ok := r.nodes.Load(p)
	return ok
}
