// Package redis provides a node repository backed by a Redis server.
//
// Each node is persisted as:
//
//	node:all                      hash field <key> = last access time (unix millis)
//	classifier:<type>:<category>  set member <key>
//	relationships:<key>           set of relationship keys
//	dependents:<key>              set of dependent keys
//
// where <key> is the composite key "id:type:category". Redis offers no
// transaction spanning these keys here, so every operation is an ordered
// sequence of primitive calls that stops at the first failure without
// undoing the steps that already succeeded.
package redis

//go:generate mockgen -package mocks -destination mocks/mock_commander.go github.com/ejacobg/nodegraph/redis Commander

import (
	"context"
	"errors"
	"fmt"
	"github.com/ejacobg/nodegraph/graph"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"io"
	"sync"
	"time"
)

// Compile-time check for ensuring Repository implements NodeRepository.
var _ graph.NodeRepository = (*Repository)(nil)

const (
	nodeKey             = "node:all"
	classifierPrefix    = "classifier:"
	relationshipsPrefix = "relationships:"
	dependentsPrefix    = "dependents:"
)

// Commander is the subset of the go-redis command set used by the
// repositories in this package. *redis.Client and *redis.ClusterClient
// satisfy it.
type Commander interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Config encapsulates the settings for configuring the Redis repository.
type Config struct {
	// The clock used to stamp access times. Defaults to the wall clock.
	Clock clock.Clock

	// The maximum number of concurrent reads and removals issued by
	// ExpireAll. Defaults to 16.
	ScanWorkers int

	// Logger is optional; logs are discarded if not specified.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if cfg.ScanWorkers < 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for scan workers"))
	} else if cfg.ScanWorkers == 0 {
		cfg.ScanWorkers = 16
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

// Repository is a graph.NodeRepository implementation that persists nodes
// in Redis. It is safe for concurrent use as long as the Commander is.
type Repository struct {
	cfg Config
	rdb Commander
}

// NewRepository creates a node repository on top of rdb.
func NewRepository(rdb Commander, cfg Config) (*Repository, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis repository: nil client")
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("redis repository: config validation failed: %w", err)
	}
	return &Repository{cfg: cfg, rdb: rdb}, nil
}

// Save persists the node, merging its edge with the persisted one.
func (r *Repository) Save(ctx context.Context, n graph.Node) error {
	if _, err := r.save(ctx, n, true); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

// Lookup returns the identities of all nodes indexed under c.
func (r *Repository) Lookup(ctx context.Context, c graph.Classifier) ([]graph.Properties, error) {
	key := classifierPrefix + c.String()
	members, err := r.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", backendErr("smembers", key, err))
	}

	list := make([]graph.Properties, 0, len(members))
	for _, member := range members {
		p, err := graph.ParseCompositeKey(member)
		if err != nil {
			r.cfg.Logger.WithFields(logrus.Fields{"key": key, "err": err}).Warn("skipping malformed classifier member")
			continue
		}
		list = append(list, p)
	}
	return list, nil
}

// Get looks up a node and refreshes its access time.
func (r *Repository) Get(ctx context.Context, p graph.Properties) (graph.Node, bool, error) {
	key, err := graph.CompositeKey(p)
	if err != nil {
		return graph.Node{}, false, fmt.Errorf("get: %w", err)
	}

	if _, found, err := r.accessTime(ctx, key); err != nil || !found {
		if err != nil {
			err = fmt.Errorf("get: %w", err)
		}
		return graph.Node{}, false, err
	}

	// Touch with an empty snapshot so that edges removed concurrently
	// since our check are not written back.
	n, err := r.save(ctx, graph.NewNode(p, r.cfg.Clock.Now()), true)
	if err != nil {
		return graph.Node{}, false, fmt.Errorf("get: %w", err)
	}
	return n, true, nil
}

// Read looks up a node without refreshing its access time.
func (r *Repository) Read(ctx context.Context, p graph.Properties) (graph.Node, bool, error) {
	key, err := graph.CompositeKey(p)
	if err != nil {
		return graph.Node{}, false, fmt.Errorf("read: %w", err)
	}

	n, found, err := r.read(ctx, p, key)
	if err != nil {
		return graph.Node{}, false, fmt.Errorf("read: %w", err)
	}
	return n, found, nil
}

// GetOrCreate returns the node identified by p, creating an empty one if
// it does not exist. Saving an empty snapshot is idempotent, so creating and
// touching are the same sequence of commands.
func (r *Repository) GetOrCreate(ctx context.Context, p graph.Properties) (graph.Node, error) {
	n, err := r.save(ctx, graph.NewNode(p, r.cfg.Clock.Now()), true)
	if err != nil {
		return graph.Node{}, fmt.Errorf("get or create: %w", err)
	}
	return n, nil
}

// Relate adds right to the relationships of left and left to the dependents
// of right.
func (r *Repository) Relate(ctx context.Context, left, right graph.Node) error {
	for _, n := range []graph.Node{left, right} {
		if _, err := graph.CompositeKey(n.Properties()); err != nil {
			return fmt.Errorf("relate: %w", err)
		}
	}

	// Leaves are not cleaned up: each snapshot only knows about one side
	// of the edges being written.
	if _, err := r.save(ctx, left.AddRelationship(right.Properties()), false); err != nil {
		return fmt.Errorf("relate: %w", err)
	}
	if _, err := r.save(ctx, right.AddDependent(left.Properties()), false); err != nil {
		return fmt.Errorf("relate: %w", err)
	}
	return nil
}

// Remove deletes a node and detaches it from all of its neighbours.
// Removing a missing node is a no-op.
func (r *Repository) Remove(ctx context.Context, p graph.Properties) error {
	key, err := graph.CompositeKey(p)
	if err != nil {
		return fmt.Errorf("remove: %w", err)
	}

	n, found, err := r.read(ctx, p, key)
	if err != nil {
		return fmt.Errorf("remove: %w", err)
	}

	if found {
		for _, rel := range n.Edge().Relationships() {
			if err = r.detach(ctx, rel, func(nb graph.Node) graph.Node { return nb.RemoveDependent(p) }); err != nil {
				return fmt.Errorf("remove: %w", err)
			}
		}
		for _, dep := range n.Edge().Dependents() {
			if err = r.detach(ctx, dep, func(nb graph.Node) graph.Node { return nb.RemoveRelationship(p) }); err != nil {
				return fmt.Errorf("remove: %w", err)
			}
		}
	}

	if err = r.purge(ctx, p); err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	return nil
}

// ExpireAll removes every node indexed under c that has not been accessed
// within ttl. The failure to read or remove one node does not prevent the
// removal of the others; all errors are reported together.
func (r *Repository) ExpireAll(ctx context.Context, c graph.Classifier, ttl time.Duration) error {
	list, err := r.Lookup(ctx, c)
	if err != nil {
		return fmt.Errorf("expire all: %w", err)
	}

	now := r.cfg.Clock.Now()
	expired := make([]bool, len(list))

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs *multierror.Error
	)
	g.SetLimit(r.cfg.ScanWorkers)
	for i, p := range list {
		i, p := i, p
		g.Go(func() error {
			n, found, err := r.Read(ctx, p)
			if err == nil && !found {
				// Indexed under c without an access time; drop the stale
				// classifier member.
				err = r.unindex(ctx, p)
			}
			if err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
				return nil
			}
			expired[i] = found && now.Sub(n.LastAccessTime()) > ttl
			return nil
		})
	}
	_ = g.Wait()

	var (
		wg        sync.WaitGroup
		tokenPool = make(chan struct{}, r.cfg.ScanWorkers)
	)
	for i, p := range list {
		if !expired[i] {
			continue
		}

		tokenPool <- struct{}{}
		wg.Add(1)
		go func(p graph.Properties) {
			defer func() {
				<-tokenPool
				wg.Done()
			}()

			if err := r.Remove(ctx, p); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()

	if err = errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("expire all: %w", err)
	}
	return nil
}

// save merges n into the persisted state and returns the new snapshot.
//
// The steps are: (0) read the stored access time, (1) write the later of
// the stored and incoming access times, (2) index the classifier, (3) fetch
// both edge sets, (4) add the incoming members they lack and, if
// cleanupLeaves is set, (5) remove the members the snapshot explicitly
// dropped.
func (r *Repository) save(ctx context.Context, n graph.Node, cleanupLeaves bool) (graph.Node, error) {
	p := n.Properties()
	key, err := graph.CompositeKey(p)
	if err != nil {
		return graph.Node{}, err
	}

	stored, _, err := r.accessTime(ctx, key)
	if err != nil {
		return graph.Node{}, err
	}
	at := graph.LaterOf(stored, n.LastAccessTime())
	if err = r.rdb.HSet(ctx, nodeKey, key, at.UnixMilli()).Err(); err != nil {
		return graph.Node{}, backendErr("hset", nodeKey, err)
	}

	ck := classifierPrefix + p.Classifier.String()
	if err = r.rdb.SAdd(ctx, ck, key).Err(); err != nil {
		return graph.Node{}, backendErr("sadd", ck, err)
	}

	rels, err := r.syncSet(ctx, relationshipsPrefix+key, graph.NewSet(n.Edge().Relationships()...), n.Diff().Relationships, cleanupLeaves)
	if err != nil {
		return graph.Node{}, err
	}
	deps, err := r.syncSet(ctx, dependentsPrefix+key, graph.NewSet(n.Edge().Dependents()...), n.Diff().Dependents, cleanupLeaves)
	if err != nil {
		return graph.Node{}, err
	}

	return graph.NewNodeWithEdge(p, graph.NewEdge(rels.Slice(), deps.Slice()), time.UnixMilli(at.UnixMilli())), nil
}

// syncSet reconciles a stored edge set with an incoming one and returns the
// resulting members.
func (r *Repository) syncSet(ctx context.Context, key string, incoming graph.Set, diff graph.SetDiff, cleanupLeaves bool) (graph.Set, error) {
	stored, err := r.members(ctx, key)
	if err != nil {
		return nil, err
	}

	var toAdd []interface{}
	for p := range incoming {
		if !stored.Contains(p) {
			toAdd = append(toAdd, p.String())
		}
	}
	if len(toAdd) != 0 {
		if err = r.rdb.SAdd(ctx, key, toAdd...).Err(); err != nil {
			return nil, backendErr("sadd", key, err)
		}
	}

	if cleanupLeaves {
		var toRemove []interface{}
		for p := range diff.Removed {
			if stored.Contains(p) && !incoming.Contains(p) {
				toRemove = append(toRemove, p.String())
			}
		}
		if len(toRemove) != 0 {
			if err = r.rdb.SRem(ctx, key, toRemove...).Err(); err != nil {
				return nil, backendErr("srem", key, err)
			}
		}
	}

	return graph.MergeSet(stored, incoming, diff, cleanupLeaves), nil
}

// read fetches a node without touching it.
func (r *Repository) read(ctx context.Context, p graph.Properties, key string) (graph.Node, bool, error) {
	at, found, err := r.accessTime(ctx, key)
	if err != nil || !found {
		return graph.Node{}, false, err
	}

	rels, err := r.members(ctx, relationshipsPrefix+key)
	if err != nil {
		return graph.Node{}, false, err
	}
	deps, err := r.members(ctx, dependentsPrefix+key)
	if err != nil {
		return graph.Node{}, false, err
	}

	return graph.NewNodeWithEdge(p, graph.NewEdge(rels.Slice(), deps.Slice()), at), true, nil
}

// accessTime returns the stored access time for key.
func (r *Repository) accessTime(ctx context.Context, key string) (time.Time, bool, error) {
	ms, err := r.rdb.HGet(ctx, nodeKey, key).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	} else if err != nil {
		return time.Time{}, false, backendErr("hget", nodeKey, err)
	}
	return time.UnixMilli(ms), true, nil
}

// members decodes the composite keys stored in the set at key.
func (r *Repository) members(ctx context.Context, key string) (graph.Set, error) {
	list, err := r.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, backendErr("smembers", key, err)
	}

	set := make(graph.Set, len(list))
	for _, member := range list {
		p, err := graph.ParseCompositeKey(member)
		if err != nil {
			return nil, fmt.Errorf("decode member of %s: %w", key, err)
		}
		set[p] = struct{}{}
	}
	return set, nil
}

// detach applies fn to the neighbour identified by p and saves the result.
// Neighbours that no longer exist have their remaining keys purged.
func (r *Repository) detach(ctx context.Context, p graph.Properties, fn func(graph.Node) graph.Node) error {
	key, err := graph.CompositeKey(p)
	if err != nil {
		return err
	}

	n, found, err := r.read(ctx, p, key)
	if err != nil {
		return err
	}
	if !found {
		r.cfg.Logger.WithField("node", key).Debug("purging dangling reference")
		return r.purge(ctx, p)
	}

	_, err = r.save(ctx, fn(n), true)
	return err
}

// purge deletes every key and member recorded for p. Missing keys and
// members are not errors.
func (r *Repository) purge(ctx context.Context, p graph.Properties) error {
	key, err := graph.CompositeKey(p)
	if err != nil {
		return err
	}

	if err = r.rdb.HDel(ctx, nodeKey, key).Err(); err != nil {
		return backendErr("hdel", nodeKey, err)
	}
	ck := classifierPrefix + p.Classifier.String()
	if err = r.rdb.SRem(ctx, ck, key).Err(); err != nil {
		return backendErr("srem", ck, err)
	}
	if err = r.rdb.Del(ctx, dependentsPrefix+key, relationshipsPrefix+key).Err(); err != nil {
		return backendErr("del", dependentsPrefix+key, err)
	}
	return nil
}

// unindex removes p from its classifier set. The member is restored if a
// concurrent save recreated the node in the meantime.
func (r *Repository) unindex(ctx context.Context, p graph.Properties) error {
	key, err := graph.CompositeKey(p)
	if err != nil {
		return err
	}

	ck := classifierPrefix + p.Classifier.String()
	if err = r.rdb.SRem(ctx, ck, key).Err(); err != nil {
		return backendErr("srem", ck, err)
	}
	r.cfg.Logger.WithField("node", key).Debug("dropped stale classifier member")

	_, found, err := r.accessTime(ctx, key)
	if err != nil || !found {
		return err
	}
	if err = r.rdb.SAdd(ctx, ck, key).Err(); err != nil {
		return backendErr("sadd", ck, err)
	}
	return nil
}

func backendErr(op, key string, err error) error {
	return &graph.BackendError{Op: op, Key: key, Err: err}
}
