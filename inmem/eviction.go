package inmem

import (
	"context"
	"github.com/ejacobg/nodegraph/graph"
	"time"
)

// accessItem orders nodes by access time in the eviction index.
type accessItem struct {
	at    time.Time
	props graph.Properties
}

func (a accessItem) less(b accessItem) bool {
	if !a.at.Equal(b.at) {
		return a.at.Before(b.at)
	}
	return a.props.String() < b.props.String()
}

// indexAccess records the access time of the current entry for p, dropping
// the item of the entry it replaced.
func (r *Repository) indexAccess(p graph.Properties, replaced *entry) {
	if r.access == nil {
		return
	}

	r.accessMu.Lock()
	defer r.accessMu.Unlock()

	if replaced != nil {
		r.access.Delete(accessItem{at: replaced.node.LastAccessTime(), props: p})
	}
	// Index whatever is current rather than what we wrote, so that the
	// last writer to get here always leaves the live entry indexed.
	if v, ok := r.nodes.Load(p); ok {
		r.access.Set(accessItem{at: v.(*entry).node.LastAccessTime(), props: p})
	}
}

func (r *Repository) unindexAccess(p graph.Properties, removed *entry) {
	if r.access == nil {
		return
	}

	r.accessMu.Lock()
	r.access.Delete(accessItem{at: removed.node.LastAccessTime(), props: p})
	r.accessMu.Unlock()
}

// EvictStale removes every node that has not been accessed within the
// eviction window and returns the number of evicted nodes. Evicted nodes are
// detached from their neighbours exactly like removed ones. It is a no-op if
// eviction is disabled.
func (r *Repository) EvictStale(ctx context.Context) int {
	if r.access == nil {
		return 0
	}

	cutoff := r.cfg.Clock.Now().Add(-r.cfg.EvictionWindow)

	r.accessMu.Lock()
	var stale []accessItem
	r.access.Scan(func(item accessItem) bool {
		if !item.at.Before(cutoff) {
			return false
		}
		stale = append(stale, item)
		return true
	})
	for _, item := range stale {
		r.access.Delete(item)
	}
	r.accessMu.Unlock()

	var evicted int
	for _, item := range stale {
		// Items may outlive the entry they were recorded for; only evict
		// if the live entry is stale too.
		n, found, _ := r.Read(ctx, item.props)
		if !found || !n.LastAccessTime().Before(cutoff) {
			continue
		}
		if err := r.Remove(ctx, item.props); err != nil {
			r.cfg.Logger.WithField("err", err).Warn("eviction failed")
			continue
		}
		evicted++
	}

	if evicted > 0 {
		r.cfg.Logger.WithField("count", evicted).Debug("evicted stale nodes")
	}
	return evicted
}

// janitor periodically evicts stale nodes until Close is called.
func (r *Repository) janitor() {
	defer r.wg.Done()

	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	interval := r.cfg.EvictionWindow / 2
	for {
		select {
		case <-r.doneCh:
			return
		case <-r.cfg.Clock.After(interval):
			r.EvictStale(ctx)
		}
	}
}
