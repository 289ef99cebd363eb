package graph

// Edge is an immutable snapshot of the edges of a node.
//
// Relationships point "up" to the nodes this node depends on; dependents
// point "down" to the nodes that depend on this node. If A has B as a
// relationship then B has A as a dependent.
type Edge struct {
	relationships Set
	dependents    Set
}

// NewEdge returns an edge snapshot holding the provided members.
func NewEdge(relationships, dependents []Properties) Edge {
	return Edge{
		relationships: NewSet(relationships...),
		dependents:    NewSet(dependents...),
	}
}

// Relationships returns the relationship members ordered by composite key.
func (e Edge) Relationships() []Properties { return e.relationships.Slice() }

// Dependents returns the dependent members ordered by composite key.
func (e Edge) Dependents() []Properties { return e.dependents.Slice() }

// HasRelationship reports whether p is a relationship of the node.
func (e Edge) HasRelationship(p Properties) bool { return e.relationships.Contains(p) }

// HasDependent reports whether p is a dependent of the node.
func (e Edge) HasDependent(p Properties) bool { return e.dependents.Contains(p) }

// Equal reports whether both snapshots hold the same members.
func (e Edge) Equal(other Edge) bool {
	return e.relationships.Equal(other.relationships) && e.dependents.Equal(other.dependents)
}

// SetDiff records the members added to and removed from one edge set since
// it was loaded. A member is never present in both sets.
type SetDiff struct {
	Added   Set
	Removed Set
}

func (d SetDiff) add(p Properties) SetDiff {
	out := SetDiff{Added: d.Added.Clone(), Removed: d.Removed.Clone()}
	delete(out.Removed, p)
	out.Added[p] = struct{}{}
	return out
}

func (d SetDiff) remove(p Properties) SetDiff {
	out := SetDiff{Added: d.Added.Clone(), Removed: d.Removed.Clone()}
	delete(out.Added, p)
	out.Removed[p] = struct{}{}
	return out
}

// IsEmpty reports whether no change was recorded.
func (d SetDiff) IsEmpty() bool { return len(d.Added) == 0 && len(d.Removed) == 0 }

// Diff holds the pending changes of a node's working copy.
type Diff struct {
	Relationships SetDiff
	Dependents    SetDiff
}

// IsEmpty reports whether no change was recorded.
func (d Diff) IsEmpty() bool { return d.Relationships.IsEmpty() && d.Dependents.IsEmpty() }

// MergeSet applies the diff-merge rule to a single edge set: the result is
// persisted minus the explicitly removed members (when applyRemovals is set)
// plus every member of incoming. Members that persisted holds but incoming
// lacks survive unless they were explicitly removed, so edges added by a
// concurrent writer are never dropped.
func MergeSet(persisted, incoming Set, diff SetDiff, applyRemovals bool) Set {
	merged := persisted.Clone()
	if applyRemovals {
		for p := range diff.Removed {
			delete(merged, p)
		}
	}
	for p := range incoming {
		merged[p] = struct{}{}
	}
	return merged
}

// Merge reconciles the persisted edge of a node with the working copy being
// saved.
func Merge(persisted Edge, incoming Node, applyRemovals bool) Edge {
	return Edge{
		relationships: MergeSet(persisted.relationships, incoming.edge.relationships, incoming.diff.Relationships, applyRemovals),
		dependents:    MergeSet(persisted.dependents, incoming.edge.dependents, incoming.diff.Dependents, applyRemovals),
	}
}
