package graph

import "time"

// Node is an immutable snapshot of a graph entity. Every mutator returns a
// new snapshot and records the change in the snapshot's Diff so that a
// repository can merge it with concurrently persisted state.
type Node struct {
	properties     Properties
	edge           Edge
	diff           Diff
	lastAccessTime time.Time
}

// NewNode returns a node with no edges.
func NewNode(props Properties, lastAccessTime time.Time) Node {
	return NewNodeWithEdge(props, Edge{}, lastAccessTime)
}

// NewNodeWithEdge returns a node holding an already persisted edge snapshot.
// The returned node carries no pending changes.
func NewNodeWithEdge(props Properties, edge Edge, lastAccessTime time.Time) Node {
	return Node{properties: props, edge: edge, lastAccessTime: lastAccessTime}
}

// Properties returns the identity of the node.
func (n Node) Properties() Properties { return n.properties }

// Edge returns the edge snapshot of the node.
func (n Node) Edge() Edge { return n.edge }

// Diff returns the changes recorded since the node was loaded.
func (n Node) Diff() Diff { return n.diff }

// LastAccessTime returns the time the node was last accessed.
func (n Node) LastAccessTime() time.Time { return n.lastAccessTime }

// IsZero reports whether n is the zero Node, which stands for "absent".
func (n Node) IsZero() bool { return n.properties == (Properties{}) }

// AddRelationship returns a copy of n that relates to p.
func (n Node) AddRelationship(p Properties) Node {
	rel := n.edge.relationships.Clone()
	rel[p] = struct{}{}
	n.edge = Edge{relationships: rel, dependents: n.edge.dependents}
	n.diff.Relationships = n.diff.Relationships.add(p)
	return n
}

// RemoveRelationship returns a copy of n that no longer relates to p. The
// removal is only recorded if p is currently a relationship.
func (n Node) RemoveRelationship(p Properties) Node {
	if !n.edge.HasRelationship(p) {
		return n
	}
	rel := n.edge.relationships.Clone()
	delete(rel, p)
	n.edge = Edge{relationships: rel, dependents: n.edge.dependents}
	n.diff.Relationships = n.diff.Relationships.remove(p)
	return n
}

// AddDependent returns a copy of n that has p as a dependent.
func (n Node) AddDependent(p Properties) Node {
	dep := n.edge.dependents.Clone()
	dep[p] = struct{}{}
	n.edge = Edge{relationships: n.edge.relationships, dependents: dep}
	n.diff.Dependents = n.diff.Dependents.add(p)
	return n
}

// RemoveDependent returns a copy of n that no longer has p as a dependent.
// The removal is only recorded if p is currently a dependent.
func (n Node) RemoveDependent(p Properties) Node {
	if !n.edge.HasDependent(p) {
		return n
	}
	dep := n.edge.dependents.Clone()
	delete(dep, p)
	n.edge = Edge{relationships: n.edge.relationships, dependents: dep}
	n.diff.Dependents = n.diff.Dependents.remove(p)
	return n
}

// WithLastAccessTime returns a copy of n with a different access time.
func (n Node) WithLastAccessTime(t time.Time) Node {
	n.lastAccessTime = t
	return n
}

// Equal reports whether both nodes have the same identity and edges. Access
// time and pending changes are ignored.
func (n Node) Equal(other Node) bool {
	return n.properties == other.properties && n.edge.Equal(other.edge)
}

// LaterOf returns the most recent of two access times.
func LaterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
