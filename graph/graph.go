// Package graph defines the node model shared by every repository backend and
// the contracts those backends implement.
package graph

import (
	"context"
	"google.golang.org/protobuf/proto"
	"time"
)

// NodeRepository is implemented by objects that can persist and query a graph
// of nodes linked by relationship/dependent edges.
//
// Implementations must be safe for concurrent use. No global lock is held
// across a multi-step operation: a concurrent reader may observe a partially
// applied Save, Relate or Remove.
type NodeRepository interface {
	// Save persists the edge diff carried by node and records its access
	// time. The persisted access time never moves backwards. Saving a node
	// without an ID fails with ErrInvalidNode.
	Save(ctx context.Context, node Node) error

	// Lookup returns the identities of every node indexed under the
	// classifier. An unknown classifier yields an empty result.
	Lookup(ctx context.Context, classifier Classifier) ([]Properties, error)

	// Get fetches a node and refreshes its access time. The boolean result
	// is false if no such node exists.
	Get(ctx context.Context, props Properties) (Node, bool, error)

	// Read fetches a node without refreshing its access time.
	Read(ctx context.Context, props Properties) (Node, bool, error)

	// GetOrCreate returns the node identified by props, creating an empty one
	// if it does not exist yet. The returned node is fetched with Get.
	GetOrCreate(ctx context.Context, props Properties) (Node, error)

	// Relate adds right to the relationships of left and left to the
	// dependents of right, then persists both nodes.
	Relate(ctx context.Context, left, right Node) error

	// Remove deletes a node and removes its identity from the opposite edge
	// set of every neighbor. Removing an unknown node is a no-op.
	Remove(ctx context.Context, props Properties) error

	// ExpireAll removes every node indexed under the classifier whose last
	// access is more than ttl in the past.
	ExpireAll(ctx context.Context, classifier Classifier, ttl time.Duration) error
}

// DataRepository is implemented by objects that store an opaque payload for
// each node, keyed by the node identity. It is not graph-aware.
type DataRepository interface {
	// Get returns the payload stored for props. The boolean result is false
	// if nothing is stored.
	Get(ctx context.Context, props Properties) (proto.Message, bool, error)

	// Save stores msg for props, overwriting any existing payload.
	Save(ctx context.Context, props Properties, msg proto.Message) error

	// Remove deletes the payload stored for props. Removing a missing payload
	// is a no-op.
	Remove(ctx context.Context, props Properties) error
}
