package inmem

import (
	"context"
	"fmt"
	"github.com/ejacobg/nodegraph/graph"
	"google.golang.org/protobuf/proto"
	"sync"
)

// Compile-time check for ensuring DataRepository implements graph.DataRepository.
var _ graph.DataRepository = (*DataRepository)(nil)

// DataRepository keeps node payloads in memory. Payloads are stored in their
// encoded form so that callers never share state with the store.
type DataRepository struct {
	// Properties -> []byte
	payloads sync.Map
}

// NewDataRepository creates a new in-memory payload store.
func NewDataRepository() *DataRepository {
	return new(DataRepository)
}

// Get returns the payload attached to p.
func (r *DataRepository) Get(_ context.Context, p graph.Properties) (proto.Message, bool, error) {
	if _, err := graph.CompositeKey(p); err != nil {
		return nil, false, fmt.Errorf("get data: %w", err)
	}

	v, ok := r.payloads.Load(p)
	if !ok {
		return nil, false, nil
	}
	msg, err := graph.UnmarshalPayload(v.([]byte))
	if err != nil {
		return nil, false, fmt.Errorf("get data: %w", err)
	}
	return msg, true, nil
}

// Save attaches msg to p, replacing any previous payload.
func (r *DataRepository) Save(_ context.Context, p graph.Properties, msg proto.Message) error {
	if _, err := graph.CompositeKey(p); err != nil {
		return fmt.Errorf("save data: %w", err)
	}

	data, err := graph.MarshalPayload(msg)
	if err != nil {
		return fmt.Errorf("save data: %w", err)
	}
	r.payloads.Store(p, data)
	return nil
}

// Remove detaches the payload of p, if any.
func (r *DataRepository) Remove(_ context.Context, p graph.Properties) error {
	if _, err := graph.CompositeKey(p); err != nil {
		return fmt.Errorf("remove data: %w", err)
	}
	r.payloads.Delete(p)
	return nil
}
