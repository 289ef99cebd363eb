package redis

import (
	"context"
	"errors"
	"fmt"
	"github.com/ejacobg/nodegraph/graph"
	"github.com/redis/go-redis/v9"
	"google.golang.org/protobuf/proto"
)

// Compile-time check for ensuring DataRepository implements graph.DataRepository.
var _ graph.DataRepository = (*DataRepository)(nil)

const dataKey = "data:all"

// DataRepository stores node payloads in the data:all hash, one field per
// composite key.
type DataRepository struct {
	rdb Commander
}

// NewDataRepository creates a payload store on top of rdb.
func NewDataRepository(rdb Commander) *DataRepository {
	return &DataRepository{rdb: rdb}
}

// Get returns the payload attached to p.
func (r *DataRepository) Get(ctx context.Context, p graph.Properties) (proto.Message, bool, error) {
	key, err := graph.CompositeKey(p)
	if err != nil {
		return nil, false, fmt.Errorf("get data: %w", err)
	}

	data, err := r.rdb.HGet(ctx, dataKey, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("get data: %w", backendErr("hget", dataKey, err))
	}

	msg, err := graph.UnmarshalPayload(data)
	if err != nil {
		return nil, false, fmt.Errorf("get data: %w", err)
	}
	return msg, true, nil
}

// Save attaches msg to p, replacing any previous payload.
func (r *DataRepository) Save(ctx context.Context, p graph.Properties, msg proto.Message) error {
	key, err := graph.CompositeKey(p)
	if err != nil {
		return fmt.Errorf("save data: %w", err)
	}

	data, err := graph.MarshalPayload(msg)
	if err != nil {
		return fmt.Errorf("save data: %w", err)
	}
	if err = r.rdb.HSet(ctx, dataKey, key, data).Err(); err != nil {
		return fmt.Errorf("save data: %w", backendErr("hset", dataKey, err))
	}
	return nil
}

// Remove detaches the payload of p, if any.
func (r *DataRepository) Remove(ctx context.Context, p graph.Properties) error {
	key, err := graph.CompositeKey(p)
	if err != nil {
		return fmt.Errorf("remove data: %w", err)
	}

	if err = r.rdb.HDel(ctx, dataKey, key).Err(); err != nil {
		return fmt.Errorf("remove data: %w", backendErr("hdel", dataKey, err))
	}
	return nil
}
