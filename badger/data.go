// Package badger provides an embedded payload store backed by BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"
	"github.com/dgraph-io/badger/v4"
	"github.com/ejacobg/nodegraph/graph"
	"google.golang.org/protobuf/proto"
)

// Compile-time check for ensuring DataRepository implements graph.DataRepository.
var _ graph.DataRepository = (*DataRepository)(nil)

// Payloads live under "data:<composite key>".
const dataPrefix = "data:"

// DataRepository stores node payloads in a BadgerDB instance.
type DataRepository struct {
	db *badger.DB
}

// NewDataRepository opens (or creates) a BadgerDB instance in dir. An
// empty dir opens an in-memory instance whose contents are lost on Close.
func NewDataRepository(dir string) (*DataRepository, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &DataRepository{db: db}, nil
}

// Close flushes and closes the underlying database.
func (r *DataRepository) Close() error {
	return r.db.Close()
}

// Get returns the payload attached to p.
func (r *DataRepository) Get(_ context.Context, p graph.Properties) (proto.Message, bool, error) {
	key, err := dataKey(p)
	if err != nil {
		return nil, false, fmt.Errorf("get data: %w", err)
	}

	var data []byte
	err = r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("get data: %w", &graph.BackendError{Op: "get", Key: string(key), Err: err})
	}

	msg, err := graph.UnmarshalPayload(data)
	if err != nil {
		return nil, false, fmt.Errorf("get data: %w", err)
	}
	return msg, true, nil
}

// Save attaches msg to p, replacing any previous payload.
func (r *DataRepository) Save(_ context.Context, p graph.Properties, msg proto.Message) error {
	key, err := dataKey(p)
	if err != nil {
		return fmt.Errorf("save data: %w", err)
	}

	data, err := graph.MarshalPayload(msg)
	if err != nil {
		return fmt.Errorf("save data: %w", err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("save data: %w", &graph.BackendError{Op: "set", Key: string(key), Err: err})
	}
	return nil
}

// Remove detaches the payload of p, if any.
func (r *DataRepository) Remove(_ context.Context, p graph.Properties) error {
	key, err := dataKey(p)
	if err != nil {
		return fmt.Errorf("remove data: %w", err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("remove data: %w", &graph.BackendError{Op: "delete", Key: string(key), Err: err})
	}
	return nil
}

func dataKey(p graph.Properties) ([]byte, error) {
	key, err := graph.CompositeKey(p)
	if err != nil {
		return nil, err
	}
	return []byte(dataPrefix + key), nil
}
