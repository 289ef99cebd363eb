// Package cdb provides a payload store backed by CockroachDB (or any
// PostgreSQL-compatible database).
package cdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"github.com/ejacobg/nodegraph/graph"
	_ "github.com/lib/pq"
	"google.golang.org/protobuf/proto"
)

// Compile-time check for ensuring DataRepository implements graph.DataRepository.
var _ graph.DataRepository = (*DataRepository)(nil)

var (
	createTableQuery = `
CREATE TABLE IF NOT EXISTS node_data (
	node_key TEXT PRIMARY KEY,
	node_type TEXT NOT NULL,
	node_category TEXT NOT NULL,
	payload BYTEA NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT now()
)`

	upsertDataQuery = `
INSERT INTO node_data (node_key, node_type, node_category, payload, updated_at) VALUES ($1, $2, $3, $4, now())
ON CONFLICT (node_key) DO UPDATE SET payload = excluded.payload, updated_at = now()`

	findDataQuery = "SELECT payload FROM node_data WHERE node_key=$1"

	removeDataQuery = "DELETE FROM node_data WHERE node_key=$1"
)

// DataRepository stores node payloads in the node_data table, one row per
// composite key.
type DataRepository struct {
	db *sql.DB
}

// NewDataRepository opens a connection to the database at dsn and makes
// sure the node_data table exists.
func NewDataRepository(ctx context.Context, dsn string) (*DataRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err = db.ExecContext(ctx, createTableQuery); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create node_data table: %w", err)
	}

	return &DataRepository{db: db}, nil
}

// Close terminates the connection to the backing database.
func (r *DataRepository) Close() error {
	return r.db.Close()
}

// Get returns the payload attached to p.
func (r *DataRepository) Get(ctx context.Context, p graph.Properties) (proto.Message, bool, error) {
	key, err := graph.CompositeKey(p)
	if err != nil {
		return nil, false, fmt.Errorf("get data: %w", err)
	}

	var data []byte
	err = r.db.QueryRowContext(ctx, findDataQuery, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("get data: %w", &graph.BackendError{Op: "select", Key: key, Err: err})
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

	_, err = r.db.ExecContext(ctx, upsertDataQuery, key, p.Classifier.Type, p.Classifier.Category, data)
	if err != nil {
		return fmt.Errorf("save data: %w", &graph.BackendError{Op: "upsert", Key: key, Err: err})
	}
	return nil
}

// Remove detaches the payload of p, if any.
func (r *DataRepository) Remove(ctx context.Context, p graph.Properties) error {
	key, err := graph.CompositeKey(p)
	if err != nil {
		return fmt.Errorf("remove data: %w", err)
	}

	if _, err = r.db.ExecContext(ctx, removeDataQuery, key); err != nil {
		return fmt.Errorf("remove data: %w", &graph.BackendError{Op: "delete", Key: key, Err: err})
	}
	return nil
}
