package frontend

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/ejacobg/nodegraph/graph"
	"google.golang.org/protobuf/encoding/protojson"
	"time"
)

// Converter turns nodes of a single classifier into a response body. A nil
// body with a nil error means that the node converts to nothing and is
// reported as not found.
type Converter interface {
	Classifier() graph.Classifier
	Convert(ctx context.Context, n graph.Node) (interface{}, error)
}

// Converters indexes converters by the classifier they handle.
type Converters map[graph.Classifier]Converter

// NewConverters builds a registry out of list. Later converters replace
// earlier ones registered for the same classifier.
func NewConverters(list ...Converter) Converters {
	reg := make(Converters, len(list))
	for _, c := range list {
		reg[c.Classifier()] = c
	}
	return reg
}

// NodeView is the JSON representation of a node and its edges.
type NodeView struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Category       string    `json:"category"`
	LastAccessTime time.Time `json:"last_access_time"`
	Relationships  []string  `json:"relationships"`
	Dependents     []string  `json:"dependents"`
}

// NewNodeView returns the JSON representation of n.
func NewNodeView(n graph.Node) NodeView {
	p := n.Properties()
	return NodeView{
		ID:             p.ID,
		Type:           p.Classifier.Type,
		Category:       p.Classifier.Category,
		LastAccessTime: n.LastAccessTime().UTC(),
		Relationships:  keys(n.Edge().Relationships()),
		Dependents:     keys(n.Edge().Dependents()),
	}
}

func keys(list []graph.Properties) []string {
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.String()
	}
	return out
}

// EdgeConverter renders nodes as a NodeView.
type EdgeConverter struct {
	For graph.Classifier
}

// Classifier implements Converter.
func (c EdgeConverter) Classifier() graph.Classifier { return c.For }

// Convert implements Converter.
func (c EdgeConverter) Convert(_ context.Context, n graph.Node) (interface{}, error) {
	return NewNodeView(n), nil
}

// DataConverter renders the payload attached to a node. Nodes without a
// payload convert to nothing.
type DataConverter struct {
	For  graph.Classifier
	Data graph.DataRepository
}

// Classifier implements Converter.
func (c DataConverter) Classifier() graph.Classifier { return c.For }

// Convert implements Converter.
func (c DataConverter) Convert(ctx context.Context, n graph.Node) (interface{}, error) {
	msg, found, err := c.Data.Get(ctx, n.Properties())
	if err != nil || !found {
		return nil, err
	}

	data, err := protojson.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("render payload of %s: %w", n.Properties(), err)
	}
	return json.RawMessage(data), nil
}
