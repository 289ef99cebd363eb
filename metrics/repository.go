// Package metrics instruments node repositories with Prometheus metrics.
package metrics

import (
	"context"
	"github.com/ejacobg/nodegraph/graph"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"time"
)

// Compile-time check for ensuring Repository implements NodeRepository.
var _ graph.NodeRepository = (*Repository)(nil)

// Operation outcomes.
const (
	outcomeOK    = "ok"
	outcomeMiss  = "miss"
	outcomeError = "error"
)

// Repository decorates a graph.NodeRepository, counting and timing every
// operation it forwards.
type Repository struct {
	repo graph.NodeRepository

	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewRepository instruments repo and registers its metrics with reg.
func NewRepository(repo graph.NodeRepository, reg prometheus.Registerer) *Repository {
	factory := promauto.With(reg)
	return &Repository{
		repo: repo,
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodegraph_repository_operations_total",
				Help: "Total number of node repository operations, by outcome",
			},
			[]string{"op", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nodegraph_repository_operation_duration_seconds",
				Help:    "Duration of node repository operations in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"op"},
		),
	}
}

// Save implements graph.NodeRepository.
func (r *Repository) Save(ctx context.Context, n graph.Node) error {
	start := time.Now()
	err := r.repo.Save(ctx, n)
	r.observe("save", start, outcome(err))
	return err
}

// Lookup implements graph.NodeRepository.
func (r *Repository) Lookup(ctx context.Context, c graph.Classifier) ([]graph.Properties, error) {
	start := time.Now()
	list, err := r.repo.Lookup(ctx, c)
	r.observe("lookup", start, outcome(err))
	return list, err
}

// Get implements graph.NodeRepository.
func (r *Repository) Get(ctx context.Context, p graph.Properties) (graph.Node, bool, error) {
	start := time.Now()
	n, found, err := r.repo.Get(ctx, p)
	r.observe("get", start, lookupOutcome(found, err))
	return n, found, err
}

// Read implements graph.NodeRepository.
func (r *Repository) Read(ctx context.Context, p graph.Properties) (graph.Node, bool, error) {
	start := time.Now()
	n, found, err := r.repo.Read(ctx, p)
	r.observe("read", start, lookupOutcome(found, err))
	return n, found, err
}

// GetOrCreate implements graph.NodeRepository.
func (r *Repository) GetOrCreate(ctx context.Context, p graph.Properties) (graph.Node, error) {
	start := time.Now()
	n, err := r.repo.GetOrCreate(ctx, p)
	r.observe("get_or_create", start, outcome(err))
	return n, err
}

// Relate implements graph.NodeRepository.
func (r *Repository) Relate(ctx context.Context, left, right graph.Node) error {
	start := time.Now()
	err := r.repo.Relate(ctx, left, right)
	r.observe("relate", start, outcome(err))
	return err
}

// Remove implements graph.NodeRepository.
func (r *Repository) Remove(ctx context.Context, p graph.Properties) error {
	start := time.Now()
	err := r.repo.Remove(ctx, p)
	r.observe("remove", start, outcome(err))
	return err
}

// ExpireAll implements graph.NodeRepository.
func (r *Repository) ExpireAll(ctx context.Context, c graph.Classifier, ttl time.Duration) error {
	start := time.Now()
	err := r.repo.ExpireAll(ctx, c, ttl)
	r.observe("expire_all", start, outcome(err))
	return err
}

func (r *Repository) observe(op string, start time.Time, result string) {
	r.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	r.operations.WithLabelValues(op, result).Inc()
}

func outcome(err error) string {
	if err != nil {
		return outcomeError
	}
	return outcomeOK
}

func lookupOutcome(found bool, err error) string {
	if err == nil && !found {
		return outcomeMiss
	}
	return outcome(err)
}
