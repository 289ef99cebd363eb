package metrics

import (
	"context"
	"errors"
	"github.com/ejacobg/nodegraph/graph"
	"github.com/ejacobg/nodegraph/graph/graphtest"
	"github.com/ejacobg/nodegraph/inmem"
	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"testing"
)

func newInstrumented(t *testing.T, clk *testclock.Clock) (*Repository, *prometheus.Registry) {
	t.Helper()
	backend, err := inmem.NewRepository(inmem.Config{Clock: clk})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	reg := prometheus.NewRegistry()
	return NewRepository(backend, reg), reg
}

func TestAcceptance(t *testing.T) {
	// The decorator must not change the semantics of what it wraps.
	suite := graphtest.Suite{Clock: testclock.NewClock(graphtest.Epoch)}

	suite.BeforeEach = func(t *testing.T) {
		suite.Repo, _ = newInstrumented(t, suite.Clock)
	}

	suite.TestNodeRepository(t)
}

func TestOperationCounters(t *testing.T) {
	var (
		ctx      = context.Background()
		repo, _  = newInstrumented(t, testclock.NewClock(graphtest.Epoch))
		existing = graph.NewProperties("a", "task", "build")
		missing  = graph.NewProperties("b", "task", "build")
	)

	if _, err := repo.GetOrCreate(ctx, existing); err != nil {
		t.Fatalf("get or create failed: %v", err)
	}
	_, _, _ = repo.Get(ctx, existing)
	_, _, _ = repo.Get(ctx, missing)
	_, _, _ = repo.Read(ctx, missing)
	if err := repo.Save(ctx, graph.NewNode(graph.Properties{}, graphtest.Epoch)); !errors.Is(err, graph.ErrInvalidNode) {
		t.Fatalf("unexpected error %v, want %v", err, graph.ErrInvalidNode)
	}

	for _, spec := range []struct {
		op, outcome string
		exp         float64
	}{
		{"get_or_create", outcomeOK, 1},
		{"get", outcomeOK, 1},
		{"get", outcomeMiss, 1},
		{"read", outcomeMiss, 1},
		{"save", outcomeError, 1},
		{"save", outcomeOK, 0},
	} {
		got := testutil.ToFloat64(repo.operations.WithLabelValues(spec.op, spec.outcome))
		if got != spec.exp {
			t.Errorf("operations{op=%q,outcome=%q} = %v, want %v", spec.op, spec.outcome, got, spec.exp)
		}
	}
}

func TestMetricsAreRegistered(t *testing.T) {
	repo, reg := newInstrumented(t, testclock.NewClock(graphtest.Epoch))
	if _, err := repo.Lookup(context.Background(), graph.Classifier{Type: "task", Category: "build"}); err != nil {
		t.Fatalf("lookup failed: %v", err)
	}

	count, err := testutil.GatherAndCount(reg, "nodegraph_repository_operations_total", "nodegraph_repository_operation_duration_seconds")
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	if count != 2 {
		t.Errorf("gathered %d series, want 2", count)
	}
}
