package graphtest

import (
	"context"
	"errors"
	"fmt"
	"github.com/ejacobg/nodegraph/graph"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
	"sync"
	"testing"
	"time"
)

// Epoch is a millisecond-aligned instant that suites can use to seed the
// test clock handed to a repository. Remote backends persist access times
// with millisecond precision.
var Epoch = time.UnixMilli(1_700_000_000_000).UTC()

// Suite defines a re-usable set of repository tests that can be executed
// against any type that implements graph.NodeRepository.
type Suite struct {
	Repo graph.NodeRepository

	// Clock must be the clock the repository under test reads "now" from.
	Clock *testclock.Clock

	// Optional helper functions.
	BeforeEach func(*testing.T)
	AfterEach  func(*testing.T)
}

func (s *Suite) TestNodeRepository(t *testing.T) {
	tests := []struct {
		name string
		fn   func(*testing.T, graph.NodeRepository, *testclock.Clock)
	}{
		{"Save rejects invalid nodes", TestSaveRejectsInvalidNode},
		{"Save round trip", TestSaveRoundTrip},
		{"Lookup", TestLookup},
		{"Get or create", TestGetOrCreate},
		{"Concurrent get or create", TestConcurrentGetOrCreate},
		{"Touch semantics", TestTouchSemantics},
		{"Access time never regresses", TestAccessTimeNeverRegresses},
		{"Relate symmetry", TestRelateSymmetry},
		{"Concurrent relate", TestConcurrentRelate},
		{"Merge not overwrite", TestMergeNotOverwrite},
		{"Explicit removals", TestExplicitRemovals},
		{"Remove cascades", TestRemoveCascades},
		{"Remove idempotent", TestRemoveIdempotent},
		{"Dangling self heal", TestDanglingSelfHeal},
		{"Expire all", TestExpireAll},
		{"Expire all cascades", TestExpireAllCascades},
		{"Concurrent reads during saves", TestConcurrentReadsDuringSaves},
		{"Task build scenario", TestTaskBuildScenario},
	}

	if s.BeforeEach == nil {
		s.BeforeEach = func(t *testing.T) {}
	}

	if s.AfterEach == nil {
		s.AfterEach = func(t *testing.T) {}
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s.BeforeEach(t)
			test.fn(t, s.Repo, s.Clock)
			s.AfterEach(t)
		})
	}
}

var (
	buildTasks  = graph.Classifier{Type: "task", Category: "build"}
	deployTasks = graph.Classifier{Type: "task", Category: "deploy"}
)

func newProps(c graph.Classifier) graph.Properties {
	return graph.Properties{ID: uuid.New().String(), Classifier: c}
}

// TestSaveRejectsInvalidNode verifies that nodes without a usable identity
// are never persisted.
func TestSaveRejectsInvalidNode(t *testing.T, repo graph.NodeRepository, clk *testclock.Clock) {
	ctx := context.Background()

	err := repo.Save(ctx, graph.NewNode(graph.Properties{Classifier: buildTasks}, clk.Now()))
	if !errors.Is(err, graph.ErrInvalidNode) {
		t.Fatalf("unexpected error %v, want %v", err, graph.ErrInvalidNode)
	}

	err = repo.Save(ctx, graph.NewNode(graph.NewProperties("a:b", "task", "build"), clk.Now()))
	if !errors.Is(err, graph.ErrInvalidKey) {
		t.Fatalf("unexpected error %v, want %v", err, graph.ErrInvalidKey)
	}

	if _, err = repo.GetOrCreate(ctx, graph.Properties{}); !errors.Is(err, graph.ErrInvalidNode) {
		t.Fatalf("unexpected error %v, want %v", err, graph.ErrInvalidNode)
	}

	assertLookup(t, repo, buildTasks)
}

// TestSaveRoundTrip verifies that a saved node can be fetched back.
func TestSaveRoundTrip(t *testing.T, repo graph.NodeRepository, clk *testclock.Clock) {
	ctx := context.Background()
	x, y, z := newProps(buildTasks), newProps(buildTasks), newProps(deployTasks)

	n := graph.NewNode(x, clk.Now()).AddRelationship(y).AddDependent(z)
	if err := repo.Save(ctx, n); err != nil {
		t.Fatalf("failed to save node: %v", err)
	}

	got := mustRead(t, repo, x)
	if !got.Equal(n) {
		t.Errorf("read node does not match saved node")
		logEdge(t, "got", got.Edge())
		logEdge(t, "want", n.Edge())
	}
	if !got.Diff().IsEmpty() {
		t.Errorf("persisted snapshot carries pending changes")
	}

	// Saving a snapshot without the relationship must not drop it.
	if err := repo.Save(ctx, graph.NewNode(x, clk.Now())); err != nil {
		t.Fatalf("failed to save node: %v", err)
	}
	got = mustGet(t, repo, x)
	assertMembers(t, "relationships", got.Edge().Relationships(), y)
	assertMembers(t, "dependents", got.Edge().Dependents(), z)

	// Neighbours referenced only through an edge are not created.
	if _, found, err := repo.Read(ctx, y); err != nil || found {
		t.Errorf("unexpected read result for neighbour: found=%t err=%v", found, err)
	}
}

// TestLookup verifies classifier-scoped lookups.
func TestLookup(t *testing.T, repo graph.NodeRepository, _ *testclock.Clock) {
	assertLookup(t, repo, graph.Classifier{Type: "unknown", Category: "unknown"})

	var builds []graph.Properties
	for i := 0; i < 5; i++ {
		builds = append(builds, mustGetOrCreate(t, repo, newProps(buildTasks)).Properties())
	}
	deploy := mustGetOrCreate(t, repo, newProps(deployTasks)).Properties()

	assertLookup(t, repo, buildTasks, builds...)
	assertLookup(t, repo, deployTasks, deploy)
}

// TestGetOrCreate verifies that existing nodes are returned untouched and
// missing ones are created empty.
func TestGetOrCreate(t *testing.T, repo graph.NodeRepository, clk *testclock.Clock) {
	ctx := context.Background()
	x, y := newProps(buildTasks), newProps(buildTasks)

	created := mustGetOrCreate(t, repo, x)
	if created.Properties() != x {
		t.Fatalf("created node has properties %v, want %v", created.Properties(), x)
	}
	if len(created.Edge().Relationships()) != 0 || len(created.Edge().Dependents()) != 0 {
		t.Fatalf("created node is not empty")
	}
	if !created.LastAccessTime().Equal(clk.Now()) {
		t.Errorf("created node access time %v, want %v", created.LastAccessTime(), clk.Now())
	}

	if err := repo.Save(ctx, created.AddRelationship(y)); err != nil {
		t.Fatalf("failed to save node: %v", err)
	}

	clk.Advance(time.Minute)
	existing := mustGetOrCreate(t, repo, x)
	assertMembers(t, "relationships", existing.Edge().Relationships(), y)
	if !existing.LastAccessTime().Equal(clk.Now()) {
		t.Errorf("get or create did not touch existing node: got %v, want %v", existing.LastAccessTime(), clk.Now())
	}
}

// TestConcurrentGetOrCreate verifies that racing creators end up with a
// single node.
func TestConcurrentGetOrCreate(t *testing.T, repo graph.NodeRepository, _ *testclock.Clock) {
	var (
		wg         sync.WaitGroup
		numWorkers = 10
		p          = newProps(buildTasks)
	)

	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			if _, err := repo.GetOrCreate(context.Background(), p); err != nil {
				t.Errorf("get or create failed: %v", err)
			}
		}()
	}
	waitOrTimeout(t, &wg)

	assertLookup(t, repo, buildTasks, p)
}

// TestTouchSemantics verifies that Read never changes the access time while
// Get always advances it.
func TestTouchSemantics(t *testing.T, repo graph.NodeRepository, clk *testclock.Clock) {
	x := newProps(buildTasks)
	created := mustGetOrCreate(t, repo, x).LastAccessTime()

	clk.Advance(time.Minute)
	if got := mustRead(t, repo, x).LastAccessTime(); !got.Equal(created) {
		t.Fatalf("read changed access time: got %v, want %v", got, created)
	}
	if got := mustRead(t, repo, x).LastAccessTime(); !got.Equal(created) {
		t.Fatalf("repeated read changed access time: got %v, want %v", got, created)
	}

	touched := mustGet(t, repo, x).LastAccessTime()
	if touched.Before(created) {
		t.Fatalf("get regressed access time: got %v, prior %v", touched, created)
	}
	if !touched.Equal(clk.Now()) {
		t.Errorf("get access time %v, want %v", touched, clk.Now())
	}
	if got := mustRead(t, repo, x).LastAccessTime(); !got.Equal(touched) {
		t.Errorf("touch was not persisted: got %v, want %v", got, touched)
	}
}

// TestAccessTimeNeverRegresses verifies that saving a stale snapshot keeps
// the most recent access time.
func TestAccessTimeNeverRegresses(t *testing.T, repo graph.NodeRepository, clk *testclock.Clock) {
	ctx := context.Background()
	x := newProps(buildTasks)
	now := clk.Now()

	if err := repo.Save(ctx, graph.NewNode(x, now)); err != nil {
		t.Fatalf("failed to save node: %v", err)
	}
	if err := repo.Save(ctx, graph.NewNode(x, now.Add(-time.Hour))); err != nil {
		t.Fatalf("failed to save node: %v", err)
	}
	if got := mustRead(t, repo, x).LastAccessTime(); !got.Equal(now) {
		t.Errorf("access time regressed: got %v, want %v", got, now)
	}

	later := now.Add(time.Hour)
	if err := repo.Save(ctx, graph.NewNode(x, later)); err != nil {
		t.Fatalf("failed to save node: %v", err)
	}
	if got := mustRead(t, repo, x).LastAccessTime(); !got.Equal(later) {
		t.Errorf("access time not advanced: got %v, want %v", got, later)
	}
}

// TestRelateSymmetry verifies that relating two nodes updates both ends.
func TestRelateSymmetry(t *testing.T, repo graph.NodeRepository, _ *testclock.Clock) {
	ctx := context.Background()
	a := mustGetOrCreate(t, repo, newProps(buildTasks))
	b := mustGetOrCreate(t, repo, newProps(deployTasks))
	c := mustGetOrCreate(t, repo, newProps(deployTasks))

	if err := repo.Relate(ctx, a, b); err != nil {
		t.Fatalf("failed to relate nodes: %v", err)
	}
	// Relating from a stale snapshot of a must keep the a->b edge.
	if err := repo.Relate(ctx, a, c); err != nil {
		t.Fatalf("failed to relate nodes: %v", err)
	}

	gotA := mustGet(t, repo, a.Properties())
	assertMembers(t, "a relationships", gotA.Edge().Relationships(), b.Properties(), c.Properties())
	assertMembers(t, "a dependents", gotA.Edge().Dependents())
	for _, other := range []graph.Node{b, c} {
		got := mustGet(t, repo, other.Properties())
		assertMembers(t, "dependents", got.Edge().Dependents(), a.Properties())
		assertMembers(t, "relationships", got.Edge().Relationships())
	}

	if err := repo.Relate(ctx, graph.Node{}, b); !errors.Is(err, graph.ErrInvalidNode) {
		t.Errorf("unexpected error %v, want %v", err, graph.ErrInvalidNode)
	}
}

// TestConcurrentRelate verifies that concurrent relates on a shared node
// never lose edges.
func TestConcurrentRelate(t *testing.T, repo graph.NodeRepository, _ *testclock.Clock) {
	var (
		wg       sync.WaitGroup
		numLeafs = 20
		hub      = mustGetOrCreate(t, repo, newProps(buildTasks))
		leafs    = make([]graph.Properties, numLeafs)
	)

	for i := range leafs {
		leafs[i] = mustGetOrCreate(t, repo, newProps(deployTasks)).Properties()
	}

	wg.Add(numLeafs)
	for _, leaf := range leafs {
		go func(leaf graph.Properties) {
			defer wg.Done()
			leafNode, found, err := repo.Read(context.Background(), leaf)
			if err != nil || !found {
				t.Errorf("failed to read leaf %v: found=%t err=%v", leaf, found, err)
				return
			}
			// Every goroutine relates from the same stale hub snapshot.
			if err = repo.Relate(context.Background(), hub, leafNode); err != nil {
				t.Errorf("failed to relate %v: %v", leaf, err)
			}
		}(leaf)
	}
	waitOrTimeout(t, &wg)

	got := mustGet(t, repo, hub.Properties())
	assertMembers(t, "hub relationships", got.Edge().Relationships(), leafs...)
	for _, leaf := range leafs {
		assertMembers(t, fmt.Sprintf("dependents of %s", leaf.ID), mustRead(t, repo, leaf).Edge().Dependents(), hub.Properties())
	}
}

// TestMergeNotOverwrite verifies that saving a stale snapshot merges with the
// persisted edge instead of replacing it.
func TestMergeNotOverwrite(t *testing.T, repo graph.NodeRepository, clk *testclock.Clock) {
	ctx := context.Background()
	n, x, y := newProps(buildTasks), newProps(buildTasks), newProps(buildTasks)

	stale := mustGetOrCreate(t, repo, n)

	// Another caller adds X in between.
	if err := repo.Save(ctx, mustRead(t, repo, n).AddRelationship(x)); err != nil {
		t.Fatalf("failed to save node: %v", err)
	}
	if err := repo.Save(ctx, stale.AddRelationship(y)); err != nil {
		t.Fatalf("failed to save node: %v", err)
	}

	assertMembers(t, "relationships", mustGet(t, repo, n).Edge().Relationships(), x, y)
}

// TestExplicitRemovals verifies that members explicitly removed from a
// snapshot are removed from the persisted edge on save.
func TestExplicitRemovals(t *testing.T, repo graph.NodeRepository, clk *testclock.Clock) {
	ctx := context.Background()
	n, x, y, z := newProps(buildTasks), newProps(buildTasks), newProps(buildTasks), newProps(deployTasks)

	seed := graph.NewNode(n, clk.Now()).AddRelationship(x).AddRelationship(y).AddDependent(z)
	if err := repo.Save(ctx, seed); err != nil {
		t.Fatalf("failed to save node: %v", err)
	}

	loaded := mustRead(t, repo, n)
	if err := repo.Save(ctx, loaded.RemoveRelationship(x).RemoveDependent(z)); err != nil {
		t.Fatalf("failed to save node: %v", err)
	}

	got := mustRead(t, repo, n)
	assertMembers(t, "relationships", got.Edge().Relationships(), y)
	assertMembers(t, "dependents", got.Edge().Dependents())
}

// TestRemoveCascades verifies that removing a node detaches it from every
// neighbour.
func TestRemoveCascades(t *testing.T, repo graph.NodeRepository, _ *testclock.Clock) {
	ctx := context.Background()
	up := mustGetOrCreate(t, repo, newProps(buildTasks))
	mid := mustGetOrCreate(t, repo, newProps(buildTasks))
	down := mustGetOrCreate(t, repo, newProps(buildTasks))

	// down -> mid -> up
	if err := repo.Relate(ctx, mid, up); err != nil {
		t.Fatalf("failed to relate nodes: %v", err)
	}
	if err := repo.Relate(ctx, down, mustRead(t, repo, mid.Properties())); err != nil {
		t.Fatalf("failed to relate nodes: %v", err)
	}

	upTime := mustRead(t, repo, up.Properties()).LastAccessTime()
	if err := repo.Remove(ctx, mid.Properties()); err != nil {
		t.Fatalf("failed to remove node: %v", err)
	}

	if _, found, err := repo.Read(ctx, mid.Properties()); err != nil || found {
		t.Fatalf("unexpected read result for removed node: found=%t err=%v", found, err)
	}
	assertLookup(t, repo, buildTasks, up.Properties(), down.Properties())

	gotUp := mustRead(t, repo, up.Properties())
	assertMembers(t, "up dependents", gotUp.Edge().Dependents())
	if !gotUp.LastAccessTime().Equal(upTime) {
		t.Errorf("cascading remove touched neighbour: got %v, want %v", gotUp.LastAccessTime(), upTime)
	}
	assertMembers(t, "down relationships", mustRead(t, repo, down.Properties()).Edge().Relationships())
}

// TestRemoveIdempotent verifies that removing a missing node is a no-op.
func TestRemoveIdempotent(t *testing.T, repo graph.NodeRepository, _ *testclock.Clock) {
	ctx := context.Background()
	other := mustGetOrCreate(t, repo, newProps(buildTasks))
	missing := newProps(buildTasks)

	for i := 0; i < 2; i++ {
		if err := repo.Remove(ctx, missing); err != nil {
			t.Fatalf("remove #%d of missing node failed: %v", i, err)
		}
	}

	assertLookup(t, repo, buildTasks, other.Properties())
	if !mustRead(t, repo, other.Properties()).Equal(other) {
		t.Errorf("removing a missing node changed an unrelated node")
	}
}

// TestDanglingSelfHeal verifies that removals tolerate neighbours that are
// already gone.
func TestDanglingSelfHeal(t *testing.T, repo graph.NodeRepository, clk *testclock.Clock) {
	ctx := context.Background()
	a := mustGetOrCreate(t, repo, newProps(buildTasks))
	b := mustGetOrCreate(t, repo, newProps(buildTasks))

	if err := repo.Relate(ctx, a, b); err != nil {
		t.Fatalf("failed to relate nodes: %v", err)
	}
	if err := repo.Remove(ctx, b.Properties()); err != nil {
		t.Fatalf("failed to remove b: %v", err)
	}
	if err := repo.Remove(ctx, a.Properties()); err != nil {
		t.Fatalf("failed to remove a: %v", err)
	}
	assertLookup(t, repo, buildTasks)

	// A node whose neighbours never existed.
	ghost := newProps(deployTasks)
	c := graph.NewNode(newProps(buildTasks), clk.Now()).AddRelationship(ghost).AddDependent(ghost)
	if err := repo.Save(ctx, c); err != nil {
		t.Fatalf("failed to save node: %v", err)
	}
	if err := repo.Remove(ctx, c.Properties()); err != nil {
		t.Fatalf("failed to remove node with dangling edges: %v", err)
	}
	assertLookup(t, repo, buildTasks)
	assertLookup(t, repo, deployTasks)
}

// TestExpireAll verifies the TTL boundary of ExpireAll.
func TestExpireAll(t *testing.T, repo graph.NodeRepository, clk *testclock.Clock) {
	ctx := context.Background()
	ttl := time.Hour
	now := clk.Now()

	stale := graph.NewNode(newProps(buildTasks), now.Add(-ttl-time.Millisecond))
	boundary := graph.NewNode(newProps(buildTasks), now.Add(-ttl))
	fresh := graph.NewNode(newProps(buildTasks), now.Add(-ttl+time.Millisecond))
	otherClassifier := graph.NewNode(newProps(deployTasks), now.Add(-2*ttl))
	for _, n := range []graph.Node{stale, boundary, fresh, otherClassifier} {
		if err := repo.Save(ctx, n); err != nil {
			t.Fatalf("failed to save node: %v", err)
		}
	}

	if err := repo.ExpireAll(ctx, buildTasks, ttl); err != nil {
		t.Fatalf("expire all failed: %v", err)
	}

	assertLookup(t, repo, buildTasks, boundary.Properties(), fresh.Properties())
	assertLookup(t, repo, deployTasks, otherClassifier.Properties())
	if _, found, err := repo.Read(ctx, stale.Properties()); err != nil || found {
		t.Errorf("unexpected read result for expired node: found=%t err=%v", found, err)
	}

	// The scan itself must not refresh survivors.
	if got := mustRead(t, repo, fresh.Properties()).LastAccessTime(); !got.Equal(fresh.LastAccessTime()) {
		t.Errorf("expire all touched a surviving node: got %v, want %v", got, fresh.LastAccessTime())
	}

	if err := repo.ExpireAll(ctx, graph.Classifier{Type: "unknown", Category: "unknown"}, ttl); err != nil {
		t.Errorf("expire all on unknown classifier failed: %v", err)
	}
}

// TestExpireAllCascades verifies that expired nodes are detached from their
// surviving neighbours.
func TestExpireAllCascades(t *testing.T, repo graph.NodeRepository, clk *testclock.Clock) {
	ctx := context.Background()
	ttl := time.Minute

	old := mustGetOrCreate(t, repo, newProps(buildTasks))
	clk.Advance(ttl + time.Second)
	recent := mustGetOrCreate(t, repo, newProps(deployTasks))
	if err := repo.Relate(ctx, recent, old); err != nil {
		t.Fatalf("failed to relate nodes: %v", err)
	}

	// Relate keeps the access times of the snapshots it is given.
	if err := repo.ExpireAll(ctx, buildTasks, ttl); err != nil {
		t.Fatalf("expire all failed: %v", err)
	}

	assertLookup(t, repo, buildTasks)
	assertMembers(t, "relationships", mustRead(t, repo, recent.Properties()).Edge().Relationships())
}

// TestConcurrentReadsDuringSaves verifies that readers racing with writers
// observe consistent-enough, possibly partial, state without errors.
func TestConcurrentReadsDuringSaves(t *testing.T, repo graph.NodeRepository, _ *testclock.Clock) {
	var (
		wg         sync.WaitGroup
		numLeafs   = 20
		numReaders = 4
		hub        = mustGetOrCreate(t, repo, newProps(buildTasks))
		leafs      = make([]graph.Properties, numLeafs)
		done       = make(chan struct{})
	)
	for i := range leafs {
		leafs[i] = mustGetOrCreate(t, repo, newProps(deployTasks)).Properties()
	}
	allowed := graph.NewSet(leafs...)

	wg.Add(numReaders)
	for i := 0; i < numReaders; i++ {
		go func(id int) {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}

				n, found, err := repo.Read(context.Background(), hub.Properties())
				if err != nil || !found {
					t.Errorf("reader %d: found=%t err=%v", id, found, err)
					return
				}
				for _, p := range n.Edge().Relationships() {
					if !allowed.Contains(p) {
						t.Errorf("reader %d observed unknown relationship %v", id, p)
						return
					}
				}
			}
		}(i)
	}

	for _, leaf := range leafs {
		if err := repo.Relate(context.Background(), hub, graph.NewNode(leaf, hub.LastAccessTime())); err != nil {
			t.Errorf("failed to relate %v: %v", leaf, err)
		}
	}
	close(done)
	waitOrTimeout(t, &wg)

	assertMembers(t, "hub relationships", mustRead(t, repo, hub.Properties()).Edge().Relationships(), leafs...)
}

// TestTaskBuildScenario runs the canonical two node scenario end to end.
func TestTaskBuildScenario(t *testing.T, repo graph.NodeRepository, _ *testclock.Clock) {
	ctx := context.Background()
	a := graph.NewProperties("a", "task", "build")
	b := graph.NewProperties("b", "task", "build")

	nodeA := mustGetOrCreate(t, repo, a)
	nodeB := mustGetOrCreate(t, repo, b)
	if err := repo.Relate(ctx, nodeA, nodeB); err != nil {
		t.Fatalf("failed to relate nodes: %v", err)
	}

	assertLookup(t, repo, buildTasks, a, b)
	assertMembers(t, "a relationships", mustGet(t, repo, a).Edge().Relationships(), b)
	assertMembers(t, "b dependents", mustGet(t, repo, b).Edge().Dependents(), a)

	if err := repo.Remove(ctx, b); err != nil {
		t.Fatalf("failed to remove b: %v", err)
	}
	assertMembers(t, "a relationships", mustGet(t, repo, a).Edge().Relationships())
	assertLookup(t, repo, buildTasks, a)
}

func mustGetOrCreate(t *testing.T, repo graph.NodeRepository, p graph.Properties) graph.Node {
	t.Helper()
	n, err := repo.GetOrCreate(context.Background(), p)
	if err != nil {
		t.Fatalf("get or create %v failed: %v", p, err)
	}
	return n
}

func mustGet(t *testing.T, repo graph.NodeRepository, p graph.Properties) graph.Node {
	t.Helper()
	n, found, err := repo.Get(context.Background(), p)
	if err != nil {
		t.Fatalf("get %v failed: %v", p, err)
	}
	if !found {
		t.Fatalf("node %v not found", p)
	}
	return n
}

func mustRead(t *testing.T, repo graph.NodeRepository, p graph.Properties) graph.Node {
	t.Helper()
	n, found, err := repo.Read(context.Background(), p)
	if err != nil {
		t.Fatalf("read %v failed: %v", p, err)
	}
	if !found {
		t.Fatalf("node %v not found", p)
	}
	return n
}

func assertLookup(t *testing.T, repo graph.NodeRepository, c graph.Classifier, exp ...graph.Properties) {
	t.Helper()
	got, err := repo.Lookup(context.Background(), c)
	if err != nil {
		t.Fatalf("lookup %v failed: %v", c, err)
	}
	assertMembers(t, "lookup "+c.String(), got, exp...)
}

func assertMembers(t *testing.T, what string, got []graph.Properties, exp ...graph.Properties) {
	t.Helper()
	got = append([]graph.Properties{}, got...)
	exp = append([]graph.Properties{}, exp...)
	graph.SortProperties(got)
	graph.SortProperties(exp)
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Errorf("%s mismatch (-want +got):\n%s", what, diff)
	}
}

func logEdge(t *testing.T, label string, e graph.Edge) {
	t.Logf("%s relationships: %v", label, e.Relationships())
	t.Logf("%s dependents: %v", label, e.Dependents())
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
	// test completed successfully
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for test to complete")
	}
}
