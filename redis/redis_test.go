package redis

import (
	"context"
	"errors"
	"github.com/alicebob/miniredis/v2"
	"github.com/ejacobg/nodegraph/graph"
	"github.com/ejacobg/nodegraph/graph/graphtest"
	"github.com/ejacobg/nodegraph/redis/mocks"
	"github.com/golang/mock/gomock"
	"github.com/google/go-cmp/cmp"
	"github.com/juju/clock/testclock"
	"github.com/redis/go-redis/v9"
	"sort"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestAcceptance(t *testing.T) {
	mr, client := newMiniRedis(t)
	clk := testclock.NewClock(graphtest.Epoch)

	repo, err := NewRepository(client, Config{Clock: clk})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	suite := graphtest.Suite{
		Repo:  repo,
		Clock: clk,
		BeforeEach: func(t *testing.T) {
			mr.FlushAll()
		},
	}

	suite.TestNodeRepository(t)
}

func TestDataAcceptance(t *testing.T) {
	mr, client := newMiniRedis(t)

	suite := graphtest.DataSuite{
		Repo: NewDataRepository(client),
		BeforeEach: func(t *testing.T) {
			mr.FlushAll()
		},
	}

	suite.TestDataRepository(t)
}

func TestKeyLayout(t *testing.T) {
	var (
		ctx       = context.Background()
		mr, rdb   = newMiniRedis(t)
		clk       = testclock.NewClock(graphtest.Epoch)
		repo, err = NewRepository(rdb, Config{Clock: clk})
		a         = graph.NewProperties("a", "task", "build")
		b         = graph.NewProperties("b", "task", "build")
	)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	nodeA, _ := repo.GetOrCreate(ctx, a)
	nodeB, _ := repo.GetOrCreate(ctx, b)
	if err = repo.Relate(ctx, nodeA, nodeB); err != nil {
		t.Fatalf("failed to relate nodes: %v", err)
	}

	if got, want := mr.HGet("node:all", "a:task:build"), "1700000000000"; got != want {
		t.Errorf("access time field = %q, want %q", got, want)
	}
	assertRawMembers(t, mr, "classifier:task:build", "a:task:build", "b:task:build")
	assertRawMembers(t, mr, "relationships:a:task:build", "b:task:build")
	assertRawMembers(t, mr, "dependents:b:task:build", "a:task:build")

	if err = repo.Remove(ctx, b); err != nil {
		t.Fatalf("failed to remove node: %v", err)
	}
	for _, key := range []string{"dependents:b:task:build", "relationships:b:task:build", "relationships:a:task:build"} {
		if mr.Exists(key) {
			t.Errorf("expected key %q to be deleted", key)
		}
	}
	if mr.HGet("node:all", "b:task:build") != "" {
		t.Error("expected access time field of b to be deleted")
	}
	assertRawMembers(t, mr, "classifier:task:build", "a:task:build")
}

func TestLookupSkipsMalformedMembers(t *testing.T) {
	mr, client := newMiniRedis(t)
	repo, err := NewRepository(client, Config{})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	if _, err = mr.SAdd("classifier:task:build", "a:task:build", "garbage"); err != nil {
		t.Fatalf("failed to seed classifier set: %v", err)
	}

	got, err := repo.Lookup(context.Background(), graph.Classifier{Type: "task", Category: "build"})
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if diff := cmp.Diff([]graph.Properties{graph.NewProperties("a", "task", "build")}, got); diff != "" {
		t.Errorf("lookup mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveAbortsOnFirstFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	rdb := mocks.NewMockCommander(ctrl)
	gomock.InOrder(
		rdb.EXPECT().HGet(gomock.Any(), "node:all", "a:task:build").Return(redis.NewStringResult("", redis.Nil)),
		rdb.EXPECT().HSet(gomock.Any(), "node:all", "a:task:build", graphtest.Epoch.UnixMilli()).Return(redis.NewIntResult(1, nil)),
		rdb.EXPECT().SAdd(gomock.Any(), "classifier:task:build", "a:task:build").Return(redis.NewIntResult(0, errBoom)),
		// No edge set is touched after the failure.
	)

	repo, err := NewRepository(rdb, Config{Clock: testclock.NewClock(graphtest.Epoch)})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	n := graph.NewNode(graph.NewProperties("a", "task", "build"), graphtest.Epoch).AddRelationship(graph.NewProperties("b", "task", "build"))
	err = repo.Save(context.Background(), n)
	assertBackendErr(t, err, "sadd")
}

func TestSaveWritesLaterAccessTime(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var (
		rdb    = mocks.NewMockCommander(ctrl)
		stored = graphtest.Epoch.Add(time.Hour)
	)
	gomock.InOrder(
		rdb.EXPECT().HGet(gomock.Any(), "node:all", "a:task:build").Return(redis.NewStringResult("1700003600000", nil)),
		rdb.EXPECT().HSet(gomock.Any(), "node:all", "a:task:build", stored.UnixMilli()).Return(redis.NewIntResult(0, nil)),
		rdb.EXPECT().SAdd(gomock.Any(), "classifier:task:build", "a:task:build").Return(redis.NewIntResult(0, nil)),
		rdb.EXPECT().SMembers(gomock.Any(), "relationships:a:task:build").Return(redis.NewStringSliceResult(nil, nil)),
		rdb.EXPECT().SMembers(gomock.Any(), "dependents:a:task:build").Return(redis.NewStringSliceResult(nil, nil)),
	)

	repo, err := NewRepository(rdb, Config{Clock: testclock.NewClock(graphtest.Epoch)})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	if err = repo.Save(context.Background(), graph.NewNode(graph.NewProperties("a", "task", "build"), graphtest.Epoch)); err != nil {
		t.Fatalf("save failed: %v", err)
	}
}

func TestRemoveAbortsWhenNeighbourReadFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	rdb := mocks.NewMockCommander(ctrl)
	gomock.InOrder(
		rdb.EXPECT().HGet(gomock.Any(), "node:all", "a:task:build").Return(redis.NewStringResult("1700000000000", nil)),
		rdb.EXPECT().SMembers(gomock.Any(), "relationships:a:task:build").Return(redis.NewStringSliceResult([]string{"b:task:build"}, nil)),
		rdb.EXPECT().SMembers(gomock.Any(), "dependents:a:task:build").Return(redis.NewStringSliceResult(nil, nil)),
		rdb.EXPECT().HGet(gomock.Any(), "node:all", "b:task:build").Return(redis.NewStringResult("", errBoom)),
		// The node's own keys are left in place.
	)

	repo, err := NewRepository(rdb, Config{})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	err = repo.Remove(context.Background(), graph.NewProperties("a", "task", "build"))
	assertBackendErr(t, err, "hget")
}

func TestRemovePurgesMissingNode(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	rdb := mocks.NewMockCommander(ctrl)
	gomock.InOrder(
		rdb.EXPECT().HGet(gomock.Any(), "node:all", "a:task:build").Return(redis.NewStringResult("", redis.Nil)),
		rdb.EXPECT().HDel(gomock.Any(), "node:all", "a:task:build").Return(redis.NewIntResult(0, nil)),
		rdb.EXPECT().SRem(gomock.Any(), "classifier:task:build", "a:task:build").Return(redis.NewIntResult(0, nil)),
		rdb.EXPECT().Del(gomock.Any(), "dependents:a:task:build", "relationships:a:task:build").Return(redis.NewIntResult(0, nil)),
	)

	repo, err := NewRepository(rdb, Config{})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	if err = repo.Remove(context.Background(), graph.NewProperties("a", "task", "build")); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
}

func TestGetSurfacesBackendErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	rdb := mocks.NewMockCommander(ctrl)
	rdb.EXPECT().HGet(gomock.Any(), "node:all", "a:task:build").Return(redis.NewStringResult("", errBoom))
	rdb.EXPECT().SMembers(gomock.Any(), "classifier:task:build").Return(redis.NewStringSliceResult(nil, errBoom))

	repo, err := NewRepository(rdb, Config{})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	_, found, err := repo.Get(context.Background(), graph.NewProperties("a", "task", "build"))
	if found {
		t.Error("expected node to be reported as absent on failure")
	}
	assertBackendErr(t, err, "hget")

	_, err = repo.Lookup(context.Background(), graph.Classifier{Type: "task", Category: "build"})
	assertBackendErr(t, err, "smembers")
}

// faultyCommander fails HDel or HGet calls for a single field.
type faultyCommander struct {
	Commander
	failHDel string
	failHGet string
}

func (f *faultyCommander) HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd {
	for _, field := range fields {
		if field == f.failHDel {
			return redis.NewIntResult(0, errBoom)
		}
	}
	return f.Commander.HDel(ctx, key, fields...)
}

func (f *faultyCommander) HGet(ctx context.Context, key, field string) *redis.StringCmd {
	if field == f.failHGet {
		return redis.NewStringResult("", errBoom)
	}
	return f.Commander.HGet(ctx, key, field)
}

func TestExpireAllRemovalsAreIndependent(t *testing.T) {
	var (
		ctx       = context.Background()
		_, client = newMiniRedis(t)
		clk       = testclock.NewClock(graphtest.Epoch)
		build     = graph.Classifier{Type: "task", Category: "build"}
		stuck     = graph.NewProperties("stuck", "task", "build")
		others    = []graph.Properties{
			graph.NewProperties("x", "task", "build"),
			graph.NewProperties("y", "task", "build"),
			graph.NewProperties("z", "task", "build"),
		}
	)

	repo, err := NewRepository(&faultyCommander{Commander: client, failHDel: "stuck:task:build"}, Config{Clock: clk, ScanWorkers: 2})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	for _, p := range append([]graph.Properties{stuck}, others...) {
		if _, err = repo.GetOrCreate(ctx, p); err != nil {
			t.Fatalf("failed to create node: %v", err)
		}
	}

	clk.Advance(2 * time.Hour)
	err = repo.ExpireAll(ctx, build, time.Hour)
	assertBackendErr(t, err, "hdel")

	for _, p := range others {
		if _, found, err := repo.Read(ctx, p); err != nil || found {
			t.Errorf("expected %v to be expired: found=%t err=%v", p, found, err)
		}
	}
	if _, found, _ := repo.Read(ctx, stuck); !found {
		t.Error("expected the node whose removal failed to survive")
	}
}

func TestExpireAllReadsAreIndependent(t *testing.T) {
	var (
		ctx       = context.Background()
		_, client = newMiniRedis(t)
		clk       = testclock.NewClock(graphtest.Epoch)
		build     = graph.Classifier{Type: "task", Category: "build"}
		stuck     = graph.NewProperties("stuck", "task", "build")
		others    = []graph.Properties{
			graph.NewProperties("x", "task", "build"),
			graph.NewProperties("y", "task", "build"),
		}
		rdb = &faultyCommander{Commander: client}
	)

	repo, err := NewRepository(rdb, Config{Clock: clk, ScanWorkers: 2})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	for _, p := range append([]graph.Properties{stuck}, others...) {
		if _, err = repo.GetOrCreate(ctx, p); err != nil {
			t.Fatalf("failed to create node: %v", err)
		}
	}

	clk.Advance(2 * time.Hour)
	rdb.failHGet = "stuck:task:build"
	err = repo.ExpireAll(ctx, build, time.Hour)
	assertBackendErr(t, err, "hget")

	for _, p := range others {
		if _, found, err := repo.Read(ctx, p); err != nil || found {
			t.Errorf("expected %v to be expired: found=%t err=%v", p, found, err)
		}
	}

	rdb.failHGet = ""
	if _, found, _ := repo.Read(ctx, stuck); !found {
		t.Error("expected the node that could not be read to survive")
	}
}

func TestExpireAllDropsStaleClassifierMembers(t *testing.T) {
	var (
		ctx     = context.Background()
		mr, rdb = newMiniRedis(t)
		clk     = testclock.NewClock(graphtest.Epoch)
		build   = graph.Classifier{Type: "task", Category: "build"}
		live    = graph.NewProperties("live", "task", "build")
	)

	repo, err := NewRepository(rdb, Config{Clock: clk})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	if _, err = repo.GetOrCreate(ctx, live); err != nil {
		t.Fatalf("failed to create node: %v", err)
	}
	// A member whose node has no access time field.
	if _, err = mr.SAdd("classifier:task:build", "ghost:task:build"); err != nil {
		t.Fatal(err)
	}

	if err = repo.ExpireAll(ctx, build, time.Hour); err != nil {
		t.Fatalf("expire all failed: %v", err)
	}
	assertRawMembers(t, mr, "classifier:task:build", "live:task:build")
}

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	_ = client.Close()

	if _, err = NewClient(context.Background(), "http://"+mr.Addr()); err == nil {
		t.Fatal("expected unsupported URI scheme to be rejected")
	}
}

func assertBackendErr(t *testing.T, err error, op string) {
	t.Helper()
	if !errors.Is(err, graph.ErrBackendIO) {
		t.Fatalf("unexpected error %v, want %v", err, graph.ErrBackendIO)
	}
	if !errors.Is(err, errBoom) {
		t.Fatalf("error %v does not wrap the cause", err)
	}
	var be *graph.BackendError
	if !errors.As(err, &be) || be.Op != op {
		t.Fatalf("error %v was not raised by %s", err, op)
	}
}

func assertRawMembers(t *testing.T, mr *miniredis.Miniredis, key string, exp ...string) {
	t.Helper()
	got, err := mr.Members(key)
	if err != nil {
		t.Fatalf("failed to read members of %q: %v", key, err)
	}
	sort.Strings(got)
	sort.Strings(exp)
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Errorf("members of %q mismatch (-want +got):\n%s", key, diff)
	}
}
