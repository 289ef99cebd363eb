package async

import (
	"context"
	"errors"
	"github.com/ejacobg/nodegraph/graph"
	"github.com/ejacobg/nodegraph/inmem"
	"go.uber.org/goleak"
	"sync/atomic"
	"testing"
	"time"
)

func TestExecutorBoundsConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t)

	var (
		maxWorkers = 3
		exec       = NewExecutor(maxWorkers)
		running    int32
		peak       int32
		release    = make(chan struct{})
		futures    []*Future[int]
	)

	for i := 0; i < 10; i++ {
		i := i
		futures = append(futures, Submit(exec, func() (int, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&running, -1)
			return i, nil
		}))
	}

	close(release)
	for i, f := range futures {
		got, err := f.Result()
		if err != nil || got != i {
			t.Errorf("future %d completed with (%d, %v)", i, got, err)
		}
	}

	if p := atomic.LoadInt32(&peak); p > int32(maxWorkers) {
		t.Errorf("observed %d concurrent operations, want at most %d", p, maxWorkers)
	}
	if err := exec.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}

func TestExecutorRejectsAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	exec := NewExecutor(1)
	if err := exec.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	_, err := Submit(exec, func() (int, error) { return 1, nil }).Result()
	if !errors.Is(err, ErrExecutorClosed) {
		t.Fatalf("unexpected error %v, want %v", err, ErrExecutorClosed)
	}
}

func TestExecutorCloseDrainsPendingOperations(t *testing.T) {
	defer goleak.VerifyNone(t)

	var (
		exec = NewExecutor(1)
		ran  int32
	)
	for i := 0; i < 5; i++ {
		Submit(exec, func() (struct{}, error) {
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&ran, 1)
			return struct{}{}, nil
		})
	}

	if err := exec.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if got := atomic.LoadInt32(&ran); got != 5 {
		t.Fatalf("close returned after %d of 5 operations", got)
	}
}

// blockingRepository delays saves until released and records whether the
// context it was handed got cancelled.
type blockingRepository struct {
	graph.NodeRepository
	release  chan struct{}
	ctxErrCh chan error
}

func (r *blockingRepository) Save(ctx context.Context, n graph.Node) error {
	<-r.release
	r.ctxErrCh <- ctx.Err()
	return r.NodeRepository.Save(ctx, n)
}

func TestTimedOutWaitDoesNotAbortOperation(t *testing.T) {
	defer goleak.VerifyNone(t)

	backend, err := inmem.NewRepository(inmem.Config{})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	var (
		exec = NewExecutor(2)
		repo = NewRepository(&blockingRepository{
			NodeRepository: backend,
			release:        make(chan struct{}),
			ctxErrCh:       make(chan error, 1),
		}, exec)
		p = graph.NewProperties("a", "task", "build")
	)
	blocking := repo.repo.(*blockingRepository)

	callerCtx, cancelFn := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelFn()

	f := repo.Save(callerCtx, graph.NewNode(p, time.Now()))
	if _, err = f.Wait(callerCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("unexpected error %v, want %v", err, context.DeadlineExceeded)
	}

	close(blocking.release)
	if _, err = f.Result(); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err = <-blocking.ctxErrCh; err != nil {
		t.Errorf("operation context was cancelled: %v", err)
	}

	n, err := repo.Read(context.Background(), p).Result()
	if err != nil || n.IsZero() {
		t.Fatalf("node was not persisted: node=%v err=%v", n.Properties(), err)
	}
	if err = exec.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}

func TestRepositoryFutures(t *testing.T) {
	defer goleak.VerifyNone(t)

	backend, err := inmem.NewRepository(inmem.Config{})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	var (
		ctx  = context.Background()
		exec = NewExecutor(4)
		repo = NewRepository(backend, exec)
		a    = graph.NewProperties("a", "task", "build")
		b    = graph.NewProperties("b", "task", "build")
	)
	defer func() { _ = exec.Close() }()

	nodeA, err := repo.GetOrCreate(ctx, a).Result()
	if err != nil {
		t.Fatalf("get or create failed: %v", err)
	}
	nodeB, err := repo.GetOrCreate(ctx, b).Result()
	if err != nil {
		t.Fatalf("get or create failed: %v", err)
	}
	if _, err = repo.Relate(ctx, nodeA, nodeB).Result(); err != nil {
		t.Fatalf("relate failed: %v", err)
	}

	got, err := repo.Get(ctx, a).Result()
	if err != nil || !got.Edge().HasRelationship(b) {
		t.Fatalf("unexpected get result: rel=%v err=%v", got.Edge().Relationships(), err)
	}

	list, err := repo.Lookup(ctx, a.Classifier).Result()
	if err != nil || len(list) != 2 {
		t.Fatalf("unexpected lookup result: %v err=%v", list, err)
	}

	if _, err = repo.Remove(ctx, b).Result(); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	missing, err := repo.Get(ctx, b).Result()
	if err != nil || !missing.IsZero() {
		t.Fatalf("expected removed node to be absent: %v err=%v", missing.Properties(), err)
	}

	if _, err = repo.ExpireAll(ctx, a.Classifier, -time.Hour).Result(); err != nil {
		t.Fatalf("expire all failed: %v", err)
	}
	if n, _ := repo.Read(ctx, a).Result(); !n.IsZero() {
		t.Fatal("expected node to expire with a negative ttl")
	}

	if _, err = repo.Save(ctx, graph.NewNode(graph.Properties{}, time.Now())).Result(); !errors.Is(err, graph.ErrInvalidNode) {
		t.Fatalf("unexpected error %v, want %v", err, graph.ErrInvalidNode)
	}
}
