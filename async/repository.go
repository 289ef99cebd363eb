package async

import (
	"context"
	"github.com/ejacobg/nodegraph/graph"
	"time"
)

// Repository exposes a graph.NodeRepository through futures. Node-valued
// futures complete with the zero Node when the node does not exist.
//
// Operations are detached from the cancellation of the context they are
// submitted with, so that a caller giving up on a future never aborts a
// multi-step write half way.
type Repository struct {
	repo graph.NodeRepository
	exec *Executor
}

// NewRepository wraps repo so that its operations run on exec.
func NewRepository(repo graph.NodeRepository, exec *Executor) *Repository {
	return &Repository{repo: repo, exec: exec}
}

// Save schedules graph.NodeRepository.Save.
func (r *Repository) Save(ctx context.Context, n graph.Node) *Future[struct{}] {
	ctx = context.WithoutCancel(ctx)
	return Submit(r.exec, func() (struct{}, error) {
		return struct{}{}, r.repo.Save(ctx, n)
	})
}

// Lookup schedules graph.NodeRepository.Lookup.
func (r *Repository) Lookup(ctx context.Context, c graph.Classifier) *Future[[]graph.Properties] {
	ctx = context.WithoutCancel(ctx)
	return Submit(r.exec, func() ([]graph.Properties, error) {
		return r.repo.Lookup(ctx, c)
	})
}

// Get schedules graph.NodeRepository.Get.
func (r *Repository) Get(ctx context.Context, p graph.Properties) *Future[graph.Node] {
	ctx = context.WithoutCancel(ctx)
	return Submit(r.exec, func() (graph.Node, error) {
		n, _, err := r.repo.Get(ctx, p)
		return n, err
	})
}

// Read schedules graph.NodeRepository.Read.
func (r *Repository) Read(ctx context.Context, p graph.Properties) *Future[graph.Node] {
	ctx = context.WithoutCancel(ctx)
	return Submit(r.exec, func() (graph.Node, error) {
		n, _, err := r.repo.Read(ctx, p)
		return n, err
	})
}

// GetOrCreate schedules graph.NodeRepository.GetOrCreate.
func (r *Repository) GetOrCreate(ctx context.Context, p graph.Properties) *Future[graph.Node] {
	ctx = context.WithoutCancel(ctx)
	return Submit(r.exec, func() (graph.Node, error) {
		return r.repo.GetOrCreate(ctx, p)
	})
}

// Relate schedules graph.NodeRepository.Relate.
func (r *Repository) Relate(ctx context.Context, left, right graph.Node) *Future[struct{}] {
	ctx = context.WithoutCancel(ctx)
	return Submit(r.exec, func() (struct{}, error) {
		return struct{}{}, r.repo.Relate(ctx, left, right)
	})
}

// Remove schedules graph.NodeRepository.Remove.
func (r *Repository) Remove(ctx context.Context, p graph.Properties) *Future[struct{}] {
	ctx = context.WithoutCancel(ctx)
	return Submit(r.exec, func() (struct{}, error) {
		return struct{}{}, r.repo.Remove(ctx, p)
	})
}

// ExpireAll schedules graph.NodeRepository.ExpireAll.
func (r *Repository) ExpireAll(ctx context.Context, c graph.Classifier, ttl time.Duration) *Future[struct{}] {
	ctx = context.WithoutCancel(ctx)
	return Submit(r.exec, func() (struct{}, error) {
		return struct{}{}, r.repo.ExpireAll(ctx, c, ttl)
	})
}
