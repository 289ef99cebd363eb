package graphtest

import (
	"context"
	"errors"
	"github.com/ejacobg/nodegraph/graph"
	"github.com/google/go-cmp/cmp"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/testing/protocmp"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"
	"testing"
)

// DataSuite defines a re-usable set of payload store tests that can be
// executed against any type that implements graph.DataRepository.
type DataSuite struct {
	Repo graph.DataRepository

	// Optional helper functions.
	BeforeEach func(*testing.T)
	AfterEach  func(*testing.T)
}

func (s *DataSuite) TestDataRepository(t *testing.T) {
	tests := []struct {
		name string
		fn   func(*testing.T, graph.DataRepository)
	}{
		{"Get missing payload", TestGetMissingPayload},
		{"Save and get payload", TestSaveAndGetPayload},
		{"Overwrite payload", TestOverwritePayload},
		{"Remove payload", TestRemovePayload},
		{"Payloads are keyed by identity", TestPayloadsKeyedByIdentity},
		{"Reject invalid payload keys", TestRejectInvalidPayloadKeys},
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
			test.fn(t, s.Repo)
			s.AfterEach(t)
		})
	}
}

// TestGetMissingPayload verifies that a missing payload is reported as
// absent rather than as an error.
func TestGetMissingPayload(t *testing.T, repo graph.DataRepository) {
	_, found, err := repo.Get(context.Background(), newProps(buildTasks))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if found {
		t.Fatalf("expected payload to be absent")
	}
}

// TestSaveAndGetPayload verifies that payloads of different types survive a
// round trip through the store.
func TestSaveAndGetPayload(t *testing.T, repo graph.DataRepository) {
	doc, err := structpb.NewStruct(map[string]interface{}{
		"name":    "compile",
		"retries": 3.0,
		"tags":    []interface{}{"go", "ci"},
	})
	if err != nil {
		t.Fatalf("failed to build struct payload: %v", err)
	}

	for _, payload := range []proto.Message{
		wrapperspb.String("hello"),
		timestamppb.New(Epoch),
		doc,
	} {
		p := newProps(buildTasks)
		if err = repo.Save(context.Background(), p, payload); err != nil {
			t.Fatalf("failed to save %T: %v", payload, err)
		}
		assertPayload(t, repo, p, payload)
	}
}

// TestOverwritePayload verifies that saving replaces the stored payload,
// even with a payload of another type.
func TestOverwritePayload(t *testing.T, repo graph.DataRepository) {
	p := newProps(buildTasks)
	if err := repo.Save(context.Background(), p, wrapperspb.String("v1")); err != nil {
		t.Fatalf("failed to save payload: %v", err)
	}
	if err := repo.Save(context.Background(), p, wrapperspb.Int64(2)); err != nil {
		t.Fatalf("failed to save payload: %v", err)
	}
	assertPayload(t, repo, p, wrapperspb.Int64(2))
}

// TestRemovePayload verifies that removal is idempotent.
func TestRemovePayload(t *testing.T, repo graph.DataRepository) {
	p := newProps(buildTasks)
	if err := repo.Save(context.Background(), p, wrapperspb.Bool(true)); err != nil {
		t.Fatalf("failed to save payload: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := repo.Remove(context.Background(), p); err != nil {
			t.Fatalf("remove #%d failed: %v", i, err)
		}
	}

	if _, found, err := repo.Get(context.Background(), p); err != nil || found {
		t.Fatalf("unexpected get result after removal: found=%t err=%v", found, err)
	}
}

// TestPayloadsKeyedByIdentity verifies that nodes sharing an ID but not a
// classifier do not share payloads.
func TestPayloadsKeyedByIdentity(t *testing.T, repo graph.DataRepository) {
	build := newProps(buildTasks)
	deploy := graph.Properties{ID: build.ID, Classifier: deployTasks}

	if err := repo.Save(context.Background(), build, wrapperspb.String("build")); err != nil {
		t.Fatalf("failed to save payload: %v", err)
	}
	if err := repo.Save(context.Background(), deploy, wrapperspb.String("deploy")); err != nil {
		t.Fatalf("failed to save payload: %v", err)
	}
	if err := repo.Remove(context.Background(), deploy); err != nil {
		t.Fatalf("failed to remove payload: %v", err)
	}

	assertPayload(t, repo, build, wrapperspb.String("build"))
}

// TestRejectInvalidPayloadKeys verifies that payloads can only be attached
// to valid node identities.
func TestRejectInvalidPayloadKeys(t *testing.T, repo graph.DataRepository) {
	err := repo.Save(context.Background(), graph.Properties{Classifier: buildTasks}, wrapperspb.String("x"))
	if !errors.Is(err, graph.ErrInvalidNode) {
		t.Errorf("unexpected error %v, want %v", err, graph.ErrInvalidNode)
	}

	_, _, err = repo.Get(context.Background(), graph.NewProperties("a:b", "task", "build"))
	if !errors.Is(err, graph.ErrInvalidKey) {
		t.Errorf("unexpected error %v, want %v", err, graph.ErrInvalidKey)
	}
}

func assertPayload(t *testing.T, repo graph.DataRepository, p graph.Properties, exp proto.Message) {
	t.Helper()
	got, found, err := repo.Get(context.Background(), p)
	if err != nil {
		t.Fatalf("get %v failed: %v", p, err)
	}
	if !found {
		t.Fatalf("payload for %v not found", p)
	}
	if diff := cmp.Diff(exp, got, protocmp.Transform()); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}
