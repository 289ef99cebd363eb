package graph_test

import (
	"errors"
	"github.com/ejacobg/nodegraph/graph"
	"github.com/google/go-cmp/cmp"
	gc "gopkg.in/check.v1"
	"testing"
	"time"
)

var _ = gc.Suite(new(ModelTestSuite))

func Test(t *testing.T) {
	// Run all gocheck test-suites
	gc.TestingT(t)
}

type ModelTestSuite struct {
	x, y, z graph.Properties
	now     time.Time
}

func (s *ModelTestSuite) SetUpTest(c *gc.C) {
	s.x = graph.NewProperties("x", "task", "build")
	s.y = graph.NewProperties("y", "task", "build")
	s.z = graph.NewProperties("z", "task", "deploy")
	s.now = time.Unix(1700000000, 0).UTC()
}

func (s *ModelTestSuite) TestCompositeKeyRoundTrip(c *gc.C) {
	key, err := graph.CompositeKey(s.x)
	c.Assert(err, gc.IsNil)
	c.Assert(key, gc.Equals, "x:task:build")

	decoded, err := graph.ParseCompositeKey(key)
	c.Assert(err, gc.IsNil)
	c.Assert(decoded, gc.Equals, s.x)
}

func (s *ModelTestSuite) TestCompositeKeyRejectsDelimiter(c *gc.C) {
	for _, p := range []graph.Properties{
		graph.NewProperties("a:b", "task", "build"),
		graph.NewProperties("a", "ta:sk", "build"),
		graph.NewProperties("a", "task", "bu:ild"),
	} {
		_, err := graph.CompositeKey(p)
		c.Check(errors.Is(err, graph.ErrInvalidKey), gc.Equals, true, gc.Commentf("props %v", p))
		c.Check(errors.Is(err, graph.ErrInvalidNode), gc.Equals, true)
	}

	_, err := graph.CompositeKey(graph.Properties{})
	c.Assert(errors.Is(err, graph.ErrInvalidNode), gc.Equals, true)
}

func (s *ModelTestSuite) TestParseCompositeKeyRejectsMalformedKeys(c *gc.C) {
	for _, key := range []string{"", "a", "a:b", "a:b:c:d", ":b:c"} {
		_, err := graph.ParseCompositeKey(key)
		c.Check(errors.Is(err, graph.ErrInvalidKey), gc.Equals, true, gc.Commentf("key %q", key))
	}
}

func (s *ModelTestSuite) TestParseClassifier(c *gc.C) {
	cl, err := graph.ParseClassifier("task:build")
	c.Assert(err, gc.IsNil)
	c.Assert(cl, gc.Equals, graph.Classifier{Type: "task", Category: "build"})
	c.Assert(cl.String(), gc.Equals, "task:build")

	_, err = graph.ParseClassifier("task")
	c.Assert(err, gc.NotNil)
}

func (s *ModelTestSuite) TestMutatorsReturnNewSnapshots(c *gc.C) {
	orig := graph.NewNode(s.x, s.now)
	related := orig.AddRelationship(s.y)

	c.Assert(orig.Edge().HasRelationship(s.y), gc.Equals, false)
	c.Assert(related.Edge().HasRelationship(s.y), gc.Equals, true)
	c.Assert(related.Diff().Relationships.Added.Contains(s.y), gc.Equals, true)
	c.Assert(orig.Diff().IsEmpty(), gc.Equals, true)

	withDep := related.AddDependent(s.z)
	c.Assert(related.Edge().HasDependent(s.z), gc.Equals, false)
	c.Assert(withDep.Edge().Dependents(), gc.DeepEquals, []graph.Properties{s.z})
}

func (s *ModelTestSuite) TestRemoveRecordsOnlyPresentMembers(c *gc.C) {
	n := graph.NewNode(s.x, s.now).RemoveRelationship(s.y).RemoveDependent(s.y)
	c.Assert(n.Diff().IsEmpty(), gc.Equals, true)

	persisted := graph.NewNodeWithEdge(s.x, graph.NewEdge([]graph.Properties{s.y}, nil), s.now)
	n = persisted.RemoveRelationship(s.y)
	c.Assert(n.Edge().HasRelationship(s.y), gc.Equals, false)
	c.Assert(n.Diff().Relationships.Removed.Contains(s.y), gc.Equals, true)

	// Re-adding cancels the pending removal.
	n = n.AddRelationship(s.y)
	c.Assert(n.Diff().Relationships.Removed.Contains(s.y), gc.Equals, false)
	c.Assert(n.Diff().Relationships.Added.Contains(s.y), gc.Equals, true)
}

func (s *ModelTestSuite) TestEqualIgnoresAccessTimeAndDiff(c *gc.C) {
	a := graph.NewNode(s.x, s.now).AddRelationship(s.y)
	b := graph.NewNodeWithEdge(s.x, graph.NewEdge([]graph.Properties{s.y}, nil), s.now.Add(time.Hour))
	c.Assert(a.Equal(b), gc.Equals, true)
	c.Assert(a.Equal(b.AddDependent(s.z)), gc.Equals, false)
}

func (s *ModelTestSuite) TestMergeKeepsConcurrentAdditions(c *gc.C) {
	// Persisted: {x}. A caller loaded an empty snapshot before x was added
	// and now saves it with y.
	persisted := graph.NewEdge([]graph.Properties{s.x}, nil)
	incoming := graph.NewNode(s.z, s.now).AddRelationship(s.y)

	merged := graph.Merge(persisted, incoming, true)
	if diff := cmp.Diff([]graph.Properties{s.x, s.y}, merged.Relationships()); diff != "" {
		c.Fatalf("unexpected merge result (-want +got):\n%s", diff)
	}
}

func (s *ModelTestSuite) TestMergeAppliesExplicitRemovals(c *gc.C) {
	persisted := graph.NewEdge([]graph.Properties{s.x, s.y}, []graph.Properties{s.z})
	incoming := graph.NewNodeWithEdge(s.z, persisted, s.now).RemoveRelationship(s.x).RemoveDependent(s.z)

	merged := graph.Merge(persisted, incoming, true)
	c.Assert(merged.Relationships(), gc.DeepEquals, []graph.Properties{s.y})
	c.Assert(merged.Dependents(), gc.HasLen, 0)

	// Without cleanup only additions are applied.
	merged = graph.Merge(persisted, incoming, false)
	c.Assert(merged.Relationships(), gc.DeepEquals, []graph.Properties{s.x, s.y})
	c.Assert(merged.Dependents(), gc.DeepEquals, []graph.Properties{s.z})
}

func (s *ModelTestSuite) TestMergeIntoEmptyPersistedEdge(c *gc.C) {
	incoming := graph.NewNode(s.x, s.now).AddRelationship(s.y).AddDependent(s.z)
	merged := graph.Merge(graph.Edge{}, incoming, true)
	c.Assert(merged.Equal(incoming.Edge()), gc.Equals, true)
}

func (s *ModelTestSuite) TestLaterOf(c *gc.C) {
	later := s.now.Add(time.Second)
	c.Assert(graph.LaterOf(s.now, later), gc.Equals, later)
	c.Assert(graph.LaterOf(later, s.now), gc.Equals, later)
}

func (s *ModelTestSuite) TestBackendErrorMatchesSentinel(c *gc.C) {
	cause := errors.New("connection reset")
	err := error(&graph.BackendError{Op: "hset", Key: "node:all", Err: cause})
	c.Assert(errors.Is(err, graph.ErrBackendIO), gc.Equals, true)
	c.Assert(errors.Is(err, cause), gc.Equals, true)
	c.Assert(err.Error(), gc.Equals, "hset node:all: connection reset")
}
