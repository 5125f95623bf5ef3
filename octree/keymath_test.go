package octree

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/copc/utils"
)

func TestParentOf(t *testing.T) {
	parent, err := ParentOf(NewKey(2, 3, 5, 1))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, parent, test.ShouldResemble, NewKey(1, 1, 2, 0))

	for _, k := range []Key{NewKey(1, 1, 1, 1), NewKey(4, 9, 0, 15), NewKey(6, 63, 31, 7)} {
		p, err := ParentOf(k)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, p.Level, test.ShouldEqual, k.Level-1)
		test.That(t, p.X, test.ShouldEqual, k.X/2)
		test.That(t, p.Y, test.ShouldEqual, k.Y/2)
		test.That(t, p.Z, test.ShouldEqual, k.Z/2)
		test.That(t, p.Contains(k), test.ShouldBeTrue)
	}

	_, err = ParentOf(RootKey())
	test.That(t, errors.Is(err, utils.ErrInvalidArgument), test.ShouldBeTrue)
}

func TestTheoreticalChildren(t *testing.T) {
	k := NewKey(1, 1, 0, 1)
	children := TheoreticalChildren(k)
	test.That(t, children[0], test.ShouldResemble, NewKey(2, 2, 0, 2))
	test.That(t, children[1], test.ShouldResemble, NewKey(2, 2, 1, 2))
	test.That(t, children[2], test.ShouldResemble, NewKey(2, 3, 0, 2))
	test.That(t, children[7], test.ShouldResemble, NewKey(2, 3, 1, 3))

	seen := KeySet{}
	for i, c := range children {
		seen[c] = struct{}{}
		parent, err := ParentOf(c)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, parent, test.ShouldResemble, k)
		if i > 0 {
			test.That(t, children[i-1].Less(c), test.ShouldBeTrue)
		}
	}
	test.That(t, len(seen), test.ShouldEqual, 8)
}

func TestCandidateChildrenOf(t *testing.T) {
	cat := mustCatalogue(t, []Node{
		{Key: RootKey()},
		{Key: NewKey(1, 1, 0, 0)},
		{Key: NewKey(1, 0, 1, 1)},
		{Key: NewKey(2, 0, 0, 0)},
	})
	children := CandidateChildrenOf(RootKey(), cat)
	test.That(t, children, test.ShouldResemble, []Key{NewKey(1, 1, 0, 0), NewKey(1, 0, 1, 1)})

	theoretical := TheoreticalChildren(RootKey())
	for _, c := range children {
		test.That(t, cat.Has(c), test.ShouldBeTrue)
		test.That(t, theoretical[:], test.ShouldContain, c)
	}

	test.That(t, CandidateChildrenOf(NewKey(2, 0, 0, 0), cat), test.ShouldBeEmpty)
	test.That(t, CandidateChildrenOf(RootKey(), EmptyCatalogue()), test.ShouldBeEmpty)
	test.That(t, CandidateChildrenOf(NewKey(3, 1, 2, 3), nil), test.ShouldBeEmpty)
}

// fullCatalogue holds every cell at level.
func fullCatalogue(t *testing.T, level int32) *Catalogue {
	t.Helper()
	n := int32(CellsPerAxis(level))
	var nodes []Node
	for z := int32(0); z < n; z++ {
		for x := int32(0); x < n; x++ {
			for y := int32(0); y < n; y++ {
				nodes = append(nodes, Node{Key: NewKey(level, x, y, z), ByteSize: 1, PointCount: 1})
			}
		}
	}
	return mustCatalogue(t, nodes)
}

func TestNeighborsAtMaxDepthSameLevel(t *testing.T) {
	neighbors, err := NeighborsAtMaxDepth(NewKey(2, 1, 1, 1), fullCatalogue(t, 2), 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, neighbors, test.ShouldResemble, []Key{
		NewKey(2, 1, 1, 0),
		NewKey(2, 0, 1, 1),
		NewKey(2, 1, 0, 1),
		NewKey(2, 1, 2, 1),
		NewKey(2, 2, 1, 1),
		NewKey(2, 1, 1, 2),
	})

	// A corner cell loses the three neighbours outside the cube.
	neighbors, err = NeighborsAtMaxDepth(NewKey(2, 0, 0, 0), fullCatalogue(t, 2), 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, neighbors, test.ShouldResemble, []Key{
		NewKey(2, 0, 1, 0),
		NewKey(2, 1, 0, 0),
		NewKey(2, 0, 0, 1),
	})
}

func TestNeighborsAtMaxDepthExpandsShallowKeys(t *testing.T) {
	// Enumerated against a dense catalogue.
	neighbors, err := NeighborsAtMaxDepth(NewKey(1, 0, 0, 0), fullCatalogue(t, 2), 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(neighbors), test.ShouldEqual, 9)
	test.That(t, neighbors[len(neighbors)-1], test.ShouldResemble, NewKey(2, 1, 1, 2))
	for _, n := range neighbors {
		test.That(t, n.Level, test.ShouldEqual, int32(2))
		test.That(t, NewKey(1, 0, 0, 0).Contains(n), test.ShouldBeFalse)
	}

	// Scanned against a sparse one.
	sparse := mustCatalogue(t, []Node{
		{Key: NewKey(2, 2, 0, 0)},
		{Key: NewKey(2, 0, 2, 1)},
		{Key: NewKey(2, 1, 1, 2)},
		{Key: NewKey(2, 2, 2, 0)},
		{Key: NewKey(2, 0, 0, 2)},
		{Key: NewKey(2, 1, 1, 1)},
		{Key: NewKey(1, 1, 0, 0)},
	})
	neighbors, err = NeighborsAtMaxDepth(NewKey(1, 0, 0, 0), sparse, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, neighbors, test.ShouldResemble, []Key{
		NewKey(2, 2, 0, 0),
		NewKey(2, 0, 2, 1),
		NewKey(2, 1, 1, 2),
	})

	// The root covers the whole cube and has no neighbours.
	neighbors, err = NeighborsAtMaxDepth(RootKey(), fullCatalogue(t, 2), 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, neighbors, test.ShouldBeEmpty)
}

func TestNeighborBlockStrategiesAgree(t *testing.T) {
	b := blockAt(NewKey(2, 1, 2, 1), 4)
	enumerated := KeySet{}
	b.enumerate(func(x, y, z int64) {
		enumerated[NewKey(4, int32(x), int32(y), int32(z))] = struct{}{}
	})
	test.That(t, int64(len(enumerated)), test.ShouldEqual, b.candidateCount())

	n := CellsPerAxis(4)
	matched := 0
	for z := int64(-1); z <= n; z++ {
		for x := int64(-1); x <= n; x++ {
			for y := int64(-1); y <= n; y++ {
				if b.adjacent(x, y, z) {
					matched++
					test.That(t, enumerated.Has(NewKey(4, int32(x), int32(y), int32(z))), test.ShouldBeTrue)
				}
			}
		}
	}
	test.That(t, matched, test.ShouldEqual, len(enumerated))
}

func TestNeighborsAtMaxDepthErrors(t *testing.T) {
	cat := fullCatalogue(t, 1)
	_, err := NeighborsAtMaxDepth(NewKey(3, 0, 0, 0), cat, 2)
	test.That(t, errors.Is(err, utils.ErrInvalidArgument), test.ShouldBeTrue)
	_, err = NeighborsAtMaxDepth(NewKey(-1, 0, 0, 0), cat, 2)
	test.That(t, errors.Is(err, utils.ErrInvalidArgument), test.ShouldBeTrue)
	_, err = NeighborsAtMaxDepth(RootKey(), cat, 40)
	test.That(t, errors.Is(err, utils.ErrInvalidArgument), test.ShouldBeTrue)

	neighbors, err := NeighborsAtMaxDepth(NewKey(1, 0, 0, 0), EmptyCatalogue(), 3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, neighbors, test.ShouldBeEmpty)
}
