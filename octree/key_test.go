package octree

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/copc/utils"
)

func TestKeyString(t *testing.T) {
	k := NewKey(3, 1, 7, 2)
	test.That(t, k.String(), test.ShouldEqual, "3-1-7-2")

	parsed, err := ParseKey("3-1-7-2")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, parsed, test.ShouldResemble, k)

	for _, bad := range []string{"", "1-2-3", "a-1-2-3", "1-2-3-4-5"} {
		_, err := ParseKey(bad)
		test.That(t, errors.Is(err, utils.ErrInvalidArgument), test.ShouldBeTrue)
	}
}

func TestKeyMapMembership(t *testing.T) {
	set := KeySet{NewKey(1, 0, 1, 0): {}}
	test.That(t, set.Has(Key{Level: 1, X: 0, Y: 1, Z: 0}), test.ShouldBeTrue)
	test.That(t, set.Has(Key{Level: 1, X: 1, Y: 0, Z: 0}), test.ShouldBeFalse)
}

func TestKeyInBounds(t *testing.T) {
	test.That(t, RootKey().InBounds(), test.ShouldBeTrue)
	test.That(t, NewKey(2, 3, 3, 3).InBounds(), test.ShouldBeTrue)
	test.That(t, NewKey(2, 4, 0, 0).InBounds(), test.ShouldBeFalse)
	test.That(t, NewKey(2, 0, -1, 0).InBounds(), test.ShouldBeFalse)
	test.That(t, NewKey(2, 0, 0, 4).InBounds(), test.ShouldBeFalse)
	test.That(t, NewKey(-1, 0, 0, 0).InBounds(), test.ShouldBeFalse)
	test.That(t, CellsPerAxis(3), test.ShouldEqual, int64(8))
}

func TestKeyContains(t *testing.T) {
	parent := NewKey(1, 1, 0, 1)
	test.That(t, parent.Contains(parent), test.ShouldBeTrue)
	test.That(t, parent.Contains(NewKey(2, 3, 1, 2)), test.ShouldBeTrue)
	test.That(t, parent.Contains(NewKey(3, 7, 3, 5)), test.ShouldBeTrue)
	test.That(t, parent.Contains(NewKey(2, 1, 1, 2)), test.ShouldBeFalse)
	test.That(t, parent.Contains(RootKey()), test.ShouldBeFalse)
	test.That(t, RootKey().Contains(NewKey(4, 9, 2, 15)), test.ShouldBeTrue)
}

func TestKeyBounds(t *testing.T) {
	center := r3.Vector{X: 10, Y: 20, Z: 30}

	min, max, err := RootKey().Bounds(center, 8)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, min, test.ShouldResemble, r3.Vector{X: 2, Y: 12, Z: 22})
	test.That(t, max, test.ShouldResemble, r3.Vector{X: 18, Y: 28, Z: 38})

	min, max, err = NewKey(2, 1, 0, 3).Bounds(center, 8)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, min, test.ShouldResemble, r3.Vector{X: 6, Y: 12, Z: 34})
	test.That(t, max, test.ShouldResemble, r3.Vector{X: 10, Y: 16, Z: 38})

	_, _, err = NewKey(-1, 0, 0, 0).Bounds(center, 8)
	test.That(t, errors.Is(err, utils.ErrInvalidArgument), test.ShouldBeTrue)
}

func TestKeyOrdering(t *testing.T) {
	keys := []Key{
		NewKey(2, 0, 0, 1),
		NewKey(1, 1, 1, 1),
		NewKey(2, 1, 0, 0),
		NewKey(2, 0, 1, 0),
		RootKey(),
	}
	SortKeys(keys)
	test.That(t, keys, test.ShouldResemble, []Key{
		RootKey(),
		NewKey(1, 1, 1, 1),
		NewKey(2, 0, 1, 0),
		NewKey(2, 1, 0, 0),
		NewKey(2, 0, 0, 1),
	})

	set := KeySet{}
	for _, k := range keys {
		set[k] = struct{}{}
	}
	test.That(t, set.Sorted(), test.ShouldResemble, keys)
}
