package octree

import (
	"fmt"
	"slices"

	"go.viam.com/copc/utils"
)

// maxDepth keeps 2^level and the coordinate arithmetic below inside int64.
const maxDepth = 30

// SortKeys sorts keys in place in Key.Less order.
func SortKeys(keys []Key) {
	slices.SortFunc(keys, func(a, b Key) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
}

// ParentOf returns the key one level up that contains k. All three axes are halved with floor
// division. The root has no parent.
func ParentOf(k Key) (Key, error) {
	if k.Level <= 0 {
		return Key{}, utils.NewInvalidArgumentError("key", fmt.Sprintf("%s has no parent", k))
	}
	// Arithmetic shift is floor division by two, including for negative coordinates.
	return Key{Level: k.Level - 1, X: k.X >> 1, Y: k.Y >> 1, Z: k.Z >> 1}, nil
}

// TheoreticalChildren returns the eight octants of k one level down, ordered by (z, x, y).
func TheoreticalChildren(k Key) [8]Key {
	var out [8]Key
	i := 0
	for dz := int32(0); dz < 2; dz++ {
		for dx := int32(0); dx < 2; dx++ {
			for dy := int32(0); dy < 2; dy++ {
				out[i] = Key{Level: k.Level + 1, X: 2*k.X + dx, Y: 2*k.Y + dy, Z: 2*k.Z + dz}
				i++
			}
		}
	}
	return out
}

// CandidateChildrenOf returns the children of k that exist in cat, in TheoreticalChildren order.
// A nil or empty catalogue yields an empty slice.
func CandidateChildrenOf(k Key, cat *Catalogue) []Key {
	out := []Key{}
	if cat == nil {
		return out
	}
	for _, child := range TheoreticalChildren(k) {
		if cat.Has(child) {
			out = append(out, child)
		}
	}
	return out
}

// block is the cube of maxLevel cells covered by a shallower key.
type block struct {
	level      int32
	x0, y0, z0 int64
	size       int64
}

func blockAt(k Key, maxLevel int32) block {
	scale := int64(1) << uint(maxLevel-k.Level)
	return block{
		level: maxLevel,
		x0:    int64(k.X) * scale,
		y0:    int64(k.Y) * scale,
		z0:    int64(k.Z) * scale,
		size:  scale,
	}
}

func (b block) center() (int64, int64) {
	return b.x0 + b.size/2, b.y0 + b.size/2
}

// candidateCount is how many cells enumerate would visit.
func (b block) candidateCount() int64 {
	return 4*b.size*b.size + 2
}

// enumerate calls fn with every face-adjacent cell: the cells touching the four vertical faces over
// the full height of the block, then the single cells directly below and above its center column.
func (b block) enumerate(fn func(x, y, z int64)) {
	for z := b.z0; z < b.z0+b.size; z++ {
		for t := int64(0); t < b.size; t++ {
			fn(b.x0-1, b.y0+t, z)
			fn(b.x0+b.size, b.y0+t, z)
			fn(b.x0+t, b.y0-1, z)
			fn(b.x0+t, b.y0+b.size, z)
		}
	}
	cx, cy := b.center()
	fn(cx, cy, b.z0-1)
	fn(cx, cy, b.z0+b.size)
}

// adjacent reports whether the cell (x, y, z) is one enumerate would produce.
func (b block) adjacent(x, y, z int64) bool {
	within := func(v, lo int64) bool { return v >= lo && v < lo+b.size }
	if within(z, b.z0) {
		if (x == b.x0-1 || x == b.x0+b.size) && within(y, b.y0) {
			return true
		}
		if (y == b.y0-1 || y == b.y0+b.size) && within(x, b.x0) {
			return true
		}
	}
	cx, cy := b.center()
	return x == cx && y == cy && (z == b.z0-1 || z == b.z0+b.size)
}

// NeighborsAtMaxDepth returns the existing cells at maxLevel that share a face with the region
// covered by k. Adjacency is 6-connected: across the four side faces every touching cell over the
// full height of the region counts, vertically only the cell directly below and the cell directly
// above the center column do. Cells outside the cube (any coordinate negative or >= 2^maxLevel)
// are dropped. The result is sorted in Key.Less order.
func NeighborsAtMaxDepth(k Key, cat *Catalogue, maxLevel int32) ([]Key, error) {
	if k.Level < 0 {
		return nil, utils.NewInvalidArgumentError("key", fmt.Sprintf("negative level in %s", k))
	}
	if maxLevel > maxDepth {
		return nil, utils.NewInvalidArgumentError("max level", fmt.Sprintf("%d exceeds %d", maxLevel, maxDepth))
	}
	if k.Level > maxLevel {
		return nil, utils.NewInvalidArgumentError("key", fmt.Sprintf("%s is deeper than max level %d", k, maxLevel))
	}
	out := []Key{}
	if cat == nil || cat.Len() == 0 {
		return out, nil
	}

	b := blockAt(k, maxLevel)
	n := CellsPerAxis(maxLevel)
	inCube := func(x, y, z int64) bool {
		return x >= 0 && y >= 0 && z >= 0 && x < n && y < n && z < n
	}

	atMax := cat.KeysAtLevel(maxLevel)
	if b.candidateCount() <= int64(len(atMax)) {
		b.enumerate(func(x, y, z int64) {
			if !inCube(x, y, z) {
				return
			}
			key := Key{Level: maxLevel, X: int32(x), Y: int32(y), Z: int32(z)}
			if atMax.Has(key) {
				out = append(out, key)
			}
		})
	} else {
		// Shallow keys cover huge blocks; walking the existing cells is cheaper.
		for key := range atMax {
			x, y, z := int64(key.X), int64(key.Y), int64(key.Z)
			if inCube(x, y, z) && b.adjacent(x, y, z) {
				out = append(out, key)
			}
		}
	}
	SortKeys(out)
	return out, nil
}
