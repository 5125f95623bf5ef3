// Package octree holds the addressable structure of a COPC octree: spatial keys, the node entries
// parsed from hierarchy pages, the catalogue that indexes them, and pure key arithmetic.
package octree

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/copc/utils"
)

// Key identifies one octree cell: its depth and its integer coordinates at that depth. Keys are
// comparable values and may be used directly as map keys.
type Key struct {
	Level int32
	X     int32
	Y     int32
	Z     int32
}

// NewKey returns the key (level, x, y, z).
func NewKey(level, x, y, z int32) Key {
	return Key{Level: level, X: x, Y: y, Z: z}
}

// RootKey returns the key of the cell covering the whole cloud.
func RootKey() Key {
	return Key{}
}

// String renders the key in the "D-X-Y-Z" form used by COPC tooling.
func (k Key) String() string {
	return fmt.Sprintf("%d-%d-%d-%d", k.Level, k.X, k.Y, k.Z)
}

// ParseKey parses the "D-X-Y-Z" form produced by String.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 4 {
		return Key{}, utils.NewInvalidArgumentError("key", fmt.Sprintf("%q is not of the form D-X-Y-Z", s))
	}
	var vals [4]int32
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 32)
		if err != nil {
			return Key{}, utils.NewInvalidArgumentError("key", fmt.Sprintf("%q: %v", s, err))
		}
		vals[i] = int32(v)
	}
	return NewKey(vals[0], vals[1], vals[2], vals[3]), nil
}

// CellsPerAxis returns 2^level, the number of cells along each axis at a depth.
func CellsPerAxis(level int32) int64 {
	return int64(1) << uint(level)
}

// InBounds reports whether the key has a non-negative level and lies inside the cube at its depth.
func (k Key) InBounds() bool {
	if k.Level < 0 || k.Level > 62 {
		return false
	}
	n := CellsPerAxis(k.Level)
	return inRange(k.X, n) && inRange(k.Y, n) && inRange(k.Z, n)
}

func inRange(v int32, n int64) bool {
	return v >= 0 && int64(v) < n
}

// Contains reports whether other is k itself or lies in the subtree below k.
func (k Key) Contains(other Key) bool {
	if other.Level < k.Level {
		return false
	}
	shift := uint(other.Level - k.Level)
	return other.X>>shift == k.X && other.Y>>shift == k.Y && other.Z>>shift == k.Z
}

// Bounds returns the axis aligned cube covered by the key, given the center and half size of the
// root cube as declared by the COPC info record.
func (k Key) Bounds(center r3.Vector, halfsize float64) (min, max r3.Vector, err error) {
	if k.Level < 0 {
		return r3.Vector{}, r3.Vector{}, errors.Wrap(
			utils.NewInvalidArgumentError("key", "negative level "+k.String()), "computing bounds")
	}
	side := 2 * halfsize / float64(CellsPerAxis(k.Level))
	origin := center.Sub(r3.Vector{X: halfsize, Y: halfsize, Z: halfsize})
	min = origin.Add(r3.Vector{X: float64(k.X) * side, Y: float64(k.Y) * side, Z: float64(k.Z) * side})
	max = min.Add(r3.Vector{X: side, Y: side, Z: side})
	return min, max, nil
}

// Less orders keys by level, then z, x, y. It is the order used for every key list this package
// returns.
func (k Key) Less(other Key) bool {
	if k.Level != other.Level {
		return k.Level < other.Level
	}
	if k.Z != other.Z {
		return k.Z < other.Z
	}
	if k.X != other.X {
		return k.X < other.X
	}
	return k.Y < other.Y
}
