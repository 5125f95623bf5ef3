package octree

import (
	"fmt"

	"go.viam.com/copc/mirror"
)

// Node is the hierarchy entry of one occupied cell: where its compressed points live in the remote
// file and how many there are.
type Node struct {
	Key        Key
	Offset     int64
	ByteSize   int32
	PointCount int32
}

// Range returns the absolute byte range of the node's compressed data.
func (n Node) Range() mirror.ByteRange {
	return mirror.NewByteRange(n.Offset, int64(n.ByteSize))
}

func (n Node) String() string {
	return fmt.Sprintf("%s@%d+%d(%d pts)", n.Key, n.Offset, n.ByteSize, n.PointCount)
}

// KeySet is a set of keys.
type KeySet map[Key]struct{}

// Has reports whether k is in the set.
func (s KeySet) Has(k Key) bool {
	_, ok := s[k]
	return ok
}

// Sorted returns the keys in Key.Less order.
func (s KeySet) Sorted() []Key {
	out := make([]Key, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	SortKeys(out)
	return out
}
