package copc

import (
	"encoding/binary"
	"math"

	"go.viam.com/copc/octree"
	"go.viam.com/copc/utils"
)

// EntrySize is the encoded size of one hierarchy page entry.
const EntrySize = 32

// pagePointerCount marks an entry that points at a child hierarchy page instead of point data.
const pagePointerCount = -1

// ParsePage decodes one hierarchy page. Entries describing point data are returned as nodes and
// entries pointing at child pages as pages, both in page order. A page whose length is not a
// multiple of EntrySize, or that holds an entry with a negative level, size or point count (other
// than the child page marker), is a FormatError.
func ParsePage(b []byte) (nodes, pages []octree.Node, err error) {
	if len(b)%EntrySize != 0 {
		return nil, nil, utils.NewFormatErrorf("hierarchy page", "size %d is not a multiple of %d", len(b), EntrySize)
	}
	le := binary.LittleEndian
	for i := 0; i < len(b); i += EntrySize {
		e := b[i : i+EntrySize]
		offset := le.Uint64(e[16:])
		n := octree.Node{
			Key: octree.NewKey(
				int32(le.Uint32(e[0:])),
				int32(le.Uint32(e[4:])),
				int32(le.Uint32(e[8:])),
				int32(le.Uint32(e[12:])),
			),
			ByteSize:   int32(le.Uint32(e[24:])),
			PointCount: int32(le.Uint32(e[28:])),
		}
		switch {
		case n.Key.Level < 0:
			return nil, nil, utils.NewFormatErrorf("hierarchy page", "entry %d: negative level in %s", i/EntrySize, n.Key)
		case offset > math.MaxInt64-math.MaxInt32:
			return nil, nil, utils.NewFormatErrorf("hierarchy page", "entry %d: offset %d out of range", i/EntrySize, offset)
		case n.ByteSize < 0:
			return nil, nil, utils.NewFormatErrorf("hierarchy page", "entry %d: negative byte size %d", i/EntrySize, n.ByteSize)
		case n.PointCount < pagePointerCount:
			return nil, nil, utils.NewFormatErrorf("hierarchy page", "entry %d: point count %d", i/EntrySize, n.PointCount)
		}
		n.Offset = int64(offset)

		if n.PointCount == pagePointerCount {
			pages = append(pages, n)
			continue
		}
		nodes = append(nodes, n)
	}
	return nodes, pages, nil
}

// EncodePage encodes entries as a hierarchy page. Child page pointers are entries whose
// PointCount is -1.
func EncodePage(entries []octree.Node) []byte {
	le := binary.LittleEndian
	b := make([]byte, len(entries)*EntrySize)
	for i, n := range entries {
		e := b[i*EntrySize:]
		le.PutUint32(e[0:], uint32(n.Key.Level))
		le.PutUint32(e[4:], uint32(n.Key.X))
		le.PutUint32(e[8:], uint32(n.Key.Y))
		le.PutUint32(e[12:], uint32(n.Key.Z))
		le.PutUint64(e[16:], uint64(n.Offset))
		le.PutUint32(e[24:], uint32(n.ByteSize))
		le.PutUint32(e[28:], uint32(n.PointCount))
	}
	return b
}

// PagePointer returns the entry that references a child page stored at [offset, offset+size).
func PagePointer(k octree.Key, offset int64, size int32) octree.Node {
	return octree.Node{Key: k, Offset: offset, ByteSize: size, PointCount: pagePointerCount}
}
