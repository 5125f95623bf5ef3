// Package copc reads the index of a cloud optimized point cloud (COPC) file through byte range
// fetches: the LAS header, the COPC info record, and the octree hierarchy pages.
package copc

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/copc/mirror"
	"go.viam.com/copc/octree"
	"go.viam.com/copc/utils"
)

const (
	// LASHeaderSize is the size of a LAS 1.4 public header block.
	LASHeaderSize = 375
	// VLRHeaderSize is the size of a variable length record header.
	VLRHeaderSize = 54
	// InfoPayloadSize is the size of the COPC info record body.
	InfoPayloadSize = 160
	// InfoVLRSize is the size of the whole COPC info record including its VLR header.
	InfoVLRSize = VLRHeaderSize + InfoPayloadSize

	lasSignature = "LASF"
	copcUserID   = "copc"
	infoRecordID = 1
)

// Header is everything learned from the first bytes of a COPC file: the LAS 1.4 public header
// followed by the COPC info record that must be the first VLR.
type Header struct {
	VersionMajor       uint8
	VersionMinor       uint8
	SystemIdentifier   string
	GeneratingSoftware string
	HeaderSize         uint16
	OffsetToPointData  uint32
	NumberOfVLRs       uint32
	PointFormat        uint8
	PointRecordLength  uint16
	PointCount         uint64
	Scale              r3.Vector
	Offset             r3.Vector
	Min                r3.Vector
	Max                r3.Vector
	EVLROffset         uint64
	EVLRCount          uint32

	Info Info
}

// Info is the body of the COPC info VLR.
type Info struct {
	Center         r3.Vector
	Halfsize       float64
	Spacing        float64
	RootHierOffset uint64
	RootHierSize   uint64
	GPSTimeMin     float64
	GPSTimeMax     float64
}

// InfoRange returns where the COPC info VLR lives given the LAS header size.
func (h Header) InfoRange() mirror.ByteRange {
	return mirror.NewByteRange(int64(h.HeaderSize), InfoVLRSize)
}

// RootPageRange returns the byte range of the root hierarchy page.
func (h Header) RootPageRange() mirror.ByteRange {
	return mirror.NewByteRange(int64(h.Info.RootHierOffset), int64(h.Info.RootHierSize))
}

// KeyBounds returns the cube covered by k in file coordinates.
func (h Header) KeyBounds(k octree.Key) (min, max r3.Vector, err error) {
	return k.Bounds(h.Info.Center, h.Info.Halfsize)
}

// ParseLASHeader decodes and validates a LAS 1.4 public header block. Only the first
// LASHeaderSize bytes of b are read. The returned header has a zero Info.
func ParseLASHeader(b []byte) (Header, error) {
	if len(b) < LASHeaderSize {
		return Header{}, utils.NewFormatErrorf("LAS header", "need %d bytes, have %d", LASHeaderSize, len(b))
	}
	if string(b[0:4]) != lasSignature {
		return Header{}, utils.NewFormatErrorf("LAS header", "bad signature %q", b[0:4])
	}

	le := binary.LittleEndian
	h := Header{
		VersionMajor:       b[24],
		VersionMinor:       b[25],
		SystemIdentifier:   cString(b[26:58]),
		GeneratingSoftware: cString(b[58:90]),
		HeaderSize:         le.Uint16(b[94:]),
		OffsetToPointData:  le.Uint32(b[96:]),
		NumberOfVLRs:       le.Uint32(b[100:]),
		PointRecordLength:  le.Uint16(b[105:]),
		Scale:              readVector(b[131:]),
		Offset:             readVector(b[155:]),
		EVLROffset:         le.Uint64(b[235:]),
		EVLRCount:          le.Uint32(b[243:]),
		PointCount:         le.Uint64(b[247:]),
	}
	// The top two bits flag LAZ compression.
	h.PointFormat = b[104] & 0x3f
	if h.PointCount == 0 {
		h.PointCount = uint64(le.Uint32(b[107:]))
	}
	h.Max.X, h.Min.X = readFloat(b[179:]), readFloat(b[187:])
	h.Max.Y, h.Min.Y = readFloat(b[195:]), readFloat(b[203:])
	h.Max.Z, h.Min.Z = readFloat(b[211:]), readFloat(b[219:])

	if h.VersionMajor != 1 || h.VersionMinor != 4 {
		return Header{}, utils.NewFormatErrorf("LAS header", "version %d.%d is not 1.4", h.VersionMajor, h.VersionMinor)
	}
	if h.HeaderSize < LASHeaderSize {
		return Header{}, utils.NewFormatErrorf("LAS header", "header size %d is smaller than %d", h.HeaderSize, LASHeaderSize)
	}
	if h.NumberOfVLRs == 0 {
		return Header{}, utils.NewFormatErrorf("LAS header", "no VLRs, expected the COPC info record")
	}
	if uint64(h.OffsetToPointData) < uint64(h.HeaderSize)+InfoVLRSize {
		return Header{}, utils.NewFormatErrorf("LAS header", "point data offset %d overlaps the COPC info record",
			h.OffsetToPointData)
	}
	if h.Scale.X == 0 || h.Scale.Y == 0 || h.Scale.Z == 0 {
		return Header{}, utils.NewFormatErrorf("LAS header", "zero scale %v", h.Scale)
	}
	return h, nil
}

// ParseInfoVLR decodes and validates the COPC info VLR, header included.
func ParseInfoVLR(b []byte) (Info, error) {
	if len(b) < InfoVLRSize {
		return Info{}, utils.NewFormatErrorf("COPC info", "need %d bytes, have %d", InfoVLRSize, len(b))
	}
	le := binary.LittleEndian
	if id := cString(b[2:18]); id != copcUserID {
		return Info{}, utils.NewFormatErrorf("COPC info", "user id %q, expected %q", id, copcUserID)
	}
	if rid := le.Uint16(b[18:]); rid != infoRecordID {
		return Info{}, utils.NewFormatErrorf("COPC info", "record id %d, expected %d", rid, infoRecordID)
	}
	if n := le.Uint16(b[20:]); n < InfoPayloadSize {
		return Info{}, utils.NewFormatErrorf("COPC info", "record length %d, expected %d", n, InfoPayloadSize)
	}

	p := b[VLRHeaderSize:]
	info := Info{
		Center:         readVector(p[0:]),
		Halfsize:       readFloat(p[24:]),
		Spacing:        readFloat(p[32:]),
		RootHierOffset: le.Uint64(p[40:]),
		RootHierSize:   le.Uint64(p[48:]),
		GPSTimeMin:     readFloat(p[56:]),
		GPSTimeMax:     readFloat(p[64:]),
	}
	if !(info.Halfsize > 0) {
		return Info{}, utils.NewFormatErrorf("COPC info", "halfsize %v is not positive", info.Halfsize)
	}
	if info.RootHierOffset > math.MaxInt64 || info.RootHierSize > math.MaxInt64-info.RootHierOffset {
		return Info{}, utils.NewFormatErrorf("COPC info", "root page [%d, +%d) out of range",
			info.RootHierOffset, info.RootHierSize)
	}
	return info, nil
}

// MarshalBinary encodes the LAS header immediately followed by the COPC info VLR. HeaderSize is
// always written as LASHeaderSize.
func (h Header) MarshalBinary() ([]byte, error) {
	le := binary.LittleEndian
	b := make([]byte, LASHeaderSize+InfoVLRSize)

	copy(b[0:4], lasSignature)
	b[24], b[25] = h.VersionMajor, h.VersionMinor
	copy(b[26:58], h.SystemIdentifier)
	copy(b[58:90], h.GeneratingSoftware)
	le.PutUint16(b[94:], LASHeaderSize)
	le.PutUint32(b[96:], h.OffsetToPointData)
	le.PutUint32(b[100:], h.NumberOfVLRs)
	// COPC point data is always LAZ compressed.
	b[104] = h.PointFormat | 0x80
	le.PutUint16(b[105:], h.PointRecordLength)
	if h.PointCount <= math.MaxUint32 && h.PointFormat < 6 {
		le.PutUint32(b[107:], uint32(h.PointCount))
	}
	putVector(b[131:], h.Scale)
	putVector(b[155:], h.Offset)
	putFloat(b[179:], h.Max.X)
	putFloat(b[187:], h.Min.X)
	putFloat(b[195:], h.Max.Y)
	putFloat(b[203:], h.Min.Y)
	putFloat(b[211:], h.Max.Z)
	putFloat(b[219:], h.Min.Z)
	le.PutUint64(b[235:], h.EVLROffset)
	le.PutUint32(b[243:], h.EVLRCount)
	le.PutUint64(b[247:], h.PointCount)

	v := b[LASHeaderSize:]
	copy(v[2:18], copcUserID)
	le.PutUint16(v[18:], infoRecordID)
	le.PutUint16(v[20:], InfoPayloadSize)
	copy(v[22:54], "COPC info VLR")
	p := v[VLRHeaderSize:]
	putVector(p[0:], h.Info.Center)
	putFloat(p[24:], h.Info.Halfsize)
	putFloat(p[32:], h.Info.Spacing)
	le.PutUint64(p[40:], h.Info.RootHierOffset)
	le.PutUint64(p[48:], h.Info.RootHierSize)
	putFloat(p[56:], h.Info.GPSTimeMin)
	putFloat(p[64:], h.Info.GPSTimeMax)
	return b, nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func readFloat(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func readVector(b []byte) r3.Vector {
	return r3.Vector{X: readFloat(b[0:]), Y: readFloat(b[8:]), Z: readFloat(b[16:])}
}

func putFloat(b []byte, f float64) {
	binary.LittleEndian.PutUint64(b, math.Float64bits(f))
}

func putVector(b []byte, v r3.Vector) {
	putFloat(b[0:], v.X)
	putFloat(b[8:], v.Y)
	putFloat(b[16:], v.Z)
}
