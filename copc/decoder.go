package copc

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/edaniels/lidario"

	"go.viam.com/copc/octree"
	"go.viam.com/copc/utils"
)

// Decoder turns the raw bytes of one node into point records. LAZ decompression is expected to
// live behind this interface.
type Decoder interface {
	Decode(raw []byte, node octree.Node, hdr Header) ([]lidario.LasPointer, error)
}

// RawDecoder decodes uncompressed LAS point records of formats 0 through 3 and 6 through 8,
// applying the header's scale and offset. Extra bytes beyond the standard record are ignored.
type RawDecoder struct{}

// minRecordLength is the smallest record each supported format can be stored in.
var minRecordLength = map[uint8]int{
	0: 20, 1: 28, 2: 26, 3: 34,
	6: 30, 7: 36, 8: 38,
}

// Decode implements Decoder.
func (RawDecoder) Decode(raw []byte, node octree.Node, hdr Header) ([]lidario.LasPointer, error) {
	minLen, ok := minRecordLength[hdr.PointFormat]
	if !ok {
		return nil, utils.NewFormatErrorf("point data", "unsupported point format %d", hdr.PointFormat)
	}
	recLen := int(hdr.PointRecordLength)
	if recLen < minLen {
		return nil, utils.NewFormatErrorf("point data", "record length %d too short for format %d",
			recLen, hdr.PointFormat)
	}
	if node.PointCount < 0 || len(raw) != int(node.PointCount)*recLen {
		return nil, utils.NewFormatErrorf("point data", "node %s: %d bytes do not hold %d records of %d bytes",
			node.Key, len(raw), node.PointCount, recLen)
	}

	points := make([]lidario.LasPointer, 0, node.PointCount)
	for i := 0; i < len(raw); i += recLen {
		rec := raw[i : i+recLen]
		if hdr.PointFormat < 6 {
			points = append(points, decodeLegacy(rec, hdr))
		} else {
			points = append(points, decodeExtended(rec, hdr))
		}
	}
	return points, nil
}

func (h Header) scaled(rec []byte) (x, y, z float64) {
	le := binary.LittleEndian
	x = float64(int32(le.Uint32(rec[0:])))*h.Scale.X + h.Offset.X
	y = float64(int32(le.Uint32(rec[4:])))*h.Scale.Y + h.Offset.Y
	z = float64(int32(le.Uint32(rec[8:])))*h.Scale.Z + h.Offset.Z
	return x, y, z
}

func readRGB(b []byte) *lidario.RgbData {
	le := binary.LittleEndian
	return &lidario.RgbData{Red: le.Uint16(b[0:]), Green: le.Uint16(b[2:]), Blue: le.Uint16(b[4:])}
}

// decodeLegacy reads formats 0 to 3, which share a 20 byte prefix.
func decodeLegacy(rec []byte, hdr Header) lidario.LasPointer {
	le := binary.LittleEndian
	x, y, z := hdr.scaled(rec)
	pr0 := &lidario.PointRecord0{
		X:             x,
		Y:             y,
		Z:             z,
		Intensity:     le.Uint16(rec[12:]),
		BitField:      lidario.PointBitField{Value: rec[14]},
		ClassBitField: lidario.ClassificationBitField{Value: rec[15]},
		ScanAngle:     int8(rec[16]),
		UserData:      rec[17],
		PointSourceID: le.Uint16(rec[18:]),
	}
	switch hdr.PointFormat {
	case 1:
		return &lidario.PointRecord1{PointRecord0: pr0, GPSTime: readFloat(rec[20:])}
	case 2:
		return &lidario.PointRecord2{PointRecord0: pr0, RGB: readRGB(rec[20:])}
	case 3:
		return &lidario.PointRecord3{PointRecord0: pr0, GPSTime: readFloat(rec[20:]), RGB: readRGB(rec[28:])}
	default:
		return pr0
	}
}

// decodeExtended reads formats 6 to 8 and folds them into the legacy record types: return numbers
// and classes are truncated to the legacy bit widths and the scan angle is converted to degrees.
func decodeExtended(rec []byte, hdr Header) lidario.LasPointer {
	le := binary.LittleEndian
	x, y, z := hdr.scaled(rec)

	returns, flags := rec[14], rec[15]
	returnNumber, numberOfReturns := returns&0x0f, returns>>4
	scanDirection, edge := (flags>>6)&1, flags>>7
	bits := returnNumber&0x07 | (numberOfReturns&0x07)<<3 | scanDirection<<6 | edge<<7

	// Synthetic, key-point and withheld move from the flag byte into the classification byte.
	class := rec[16]&0x1f | (flags&0x07)<<5

	pr0 := &lidario.PointRecord0{
		X:             x,
		Y:             y,
		Z:             z,
		Intensity:     le.Uint16(rec[12:]),
		BitField:      lidario.PointBitField{Value: bits},
		ClassBitField: lidario.ClassificationBitField{Value: class},
		ScanAngle:     scanAngleDegrees(int16(le.Uint16(rec[18:]))),
		UserData:      rec[17],
		PointSourceID: le.Uint16(rec[20:]),
	}
	gps := readFloat(rec[22:])
	if hdr.PointFormat == 6 {
		return &lidario.PointRecord1{PointRecord0: pr0, GPSTime: gps}
	}
	return &lidario.PointRecord3{PointRecord0: pr0, GPSTime: gps, RGB: readRGB(rec[30:])}
}

// scanAngleDegrees converts the extended 0.006 degree increments to whole degrees.
func scanAngleDegrees(raw int16) int8 {
	return int8(math.Round(float64(raw) * 0.006))
}

// RecordLength returns the standard record length of a point format.
func RecordLength(format uint8) (uint16, error) {
	n, ok := minRecordLength[format]
	if !ok {
		return 0, utils.NewInvalidArgumentError("point format", fmt.Sprintf("%d is not supported", format))
	}
	return uint16(n), nil
}
