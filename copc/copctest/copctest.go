// Package copctest builds small synthetic COPC files for tests: a valid header and info record,
// uncompressed point chunks, and hierarchy pages that may be split into child pages.
package copctest

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"sort"
	"sync"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/copc/copc"
	"go.viam.com/copc/logging"
	"go.viam.com/copc/mirror"
	"go.viam.com/copc/octree"
	"go.viam.com/copc/rangefetch"
)

// Point is one synthetic point in file coordinates.
type Point struct {
	X, Y, Z          float64
	Intensity        uint16
	Classification   uint8
	Red, Green, Blue uint16
	GPSTime          float64
}

// Options controls the layout of a built file.
type Options struct {
	// PointFormat is one of 0-3 or 6-8.
	PointFormat uint8
	// ChildPageLevel, when positive, moves every node at or below that level into a child page
	// rooted at its ancestor on that level.
	ChildPageLevel int32
	Center         r3.Vector
	Halfsize       float64
}

// File is a built COPC file.
type File struct {
	Bytes  []byte
	Header copc.Header
	// Nodes lists every point node in hierarchy order.
	Nodes []octree.Node
	// Pages lists the child page pointers.
	Pages []octree.Node
}

// Build lays out a COPC file holding the given nodes. Keys are written in octree.Key order.
func Build(points map[octree.Key][]Point, opts Options) (*File, error) {
	recLen, err := copc.RecordLength(opts.PointFormat)
	if err != nil {
		return nil, err
	}
	if opts.Halfsize == 0 {
		opts.Halfsize = 512
	}

	keys := make([]octree.Key, 0, len(points))
	for k := range points {
		keys = append(keys, k)
	}
	octree.SortKeys(keys)

	hdr := copc.Header{
		VersionMajor:       1,
		VersionMinor:       4,
		GeneratingSoftware: "copctest",
		OffsetToPointData:  copc.LASHeaderSize + copc.InfoVLRSize,
		NumberOfVLRs:       1,
		PointFormat:        opts.PointFormat,
		PointRecordLength:  recLen,
		Scale:              r3.Vector{X: 0.01, Y: 0.01, Z: 0.01},
		Offset:             opts.Center,
		Min:                opts.Center.Sub(r3.Vector{X: opts.Halfsize, Y: opts.Halfsize, Z: opts.Halfsize}),
		Max:                opts.Center.Add(r3.Vector{X: opts.Halfsize, Y: opts.Halfsize, Z: opts.Halfsize}),
		Info: copc.Info{
			Center:   opts.Center,
			Halfsize: opts.Halfsize,
			Spacing:  opts.Halfsize / 64,
		},
	}

	var body bytes.Buffer
	body.Write(make([]byte, hdr.OffsetToPointData))
	nodes := make([]octree.Node, 0, len(keys))
	for _, k := range keys {
		n := octree.Node{Key: k, Offset: int64(body.Len()), PointCount: int32(len(points[k]))}
		for _, p := range points[k] {
			body.Write(encodePoint(p, hdr))
		}
		n.ByteSize = int32(int64(body.Len()) - n.Offset)
		hdr.PointCount += uint64(len(points[k]))
		nodes = append(nodes, n)
	}

	rootEntries := nodes
	var pages []octree.Node
	if opts.ChildPageLevel > 0 {
		rootEntries = nil
		grouped := map[octree.Key][]octree.Node{}
		var anchors []octree.Key
		for _, n := range nodes {
			if n.Key.Level < opts.ChildPageLevel {
				rootEntries = append(rootEntries, n)
				continue
			}
			shift := n.Key.Level - opts.ChildPageLevel
			anchor := octree.NewKey(opts.ChildPageLevel, n.Key.X>>shift, n.Key.Y>>shift, n.Key.Z>>shift)
			if _, ok := grouped[anchor]; !ok {
				anchors = append(anchors, anchor)
			}
			grouped[anchor] = append(grouped[anchor], n)
		}
		for _, anchor := range anchors {
			page := copc.EncodePage(grouped[anchor])
			ptr := copc.PagePointer(anchor, int64(body.Len()), int32(len(page)))
			body.Write(page)
			pages = append(pages, ptr)
			rootEntries = append(rootEntries, ptr)
		}
	}

	root := copc.EncodePage(rootEntries)
	hdr.Info.RootHierOffset = uint64(body.Len())
	hdr.Info.RootHierSize = uint64(len(root))
	body.Write(root)

	head, err := hdr.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out := body.Bytes()
	copy(out, head)

	// Match what a reader sees once it has parsed the header back.
	hdr.HeaderSize = copc.LASHeaderSize
	return &File{Bytes: out, Header: hdr, Nodes: pointNodes(nodes, rootEntries, pages), Pages: pages}, nil
}

// pointNodes orders nodes the way a breadth first hierarchy load encounters them.
func pointNodes(all, root, pages []octree.Node) []octree.Node {
	if len(pages) == 0 {
		return all
	}
	var out []octree.Node
	for _, n := range root {
		if n.PointCount >= 0 {
			out = append(out, n)
		}
	}
	inRoot := make(map[octree.Key]struct{}, len(out))
	for _, n := range out {
		inRoot[n.Key] = struct{}{}
	}
	for _, p := range pages {
		for _, n := range all {
			if _, ok := inRoot[n.Key]; ok || !p.Key.Contains(n.Key) {
				continue
			}
			out = append(out, n)
		}
	}
	return out
}

// MustBuild is Build failing the test on error.
func MustBuild(tb testing.TB, points map[octree.Key][]Point, opts Options) *File {
	tb.Helper()
	f, err := Build(points, opts)
	if err != nil {
		tb.Fatal(err)
	}
	return f
}

// Grid returns n points per key spread along the diagonal of each key's cube.
func Grid(keys []octree.Key, n int, opts Options) map[octree.Key][]Point {
	if opts.Halfsize == 0 {
		opts.Halfsize = 512
	}
	out := make(map[octree.Key][]Point, len(keys))
	for _, k := range keys {
		min, max, err := k.Bounds(opts.Center, opts.Halfsize)
		if err != nil {
			continue
		}
		pts := make([]Point, n)
		for i := range pts {
			f := (float64(i) + 0.5) / float64(n)
			pts[i] = Point{
				X:              math.Round((min.X+f*(max.X-min.X))*100) / 100,
				Y:              math.Round((min.Y+f*(max.Y-min.Y))*100) / 100,
				Z:              math.Round((min.Z+f*(max.Z-min.Z))*100) / 100,
				Intensity:      uint16(i),
				Classification: 2,
				Red:            uint16(k.X) << 8,
				Green:          uint16(k.Y) << 8,
				Blue:           uint16(k.Z) << 8,
				GPSTime:        float64(i),
			}
		}
		out[k] = pts
	}
	return out
}

func encodePoint(p Point, hdr copc.Header) []byte {
	le := binary.LittleEndian
	rec := make([]byte, hdr.PointRecordLength)
	le.PutUint32(rec[0:], uint32(int32(math.Round((p.X-hdr.Offset.X)/hdr.Scale.X))))
	le.PutUint32(rec[4:], uint32(int32(math.Round((p.Y-hdr.Offset.Y)/hdr.Scale.Y))))
	le.PutUint32(rec[8:], uint32(int32(math.Round((p.Z-hdr.Offset.Z)/hdr.Scale.Z))))
	le.PutUint16(rec[12:], p.Intensity)
	putRGB := func(b []byte) {
		le.PutUint16(b[0:], p.Red)
		le.PutUint16(b[2:], p.Green)
		le.PutUint16(b[4:], p.Blue)
	}
	gps := math.Float64bits(p.GPSTime)

	if hdr.PointFormat < 6 {
		rec[14] = 1 | 1<<3
		rec[15] = p.Classification & 0x1f
		le.PutUint16(rec[18:], 1)
		switch hdr.PointFormat {
		case 1:
			le.PutUint64(rec[20:], gps)
		case 2:
			putRGB(rec[20:])
		case 3:
			le.PutUint64(rec[20:], gps)
			putRGB(rec[28:])
		}
		return rec
	}
	rec[14] = 1 | 1<<4
	rec[16] = p.Classification
	le.PutUint16(rec[20:], 1)
	le.PutUint64(rec[22:], gps)
	if hdr.PointFormat >= 7 {
		putRGB(rec[30:])
	}
	return rec
}

// Transport serves a file's bytes and records every range asked of it.
type Transport struct {
	data []byte

	mu       sync.Mutex
	requests []mirror.ByteRange
}

// Transport returns a transport serving f.
func (f *File) Transport() *Transport {
	return &Transport{data: f.Bytes}
}

// GetRange implements rangefetch.Transport.
func (t *Transport) GetRange(ctx context.Context, bucket, key string, r mirror.ByteRange) (io.ReadCloser, error) {
	t.mu.Lock()
	t.requests = append(t.requests, r)
	t.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.End > int64(len(t.data)) {
		return nil, errors.Errorf("range %s beyond object size %d", r, len(t.data))
	}
	return io.NopCloser(bytes.NewReader(t.data[r.Start:r.End])), nil
}

// Requests returns the ranges requested so far sorted by start offset.
func (t *Transport) Requests() []mirror.ByteRange {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := append([]mirror.ByteRange(nil), t.requests...)
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// Fetcher returns a fetcher over a fresh memory mirror reading f, along with the transport so
// tests can inspect requests.
func (f *File) Fetcher(tb testing.TB) (*rangefetch.Fetcher, *Transport) {
	tb.Helper()
	t := f.Transport()
	m := mirror.NewMemoryMirror()
	tb.Cleanup(func() {
		if err := m.Close(); err != nil {
			tb.Error(err)
		}
	})
	return rangefetch.NewFetcher(t, "bucket", "cloud.copc.laz", m, logging.NewTestLogger(tb)), t
}
