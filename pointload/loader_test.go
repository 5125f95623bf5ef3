package pointload

import (
	"context"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/copc/copc"
	"go.viam.com/copc/copc/copctest"
	"go.viam.com/copc/logging"
	"go.viam.com/copc/mirror"
	"go.viam.com/copc/octree"
	"go.viam.com/copc/rangefetch"
	"go.viam.com/copc/utils"
)

func sampleFile(t *testing.T) *copctest.File {
	t.Helper()
	opts := copctest.Options{PointFormat: 7}
	points := copctest.Grid([]octree.Key{
		octree.RootKey(),
		octree.NewKey(1, 0, 0, 0),
		octree.NewKey(1, 1, 0, 1),
		octree.NewKey(2, 0, 1, 1),
		octree.NewKey(2, 3, 3, 3),
	}, 6, opts)
	points[octree.NewKey(1, 1, 1, 1)] = nil
	return copctest.MustBuild(t, points, opts)
}

// countingDecoder counts Decode calls per node.
type countingDecoder struct {
	mu    sync.Mutex
	calls map[octree.Key]int
}

func (d *countingDecoder) Decode(raw []byte, node octree.Node, hdr copc.Header) ([]lidario.LasPointer, error) {
	d.mu.Lock()
	if d.calls == nil {
		d.calls = map[octree.Key]int{}
	}
	d.calls[node.Key]++
	d.mu.Unlock()
	return copc.RawDecoder{}.Decode(raw, node, hdr)
}

func newLoader(t *testing.T, f *copctest.File, transport rangefetch.Transport, decoder copc.Decoder) *Loader {
	t.Helper()
	logger := logging.NewTestLogger(t)
	m := mirror.NewMemoryMirror()
	t.Cleanup(func() {
		test.That(t, m.Close(), test.ShouldBeNil)
	})
	l, err := NewLoader(rangefetch.NewFetcher(transport, "bucket", "cloud.copc.laz", m, logger), decoder, f.Header, 16, logger)
	test.That(t, err, test.ShouldBeNil)
	return l
}

func TestLoadThenGetPoints(t *testing.T) {
	ctx := context.Background()
	f := sampleFile(t)
	transport := f.Transport()
	l := newLoader(t, f, transport, copc.RawDecoder{})

	for _, n := range f.Nodes {
		if n.ByteSize > 0 {
			test.That(t, l.Resident(n), test.ShouldBeFalse)
		}
	}
	_, err := l.GetPoints(ctx, f.Nodes)
	test.That(t, errors.Is(err, utils.ErrNotResident), test.ShouldBeTrue)

	test.That(t, l.LoadPoints(ctx, f.Nodes, 3), test.ShouldBeNil)
	// The empty node is never requested.
	test.That(t, len(transport.Requests()), test.ShouldEqual, len(f.Nodes)-1)
	for _, n := range f.Nodes {
		test.That(t, l.Resident(n), test.ShouldBeTrue)
	}

	points, err := l.GetPoints(ctx, f.Nodes)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, uint64(len(points)), test.ShouldEqual, f.Header.PointCount)

	for _, n := range f.Nodes {
		min, max, err := f.Header.KeyBounds(n.Key)
		test.That(t, err, test.ShouldBeNil)
		nodePoints, err := l.NodePoints(n)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(nodePoints), test.ShouldEqual, int(n.PointCount))
		for _, p := range nodePoints {
			d := p.PointData()
			test.That(t, d.X, test.ShouldBeBetween, min.X, max.X)
			test.That(t, d.Y, test.ShouldBeBetween, min.Y, max.Y)
			test.That(t, d.Z, test.ShouldBeBetween, min.Z, max.Z)
		}
	}
}

func TestGetPointsRequiresResidency(t *testing.T) {
	ctx := context.Background()
	f := sampleFile(t)
	l := newLoader(t, f, f.Transport(), copc.RawDecoder{})

	test.That(t, l.LoadPoints(ctx, f.Nodes[:2], 1), test.ShouldBeNil)
	_, err := l.GetPoints(ctx, f.Nodes[:2])
	test.That(t, err, test.ShouldBeNil)

	_, err = l.GetPoints(ctx, f.Nodes)
	test.That(t, errors.Is(err, utils.ErrNotResident), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, f.Nodes[2].Key.String())

	_, err = l.NodePoints(f.Nodes[4])
	test.That(t, errors.Is(err, utils.ErrNotResident), test.ShouldBeTrue)
}

func TestLoadPointsInvalidConcurrency(t *testing.T) {
	f := sampleFile(t)
	l := newLoader(t, f, f.Transport(), copc.RawDecoder{})
	for _, c := range []int{0, -1} {
		err := l.LoadPoints(context.Background(), f.Nodes, c)
		test.That(t, errors.Is(err, utils.ErrInvalidArgument), test.ShouldBeTrue)
	}
}

func TestLoadPointsBoundsConcurrency(t *testing.T) {
	f := sampleFile(t)
	inner := f.Transport()
	var inFlight, peak atomic.Int32
	transport := rangefetch.TransportFunc(func(ctx context.Context, bucket, key string, r mirror.ByteRange) (io.ReadCloser, error) {
		now := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if now <= old || peak.CompareAndSwap(old, now) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return inner.GetRange(ctx, bucket, key, r)
	})
	l := newLoader(t, f, transport, copc.RawDecoder{})

	test.That(t, l.LoadPoints(context.Background(), f.Nodes, 2), test.ShouldBeNil)
	test.That(t, peak.Load(), test.ShouldBeLessThanOrEqualTo, int32(2))
	test.That(t, peak.Load(), test.ShouldBeGreaterThan, int32(0))
}

func TestLoadPointsPropagatesFailure(t *testing.T) {
	f := sampleFile(t)
	inner := f.Transport()
	bad := f.Nodes[1].Range()
	transport := rangefetch.TransportFunc(func(ctx context.Context, bucket, key string, r mirror.ByteRange) (io.ReadCloser, error) {
		if r == bad {
			return nil, errors.New("503 slow down")
		}
		return inner.GetRange(ctx, bucket, key, r)
	})
	l := newLoader(t, f, transport, copc.RawDecoder{})

	err := l.LoadPoints(context.Background(), f.Nodes, 1)
	test.That(t, errors.Is(err, utils.ErrTransport), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "503 slow down")
	test.That(t, err.Error(), test.ShouldContainSubstring, f.Nodes[1].Key.String())
	test.That(t, l.Resident(f.Nodes[1]), test.ShouldBeFalse)

	_, err = l.GetPoints(context.Background(), f.Nodes[1:2])
	test.That(t, errors.Is(err, utils.ErrNotResident), test.ShouldBeTrue)
}

func TestDecodedNodesAreCached(t *testing.T) {
	ctx := context.Background()
	f := sampleFile(t)
	decoder := &countingDecoder{}
	l := newLoader(t, f, f.Transport(), decoder)
	n := f.Nodes[0]

	test.That(t, l.LoadPoints(ctx, []octree.Node{n}, 1), test.ShouldBeNil)
	first, err := l.GetPoints(ctx, []octree.Node{n})
	test.That(t, err, test.ShouldBeNil)
	second, err := l.GetPoints(ctx, []octree.Node{n})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(second), test.ShouldEqual, len(first))
	test.That(t, decoder.calls[n.Key], test.ShouldEqual, 1)

	// Fetching the node again drops its decoded points.
	test.That(t, l.LoadPoints(ctx, []octree.Node{n}, 1), test.ShouldBeNil)
	_, err = l.GetPoints(ctx, []octree.Node{n})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, decoder.calls[n.Key], test.ShouldEqual, 2)
}

func TestLoaderWithoutCache(t *testing.T) {
	ctx := context.Background()
	f := sampleFile(t)
	decoder := &countingDecoder{}
	logger := logging.NewTestLogger(t)
	m := mirror.NewMemoryMirror()
	defer func() {
		test.That(t, m.Close(), test.ShouldBeNil)
	}()
	l, err := NewLoader(rangefetch.NewFetcher(f.Transport(), "b", "k", m, logger), decoder, f.Header, 0, logger)
	test.That(t, err, test.ShouldBeNil)

	n := f.Nodes[0]
	test.That(t, l.LoadPoints(ctx, []octree.Node{n}, 4), test.ShouldBeNil)
	for i := 0; i < 3; i++ {
		_, err := l.NodePoints(n)
		test.That(t, err, test.ShouldBeNil)
	}
	test.That(t, decoder.calls[n.Key], test.ShouldEqual, 3)
}

// gatedDecoder blocks its first Decode until the gate is closed.
type gatedDecoder struct {
	countingDecoder
	once    sync.Once
	entered chan struct{}
	gate    chan struct{}
}

func (d *gatedDecoder) Decode(raw []byte, node octree.Node, hdr copc.Header) ([]lidario.LasPointer, error) {
	d.once.Do(func() {
		close(d.entered)
		<-d.gate
	})
	return d.countingDecoder.Decode(raw, node, hdr)
}

func TestRefetchDuringDecodeIsNotCached(t *testing.T) {
	ctx := context.Background()
	f := sampleFile(t)
	decoder := &gatedDecoder{entered: make(chan struct{}), gate: make(chan struct{})}
	l := newLoader(t, f, f.Transport(), decoder)
	n := f.Nodes[0]
	test.That(t, l.LoadPoints(ctx, []octree.Node{n}, 1), test.ShouldBeNil)

	decoded := make(chan error, 1)
	go func() {
		_, err := l.NodePoints(n)
		decoded <- err
	}()
	<-decoder.entered
	test.That(t, l.LoadPoints(ctx, []octree.Node{n}, 1), test.ShouldBeNil)
	close(decoder.gate)
	test.That(t, <-decoded, test.ShouldBeNil)

	// The points decoded before the second fetch were dropped, so this decodes again.
	_, err := l.NodePoints(n)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, decoder.calls[n.Key], test.ShouldEqual, 2)
	_, err = l.NodePoints(n)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, decoder.calls[n.Key], test.ShouldEqual, 2)
}

func TestEmptyNodeNeedsNoLoad(t *testing.T) {
	ctx := context.Background()
	f := sampleFile(t)
	transport := f.Transport()
	l := newLoader(t, f, transport, copc.RawDecoder{})
	empty := f.Nodes[3]
	test.That(t, empty.ByteSize, test.ShouldEqual, int32(0))

	// A node without data has nothing to fetch, so it is resident without LoadPoints.
	test.That(t, l.Resident(empty), test.ShouldBeTrue)
	points, err := l.GetPoints(ctx, []octree.Node{empty})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, points, test.ShouldBeEmpty)
	test.That(t, transport.Requests(), test.ShouldBeEmpty)
}

func TestPointsWithinBox(t *testing.T) {
	ctx := context.Background()
	f := sampleFile(t)
	l := newLoader(t, f, f.Transport(), copc.RawDecoder{})
	min := r3.Vector{X: 0, Y: -512, Z: math.Inf(-1)}
	max := r3.Vector{X: 512, Y: 0, Z: math.Inf(1)}

	_, err := l.PointsWithinBox(ctx, f.Nodes, min, max)
	test.That(t, errors.Is(err, utils.ErrNotResident), test.ShouldBeTrue)
	_, err = l.PointsWithinBox(ctx, f.Nodes, max, min)
	test.That(t, errors.Is(err, utils.ErrInvalidArgument), test.ShouldBeTrue)

	test.That(t, l.LoadPoints(ctx, f.Nodes, 2), test.ShouldBeNil)
	points, err := l.PointsWithinBox(ctx, f.Nodes, min, max)
	test.That(t, err, test.ShouldBeNil)
	// Only node 1-1-0-1 has points in the +x, -y quadrant; the diagonal of the others misses it.
	test.That(t, len(points), test.ShouldEqual, 6)
	for _, p := range points {
		d := p.PointData()
		test.That(t, d.X, test.ShouldBeBetweenOrEqual, 0.0, 512.0)
		test.That(t, d.Y, test.ShouldBeBetweenOrEqual, -512.0, 0.0)
	}

	all, err := l.PointsWithinBox(ctx, f.Nodes,
		r3.Vector{X: -512, Y: -512, Z: -512}, r3.Vector{X: 512, Y: 512, Z: 512})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, uint64(len(all)), test.ShouldEqual, f.Header.PointCount)
}
