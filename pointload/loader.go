// Package pointload downloads the compressed bytes of octree nodes into the local mirror with
// bounded concurrency and decodes them into point records on request.
package pointload

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"go.viam.com/copc/copc"
	"go.viam.com/copc/logging"
	"go.viam.com/copc/mirror"
	"go.viam.com/copc/octree"
	"go.viam.com/copc/utils"
)

// Fetcher is what a Loader needs from rangefetch.Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, r mirror.ByteRange) ([]byte, error)
	Mirror() *mirror.Mirror
}

// Loader fetches node data and decodes it. It is safe for concurrent use.
type Loader struct {
	fetcher Fetcher
	decoder copc.Decoder
	header  copc.Header
	// cache maps octree.Node to its decoded []lidario.LasPointer. Nil when caching is off.
	cache  *lru.Cache
	logger logging.Logger

	// generations counts completed fetches per node so a decode that raced a re-fetch is not
	// cached.
	genMu       sync.Mutex
	generations map[octree.Node]uint64
}

// NewLoader returns a loader decoding with decoder under hdr. Up to cacheSize decoded nodes are
// kept; zero or less disables the cache.
func NewLoader(fetcher Fetcher, decoder copc.Decoder, hdr copc.Header, cacheSize int, logger logging.Logger) (*Loader, error) {
	l := &Loader{
		fetcher:     fetcher,
		decoder:     decoder,
		header:      hdr,
		logger:      logger,
		generations: map[octree.Node]uint64{},
	}
	if cacheSize > 0 {
		cache, err := lru.New(cacheSize)
		if err != nil {
			return nil, errors.Wrap(err, "creating decoded node cache")
		}
		l.cache = cache
	}
	return l, nil
}

// LoadPoints fetches the byte range of every node into the mirror, running at most concurrency
// fetches at once. Nodes without data are skipped. The first failure cancels fetches that have not
// started and is returned; ranges fetched before it stay resident.
func (l *Loader) LoadPoints(ctx context.Context, nodes []octree.Node, concurrency int) error {
	if concurrency <= 0 {
		return utils.NewInvalidArgumentError("concurrency", fmt.Sprintf("%d is not positive", concurrency))
	}

	start := time.Now()
	var fetched, fetchedBytes atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, n := range nodes {
		if n.ByteSize == 0 {
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if _, err := l.fetcher.Fetch(gctx, n.Range()); err != nil {
				return errors.Wrapf(err, "loading node %s", n.Key)
			}
			l.invalidate(n)
			fetched.Add(1)
			fetchedBytes.Add(int64(n.ByteSize))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	l.logger.CDebugw(ctx, "loaded nodes",
		"nodes", fetched.Load(),
		"bytes", fetchedBytes.Load(),
		"concurrency", concurrency,
		"elapsed", time.Since(start))
	return nil
}

// Resident reports whether n's data is in the mirror.
func (l *Loader) Resident(n octree.Node) bool {
	return l.fetcher.Mirror().Resident(n.Range())
}

// GetPoints decodes the points of every node, in node order. All nodes must be resident;
// otherwise a NotResident error naming the first missing node is returned and nothing is decoded.
func (l *Loader) GetPoints(ctx context.Context, nodes []octree.Node) ([]lidario.LasPointer, error) {
	for _, n := range nodes {
		if !l.Resident(n) {
			return nil, errors.Wrapf(utils.NewNotResidentError(n.Range().Start, n.Range().End), "node %s", n.Key)
		}
	}

	var out []lidario.LasPointer
	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		points, err := l.NodePoints(n)
		if err != nil {
			return nil, err
		}
		out = append(out, points...)
	}
	return out, nil
}

func (l *Loader) invalidate(n octree.Node) {
	l.genMu.Lock()
	defer l.genMu.Unlock()
	l.generations[n]++
	if l.cache != nil {
		l.cache.Remove(n)
	}
}

func (l *Loader) generation(n octree.Node) uint64 {
	l.genMu.Lock()
	defer l.genMu.Unlock()
	return l.generations[n]
}

// remember caches points decoded at generation gen, unless n was fetched again meanwhile.
func (l *Loader) remember(n octree.Node, gen uint64, points []lidario.LasPointer) {
	l.genMu.Lock()
	defer l.genMu.Unlock()
	if l.generations[n] == gen {
		l.cache.Add(n, points)
	}
}

// NodePoints decodes the points of a single resident node.
func (l *Loader) NodePoints(n octree.Node) ([]lidario.LasPointer, error) {
	if l.cache != nil {
		if cached, ok := l.cache.Get(n); ok {
			return cached.([]lidario.LasPointer), nil
		}
	}
	gen := l.generation(n)
	raw, err := l.fetcher.Mirror().Read(n.Range())
	if err != nil {
		return nil, errors.Wrapf(err, "node %s", n.Key)
	}
	points, err := l.decoder.Decode(raw, n, l.header)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding node %s", n.Key)
	}
	if l.cache != nil {
		l.remember(n, gen, points)
	}
	return points, nil
}

// PointsWithinBox decodes the given nodes and keeps the points inside [min, max], bounds
// included. Like GetPoints, every node must be resident.
func (l *Loader) PointsWithinBox(ctx context.Context, nodes []octree.Node, min, max r3.Vector) ([]lidario.LasPointer, error) {
	if err := copc.ValidateBox(min, max); err != nil {
		return nil, err
	}
	points, err := l.GetPoints(ctx, nodes)
	if err != nil {
		return nil, err
	}
	inside := make([]lidario.LasPointer, 0, len(points))
	for _, p := range points {
		d := p.PointData()
		if copc.InBox(r3.Vector{X: d.X, Y: d.Y, Z: d.Z}, min, max) {
			inside = append(inside, p)
		}
	}
	return inside, nil
}
