// Package session ties together everything needed to work on one remote COPC file: the transport,
// the local mirror, the index, and the point loader. A Session owns the mirror and releases it on
// Close.
package session

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/copc/balance"
	"go.viam.com/copc/config"
	"go.viam.com/copc/copc"
	"go.viam.com/copc/logging"
	"go.viam.com/copc/mirror"
	"go.viam.com/copc/octree"
	"go.viam.com/copc/pointload"
	"go.viam.com/copc/rangefetch"
)

// Options describe a session independent of where they came from.
type Options struct {
	Transport rangefetch.Transport
	Bucket    string
	Key       string
	// MirrorPath is the local mirror file; empty keeps the mirror in memory.
	MirrorPath string
	// FullHierarchy follows child hierarchy pages instead of stopping at the root page.
	FullHierarchy bool
	// Decoder defaults to copc.RawDecoder.
	Decoder   copc.Decoder
	CacheSize int
}

// A Session is one open COPC file.
type Session struct {
	id      uuid.UUID
	opts    Options
	mirror  *mirror.Mirror
	fetcher *rangefetch.Fetcher
	index   *copc.Index
	logger  logging.Logger

	mu     sync.RWMutex
	loader *pointload.Loader
	closed bool
}

// Open creates the mirror, loads the header and the hierarchy, and returns a ready session.
func Open(ctx context.Context, opts Options, logger logging.Logger) (*Session, error) {
	return OpenWithID(ctx, uuid.New(), opts, logger)
}

// OpenWithID is Open with a caller chosen session id.
func OpenWithID(ctx context.Context, id uuid.UUID, opts Options, logger logging.Logger) (_ *Session, err error) {
	if opts.Transport == nil {
		return nil, errors.New("session requires a transport")
	}
	if opts.Decoder == nil {
		opts.Decoder = copc.RawDecoder{}
	}

	var m *mirror.Mirror
	if opts.MirrorPath == "" {
		m = mirror.NewMemoryMirror()
	} else if m, err = mirror.NewFileMirror(opts.MirrorPath); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			err = multierr.Combine(err, m.Close())
		}
	}()

	logger = logger.Sublogger(id.String()[:8])
	fetcher := rangefetch.NewFetcher(opts.Transport, opts.Bucket, opts.Key, m, logger.Sublogger("fetch"))
	s := &Session{
		id:      id,
		opts:    opts,
		mirror:  m,
		fetcher: fetcher,
		index:   copc.NewIndex(fetcher, logger.Sublogger("index")),
		logger:  logger,
	}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	hdr, _ := s.index.Header()
	cat, _ := s.index.Catalogue()
	logger.CInfow(ctx, "opened session",
		"key", opts.Key,
		"points", hdr.PointCount,
		"nodes", cat.Len(),
		"max level", cat.MaxLevel())
	return s, nil
}

// FromConfig opens a session described by cfg.
func FromConfig(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Session, error) {
	transport, err := NewTransport(cfg, logger)
	if err != nil {
		return nil, err
	}
	return Open(ctx, Options{
		Transport:     transport,
		Bucket:        cfg.Bucket,
		Key:           cfg.Key,
		MirrorPath:    cfg.MirrorPath,
		FullHierarchy: cfg.Hierarchy == config.HierarchyFull,
		CacheSize:     cfg.CacheSize,
	}, logger)
}

// NewTransport builds the transport named by cfg, wrapped for retries if cfg asks for them.
func NewTransport(cfg *config.Config, logger logging.Logger) (rangefetch.Transport, error) {
	var transport rangefetch.Transport
	switch cfg.Transport {
	case config.TransportS3:
		s3, err := rangefetch.NewS3Transport(cfg.S3Options())
		if err != nil {
			return nil, err
		}
		transport = s3
	case config.TransportHTTP:
		transport = rangefetch.NewHTTPTransport(cfg.Endpoint, nil)
	case config.TransportFile:
		transport = rangefetch.NewFileTransport(cfg.Endpoint)
	default:
		return nil, errors.Errorf("unknown transport %q", cfg.Transport)
	}
	if opts, ok := cfg.RetryOptions(); ok {
		transport = rangefetch.NewRetryingTransport(transport, opts, clock.New(), logger.Sublogger("retry"))
	}
	return transport, nil
}

// Reload reads the header and hierarchy again and replaces the point loader, dropping its cache.
// Data already in the mirror stays resident.
func (s *Session) Reload(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	hdr, err := s.index.LoadHeader(ctx)
	if err != nil {
		return err
	}
	if s.opts.FullHierarchy {
		_, err = s.index.LoadHierarchy(ctx)
	} else {
		_, err = s.index.LoadRootPage(ctx)
	}
	if err != nil {
		return err
	}
	loader, err := pointload.NewLoader(s.fetcher, s.opts.Decoder, hdr, s.opts.CacheSize, s.logger.Sublogger("points"))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.loader = loader
	s.mu.Unlock()
	return nil
}

// ID returns the id of this session.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Key returns the object key of the file.
func (s *Session) Key() string {
	return s.opts.Key
}

// Index returns the file's index.
func (s *Session) Index() *copc.Index {
	return s.index
}

// Mirror returns the local mirror.
func (s *Session) Mirror() *mirror.Mirror {
	return s.mirror
}

// Header returns the loaded header.
func (s *Session) Header() (copc.Header, error) {
	return s.index.Header()
}

// Partition splits every node into groups by metric; see balance.PartitionByMetric.
func (s *Session) Partition(metric balance.Metric, threshold int64) ([]balance.Group, error) {
	nodes, err := s.index.AllNodes()
	if err != nil {
		return nil, err
	}
	return balance.PartitionByMetric(nodes, metric, threshold)
}

// LoadNodes fetches the data of nodes into the mirror.
func (s *Session) LoadNodes(ctx context.Context, nodes []octree.Node, concurrency int) error {
	loader, err := s.currentLoader()
	if err != nil {
		return err
	}
	return loader.LoadPoints(ctx, nodes, concurrency)
}

// Points decodes the points of resident nodes.
func (s *Session) Points(ctx context.Context, nodes []octree.Node) (int, error) {
	loader, err := s.currentLoader()
	if err != nil {
		return 0, err
	}
	points, err := loader.GetPoints(ctx, nodes)
	return len(points), err
}

// PointsWithinBox finds the nodes overlapping [min, max], fetches those not yet resident and
// returns the points inside the box along with the overlapping nodes.
func (s *Session) PointsWithinBox(
	ctx context.Context, min, max r3.Vector, concurrency int,
) ([]octree.Node, []lidario.LasPointer, error) {
	loader, err := s.currentLoader()
	if err != nil {
		return nil, nil, err
	}
	nodes, err := s.index.NodesIntersectingBox(min, max)
	if err != nil {
		return nil, nil, err
	}
	var missing []octree.Node
	for _, n := range nodes {
		if !loader.Resident(n) {
			missing = append(missing, n)
		}
	}
	if err := loader.LoadPoints(ctx, missing, concurrency); err != nil {
		return nil, nil, err
	}
	points, err := loader.PointsWithinBox(ctx, nodes, min, max)
	if err != nil {
		return nil, nil, err
	}
	s.logger.CInfow(ctx, "box query", "nodes", len(nodes), "fetched", len(missing), "points", len(points))
	return nodes, points, nil
}

// Loader returns the current point loader.
func (s *Session) Loader() (*pointload.Loader, error) {
	return s.currentLoader()
}

func (s *Session) currentLoader() (*pointload.Loader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.New("session is closed")
	}
	return s.loader, nil
}

func (s *Session) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("session is closed")
	}
	return nil
}

// Close releases the mirror. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.loader = nil
	s.mu.Unlock()

	err := s.mirror.Close()
	s.logger.Infow("closed session", "resident bytes", s.mirror.ResidentBytes())
	return err
}
