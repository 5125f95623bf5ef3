package copc

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/copc/logging"
	"go.viam.com/copc/mirror"
	"go.viam.com/copc/octree"
	"go.viam.com/copc/utils"
)

// RangeFetcher fetches exact byte ranges of the remote file, recording them in a local mirror.
type RangeFetcher interface {
	Fetch(ctx context.Context, r mirror.ByteRange) ([]byte, error)
}

// Index materializes the header and octree hierarchy of one remote COPC file. LoadHeader must
// succeed before LoadRootPage or LoadHierarchy, and one of those before any query. Loads replace
// state wholesale, so concurrent queries see either the old or the new catalogue.
type Index struct {
	fetcher RangeFetcher
	logger  logging.Logger

	mu        sync.RWMutex
	header    *Header
	catalogue *octree.Catalogue
}

// NewIndex returns an empty index reading through fetcher.
func NewIndex(fetcher RangeFetcher, logger logging.Logger) *Index {
	return &Index{fetcher: fetcher, logger: logger}
}

// LoadHeader fetches the LAS header and then the COPC info record that follows it. Calling it
// again replaces the header; a previously loaded catalogue survives only if the root page did not
// move.
func (idx *Index) LoadHeader(ctx context.Context) (Header, error) {
	raw, err := idx.fetcher.Fetch(ctx, mirror.NewByteRange(0, LASHeaderSize))
	if err != nil {
		return Header{}, errors.Wrap(err, "loading LAS header")
	}
	hdr, err := ParseLASHeader(raw)
	if err != nil {
		return Header{}, err
	}

	raw, err = idx.fetcher.Fetch(ctx, hdr.InfoRange())
	if err != nil {
		return Header{}, errors.Wrap(err, "loading COPC info")
	}
	if hdr.Info, err = ParseInfoVLR(raw); err != nil {
		return Header{}, err
	}

	idx.mu.Lock()
	if idx.header != nil && idx.header.RootPageRange() != hdr.RootPageRange() {
		idx.catalogue = nil
	}
	idx.header = &hdr
	idx.mu.Unlock()

	idx.logger.CDebugw(ctx, "loaded header",
		"version", fmt.Sprintf("%d.%d", hdr.VersionMajor, hdr.VersionMinor),
		"format", hdr.PointFormat,
		"points", hdr.PointCount,
		"root page", hdr.RootPageRange().String())
	return hdr, nil
}

// Header returns the loaded header.
func (idx *Index) Header() (Header, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.header == nil {
		return Header{}, utils.NewPreconditionError("Header", "LoadHeader")
	}
	return *idx.header, nil
}

// LoadRootPage fetches exactly the root hierarchy page and builds a new catalogue from it. Child
// page pointers in the root page are recorded but not followed.
func (idx *Index) LoadRootPage(ctx context.Context) (*octree.Catalogue, error) {
	hdr, err := idx.headerFor("LoadRootPage")
	if err != nil {
		return nil, err
	}
	nodes, pages, err := idx.fetchPage(ctx, hdr.RootPageRange())
	if err != nil {
		return nil, err
	}
	cat, err := octree.NewCatalogue(nodes, pages)
	if err != nil {
		return nil, err
	}
	if err := idx.setCatalogue(ctx, "LoadRootPage", hdr, cat); err != nil {
		return nil, err
	}
	return cat, nil
}

// LoadHierarchy fetches the root page and, breadth first, every child page reachable from it,
// building one catalogue out of all their node entries.
func (idx *Index) LoadHierarchy(ctx context.Context) (*octree.Catalogue, error) {
	hdr, err := idx.headerFor("LoadHierarchy")
	if err != nil {
		return nil, err
	}

	var nodes, pages []octree.Node
	visited := map[mirror.ByteRange]struct{}{}
	queue := []mirror.ByteRange{hdr.RootPageRange()}
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]
		if _, seen := visited[r]; seen {
			continue
		}
		visited[r] = struct{}{}

		pageNodes, children, err := idx.fetchPage(ctx, r)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, pageNodes...)
		pages = append(pages, children...)
		for _, child := range children {
			queue = append(queue, child.Range())
		}
	}

	cat, err := octree.NewCatalogue(nodes, pages)
	if err != nil {
		return nil, err
	}
	if err := idx.setCatalogue(ctx, "LoadHierarchy", hdr, cat); err != nil {
		return nil, err
	}
	return cat, nil
}

func (idx *Index) fetchPage(ctx context.Context, r mirror.ByteRange) (nodes, pages []octree.Node, err error) {
	if r.Empty() {
		return nil, nil, nil
	}
	raw, err := idx.fetcher.Fetch(ctx, r)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "loading hierarchy page %s", r)
	}
	return ParsePage(raw)
}

func (idx *Index) headerFor(op string) (Header, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.header == nil {
		return Header{}, utils.NewPreconditionError(op, "LoadHeader")
	}
	return *idx.header, nil
}

// setCatalogue installs cat, built from the root page of hdr, unless a concurrent LoadHeader has
// since moved the root page.
func (idx *Index) setCatalogue(ctx context.Context, op string, hdr Header, cat *octree.Catalogue) error {
	idx.mu.Lock()
	if idx.header == nil || idx.header.RootPageRange() != hdr.RootPageRange() {
		idx.mu.Unlock()
		return errors.Errorf("%s: root page %s was replaced by a header reload", op, hdr.RootPageRange())
	}
	idx.catalogue = cat
	idx.mu.Unlock()
	idx.logger.CDebugw(ctx, "loaded hierarchy",
		"nodes", cat.Len(), "pages", len(cat.Pages()), "max level", cat.MaxLevel())
	return nil
}

// Catalogue returns the current catalogue.
func (idx *Index) Catalogue() (*octree.Catalogue, error) {
	return idx.catalogueFor("Catalogue")
}

func (idx *Index) catalogueFor(op string) (*octree.Catalogue, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.catalogue == nil {
		return nil, errors.Wrap(utils.ErrNotLoaded, op)
	}
	return idx.catalogue, nil
}

// AllKeys returns the set of every node key.
func (idx *Index) AllKeys() (octree.KeySet, error) {
	cat, err := idx.catalogueFor("AllKeys")
	if err != nil {
		return nil, err
	}
	return cat.Keys(), nil
}

// AllNodes returns every node in hierarchy order.
func (idx *Index) AllNodes() ([]octree.Node, error) {
	cat, err := idx.catalogueFor("AllNodes")
	if err != nil {
		return nil, err
	}
	return cat.Nodes(), nil
}

// Node returns the entry for k, or a NotFound error.
func (idx *Index) Node(k octree.Key) (octree.Node, error) {
	cat, err := idx.catalogueFor("Node")
	if err != nil {
		return octree.Node{}, err
	}
	return cat.Lookup(k)
}

// NodesAtLevel returns the nodes at one depth in hierarchy order.
func (idx *Index) NodesAtLevel(level int32) ([]octree.Node, error) {
	if err := checkLevel(level); err != nil {
		return nil, err
	}
	cat, err := idx.catalogueFor("NodesAtLevel")
	if err != nil {
		return nil, err
	}
	return cat.NodesAtLevel(level), nil
}

// KeysAtLevel returns the set of keys at one depth.
func (idx *Index) KeysAtLevel(level int32) (octree.KeySet, error) {
	if err := checkLevel(level); err != nil {
		return nil, err
	}
	cat, err := idx.catalogueFor("KeysAtLevel")
	if err != nil {
		return nil, err
	}
	return cat.KeysAtLevel(level), nil
}

// MaxLevel returns the deepest level in the catalogue, -1 if it is empty.
func (idx *Index) MaxLevel() (int32, error) {
	cat, err := idx.catalogueFor("MaxLevel")
	if err != nil {
		return 0, err
	}
	return cat.MaxLevel(), nil
}

// ChildrenOf returns the children of k that exist.
func (idx *Index) ChildrenOf(k octree.Key) ([]octree.Key, error) {
	cat, err := idx.catalogueFor("ChildrenOf")
	if err != nil {
		return nil, err
	}
	return octree.CandidateChildrenOf(k, cat), nil
}

// ParentOf returns the parent key of k, or a NotFound error if the parent has no node.
func (idx *Index) ParentOf(k octree.Key) (octree.Key, error) {
	cat, err := idx.catalogueFor("ParentOf")
	if err != nil {
		return octree.Key{}, err
	}
	parent, err := octree.ParentOf(k)
	if err != nil {
		return octree.Key{}, err
	}
	if !cat.Has(parent) {
		return octree.Key{}, utils.NewNotFoundError(fmt.Sprintf("parent %s of %s", parent, k))
	}
	return parent, nil
}

// NeighborsOf returns the existing face neighbours of k at the deepest level of the catalogue.
func (idx *Index) NeighborsOf(k octree.Key) ([]octree.Key, error) {
	cat, err := idx.catalogueFor("NeighborsOf")
	if err != nil {
		return nil, err
	}
	if cat.Len() == 0 {
		return []octree.Key{}, nil
	}
	return octree.NeighborsAtMaxDepth(k, cat, cat.MaxLevel())
}

// NodesIntersectingBox returns, in hierarchy order, every node whose cube overlaps the box
// [min, max]. Bounds are inclusive, so a node touching the box counts. Pass infinite Z bounds for a
// 2D query.
func (idx *Index) NodesIntersectingBox(min, max r3.Vector) ([]octree.Node, error) {
	if err := ValidateBox(min, max); err != nil {
		return nil, err
	}
	idx.mu.RLock()
	hdr, cat := idx.header, idx.catalogue
	idx.mu.RUnlock()
	if cat == nil {
		return nil, errors.Wrap(utils.ErrNotLoaded, "NodesIntersectingBox")
	}

	var out []octree.Node
	for _, n := range cat.Nodes() {
		nodeMin, nodeMax, err := hdr.KeyBounds(n.Key)
		if err != nil {
			return nil, err
		}
		if boxesOverlap(nodeMin, nodeMax, min, max) {
			out = append(out, n)
		}
	}
	return out, nil
}

// InBox reports whether p lies inside [min, max], bounds included.
func InBox(p, min, max r3.Vector) bool {
	return p.X >= min.X && p.X <= max.X &&
		p.Y >= min.Y && p.Y <= max.Y &&
		p.Z >= min.Z && p.Z <= max.Z
}

func boxesOverlap(aMin, aMax, bMin, bMax r3.Vector) bool {
	return aMin.X <= bMax.X && bMin.X <= aMax.X &&
		aMin.Y <= bMax.Y && bMin.Y <= aMax.Y &&
		aMin.Z <= bMax.Z && bMin.Z <= aMax.Z
}

// ValidateBox checks that [min, max] is a well formed box. Infinite bounds are allowed.
func ValidateBox(min, max r3.Vector) error {
	for _, v := range []float64{min.X, min.Y, min.Z, max.X, max.Y, max.Z} {
		if math.IsNaN(v) {
			return utils.NewInvalidArgumentError("box", "bounds must not be NaN")
		}
	}
	if min.X > max.X || min.Y > max.Y || min.Z > max.Z {
		return utils.NewInvalidArgumentError("box", fmt.Sprintf("min %v exceeds max %v", min, max))
	}
	return nil
}

func checkLevel(level int32) error {
	if level < 0 {
		return utils.NewInvalidArgumentError("level", fmt.Sprintf("%d is negative", level))
	}
	return nil
}
