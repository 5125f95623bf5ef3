package octree

import (
	"fmt"
	"slices"

	"go.viam.com/copc/utils"
)

// Catalogue is the read-only index of every node found in the hierarchy. It preserves the order in
// which entries were parsed and answers membership in constant time. A Catalogue is never mutated
// after NewCatalogue returns, so it can be shared between goroutines without locking; loading the
// hierarchy again builds a new one.
type Catalogue struct {
	nodes    []Node
	index    map[Key]int
	pages    []Node
	maxLevel int32
}

// EmptyCatalogue returns a catalogue with no nodes.
func EmptyCatalogue() *Catalogue {
	return &Catalogue{index: map[Key]int{}, maxLevel: -1}
}

// NewCatalogue builds a catalogue from parsed node entries and child page pointers. Duplicate keys
// or keys with a negative level are a FormatError.
func NewCatalogue(nodes, pages []Node) (*Catalogue, error) {
	c := &Catalogue{
		nodes:    make([]Node, 0, len(nodes)),
		index:    make(map[Key]int, len(nodes)),
		pages:    slices.Clone(pages),
		maxLevel: -1,
	}
	for _, n := range nodes {
		if n.Key.Level < 0 {
			return nil, utils.NewFormatErrorf("hierarchy", "negative level in key %s", n.Key)
		}
		if _, dup := c.index[n.Key]; dup {
			return nil, utils.NewFormatErrorf("hierarchy", "duplicate key %s", n.Key)
		}
		c.index[n.Key] = len(c.nodes)
		c.nodes = append(c.nodes, n)
		if n.Key.Level > c.maxLevel {
			c.maxLevel = n.Key.Level
		}
	}
	return c, nil
}

// Len returns the number of nodes.
func (c *Catalogue) Len() int {
	return len(c.nodes)
}

// Has reports whether a node exists for k.
func (c *Catalogue) Has(k Key) bool {
	_, ok := c.index[k]
	return ok
}

// Node returns the entry for k.
func (c *Catalogue) Node(k Key) (Node, bool) {
	i, ok := c.index[k]
	if !ok {
		return Node{}, false
	}
	return c.nodes[i], true
}

// Lookup is Node returning a NotFound error for missing keys.
func (c *Catalogue) Lookup(k Key) (Node, error) {
	n, ok := c.Node(k)
	if !ok {
		return Node{}, utils.NewNotFoundError(fmt.Sprintf("node %s", k))
	}
	return n, nil
}

// Nodes returns every node in parse order.
func (c *Catalogue) Nodes() []Node {
	return slices.Clone(c.nodes)
}

// Keys returns the set of all keys.
func (c *Catalogue) Keys() KeySet {
	out := make(KeySet, len(c.nodes))
	for _, n := range c.nodes {
		out[n.Key] = struct{}{}
	}
	return out
}

// NodesAtLevel returns the nodes at one depth in parse order.
func (c *Catalogue) NodesAtLevel(level int32) []Node {
	var out []Node
	for _, n := range c.nodes {
		if n.Key.Level == level {
			out = append(out, n)
		}
	}
	return out
}

// KeysAtLevel returns the set of keys at one depth.
func (c *Catalogue) KeysAtLevel(level int32) KeySet {
	out := KeySet{}
	for _, n := range c.nodes {
		if n.Key.Level == level {
			out[n.Key] = struct{}{}
		}
	}
	return out
}

// MaxLevel returns the deepest level present, or -1 for an empty catalogue.
func (c *Catalogue) MaxLevel() int32 {
	return c.maxLevel
}

// Pages returns the child hierarchy page pointers found while parsing. Their Offset and ByteSize
// locate the page, not point data.
func (c *Catalogue) Pages() []Node {
	return slices.Clone(c.pages)
}

// TotalPoints returns the sum of point counts over all nodes.
func (c *Catalogue) TotalPoints() int64 {
	var total int64
	for _, n := range c.nodes {
		total += int64(n.PointCount)
	}
	return total
}

// Equal reports whether both catalogues hold the same nodes and pages in the same order.
func (c *Catalogue) Equal(other *Catalogue) bool {
	if c == nil || other == nil {
		return c == other
	}
	return slices.Equal(c.nodes, other.nodes) && slices.Equal(c.pages, other.pages)
}
