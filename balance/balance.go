// Package balance splits a node list into contiguous groups of bounded weight so that downstream
// fetch and decode work can be spread over workers.
package balance

import (
	"fmt"
	"strings"

	"go.viam.com/copc/octree"
	"go.viam.com/copc/utils"
)

// Metric selects which node attribute a partition is weighed by.
type Metric int

// The supported metrics.
const (
	PointCount Metric = iota
	ByteSize
)

func (m Metric) String() string {
	switch m {
	case PointCount:
		return "points"
	case ByteSize:
		return "bytes"
	default:
		return fmt.Sprintf("Metric(%d)", int(m))
	}
}

// ParseMetric parses the names printed by Metric.String.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "points", "point_count", "pointcount":
		return PointCount, nil
	case "bytes", "byte_size", "bytesize":
		return ByteSize, nil
	default:
		return 0, utils.NewInvalidArgumentError("metric", fmt.Sprintf("unknown metric %q", s))
	}
}

// Of returns the weight of n under m.
func (m Metric) Of(n octree.Node) (int64, error) {
	switch m {
	case PointCount:
		return int64(n.PointCount), nil
	case ByteSize:
		return int64(n.ByteSize), nil
	default:
		return 0, utils.NewInvalidArgumentError("metric", m.String())
	}
}

// Group is a contiguous run of nodes and its total weight.
type Group struct {
	Nodes []octree.Node
	Sum   int64
}

// PartitionByMetric walks nodes once in order, closing the current group as soon as its total
// strictly exceeds threshold and emitting any non-empty remainder last. Concatenating the groups
// reproduces nodes exactly. The split is greedy, not balanced: a single heavy node forms its own
// group and the last group can be arbitrarily light.
func PartitionByMetric(nodes []octree.Node, metric Metric, threshold int64) ([]Group, error) {
	if threshold <= 0 {
		return nil, utils.NewInvalidArgumentError("threshold", fmt.Sprintf("%d is not positive", threshold))
	}
	if _, err := metric.Of(octree.Node{}); err != nil {
		return nil, err
	}

	groups := []Group{}
	var current Group
	for _, n := range nodes {
		w, _ := metric.Of(n)
		current.Nodes = append(current.Nodes, n)
		current.Sum += w
		if current.Sum > threshold {
			groups = append(groups, current)
			current = Group{}
		}
	}
	if len(current.Nodes) > 0 {
		groups = append(groups, current)
	}
	return groups, nil
}
