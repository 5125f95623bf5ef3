package cli

import (
	"fmt"

	units "github.com/docker/go-units"
	"github.com/golang/geo/r3"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"go.viam.com/copc/balance"
	"go.viam.com/copc/config"
	"go.viam.com/copc/logging"
	"go.viam.com/copc/octree"
	"go.viam.com/copc/session"
)

// withSession reads the config, opens a session for the length of fn and closes it afterwards.
func withSession(c *cli.Context, fn func(cfg *config.Config, sess *session.Session) error) (err error) {
	cfg, err := config.Read(c.String(flagConfig))
	if err != nil {
		return err
	}
	logger := logging.NewLogger("copc")
	logger.SetLevel(logging.WARN)
	if c.Bool(flagDebug) {
		logger = logging.NewDebugLogger("copc")
	}
	logging.ReplaceGlobal(logger)

	sess, err := session.FromConfig(c.Context, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(cfg, sess)
}

func keyArg(c *cli.Context) (octree.Key, error) {
	if c.NArg() != 1 {
		return octree.Key{}, errors.Errorf("%s expects exactly one key argument of the form D-X-Y-Z", c.Command.Name)
	}
	return octree.ParseKey(c.Args().First())
}

func printf(c *cli.Context, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(c.App.Writer, format+"\n", a...)
}

func printKeys(c *cli.Context, keys []octree.Key) {
	for _, k := range keys {
		printf(c, "%s", k)
	}
}

// HeaderAction prints the header.
func HeaderAction(c *cli.Context) error {
	return withSession(c, func(_ *config.Config, sess *session.Session) error {
		hdr, err := sess.Header()
		if err != nil {
			return err
		}
		maxLevel, err := sess.Index().MaxLevel()
		if err != nil {
			return err
		}
		t := table.NewWriter()
		t.AppendHeader(table.Row{"Field", "Value"})
		t.AppendRows([]table.Row{
			{"Session", sess.ID().String()},
			{"Version", fmt.Sprintf("%d.%d", hdr.VersionMajor, hdr.VersionMinor)},
			{"Generating software", hdr.GeneratingSoftware},
			{"Point format", hdr.PointFormat},
			{"Record length", hdr.PointRecordLength},
			{"Points", hdr.PointCount},
			{"Scale", fmt.Sprintf("%g, %g, %g", hdr.Scale.X, hdr.Scale.Y, hdr.Scale.Z)},
			{"Offset", fmt.Sprintf("%g, %g, %g", hdr.Offset.X, hdr.Offset.Y, hdr.Offset.Z)},
			{"Min", fmt.Sprintf("%g, %g, %g", hdr.Min.X, hdr.Min.Y, hdr.Min.Z)},
			{"Max", fmt.Sprintf("%g, %g, %g", hdr.Max.X, hdr.Max.Y, hdr.Max.Z)},
			{"Center", fmt.Sprintf("%g, %g, %g", hdr.Info.Center.X, hdr.Info.Center.Y, hdr.Info.Center.Z)},
			{"Halfsize", hdr.Info.Halfsize},
			{"Spacing", hdr.Info.Spacing},
			{"Root page", hdr.RootPageRange().String()},
			{"Max level", maxLevel},
		})
		printf(c, "%s", t.Render())
		return nil
	})
}

// KeysAction lists keys, optionally at one level.
func KeysAction(c *cli.Context) error {
	return withSession(c, func(_ *config.Config, sess *session.Session) error {
		var keys octree.KeySet
		var err error
		if level := c.Int(flagLevel); level >= 0 {
			keys, err = sess.Index().KeysAtLevel(int32(level))
		} else {
			keys, err = sess.Index().AllKeys()
		}
		if err != nil {
			return err
		}
		printKeys(c, keys.Sorted())
		return nil
	})
}

// NodeAction prints one node.
func NodeAction(c *cli.Context) error {
	k, err := keyArg(c)
	if err != nil {
		return err
	}
	return withSession(c, func(_ *config.Config, sess *session.Session) error {
		n, err := sess.Index().Node(k)
		if err != nil {
			return err
		}
		hdr, err := sess.Header()
		if err != nil {
			return err
		}
		min, max, err := hdr.KeyBounds(k)
		if err != nil {
			return err
		}
		t := table.NewWriter()
		t.AppendHeader(table.Row{"Key", "Offset", "Size", "Points", "Min", "Max"})
		t.AppendRow(table.Row{
			n.Key.String(),
			n.Offset,
			units.BytesSize(float64(n.ByteSize)),
			n.PointCount,
			fmt.Sprintf("%.2f, %.2f, %.2f", min.X, min.Y, min.Z),
			fmt.Sprintf("%.2f, %.2f, %.2f", max.X, max.Y, max.Z),
		})
		printf(c, "%s", t.Render())
		return nil
	})
}

// ChildrenAction lists the children of a node.
func ChildrenAction(c *cli.Context) error {
	k, err := keyArg(c)
	if err != nil {
		return err
	}
	return withSession(c, func(_ *config.Config, sess *session.Session) error {
		children, err := sess.Index().ChildrenOf(k)
		if err != nil {
			return err
		}
		printKeys(c, children)
		return nil
	})
}

// ParentAction prints the parent of a node.
func ParentAction(c *cli.Context) error {
	k, err := keyArg(c)
	if err != nil {
		return err
	}
	return withSession(c, func(_ *config.Config, sess *session.Session) error {
		parent, err := sess.Index().ParentOf(k)
		if err != nil {
			return err
		}
		printf(c, "%s", parent)
		return nil
	})
}

// NeighborsAction lists the neighbours of a node.
func NeighborsAction(c *cli.Context) error {
	k, err := keyArg(c)
	if err != nil {
		return err
	}
	return withSession(c, func(_ *config.Config, sess *session.Session) error {
		neighbors, err := sess.Index().NeighborsOf(k)
		if err != nil {
			return err
		}
		printKeys(c, neighbors)
		return nil
	})
}

// PartitionAction prints workload groups.
func PartitionAction(c *cli.Context) error {
	return withSession(c, func(cfg *config.Config, sess *session.Session) error {
		metric, err := cfg.ParsedMetric()
		if err != nil {
			return err
		}
		if name := c.String(flagMetric); name != "" {
			if metric, err = balance.ParseMetric(name); err != nil {
				return err
			}
		}
		threshold := cfg.Threshold
		if c.IsSet(flagThreshold) {
			threshold = c.Int64(flagThreshold)
		}

		groups, err := sess.Partition(metric, threshold)
		if err != nil {
			return err
		}
		t := table.NewWriter()
		t.AppendHeader(table.Row{"#", "Nodes", "First", "Last", metric.String()})
		for i, g := range groups {
			t.AppendRow(table.Row{i, len(g.Nodes), g.Nodes[0].Key.String(), g.Nodes[len(g.Nodes)-1].Key.String(), g.Sum})
		}
		printf(c, "%s", t.Render())
		return nil
	})
}

// FetchAction downloads node data into the mirror.
func FetchAction(c *cli.Context) error {
	return withSession(c, func(cfg *config.Config, sess *session.Session) error {
		nodes, err := sess.Index().AllNodes()
		if err != nil {
			return err
		}
		if level := c.Int(flagLevel); level >= 0 {
			nodes = lo.Filter(nodes, func(n octree.Node, _ int) bool { return n.Key.Level == int32(level) })
		}
		concurrency := cfg.Concurrency
		if c.IsSet(flagConcurrency) {
			concurrency = c.Int(flagConcurrency)
		}

		if err := sess.LoadNodes(c.Context, nodes, concurrency); err != nil {
			return err
		}
		total := lo.SumBy(nodes, func(n octree.Node) int64 { return int64(n.ByteSize) })
		printf(c, "fetched %d nodes (%s), %s resident", len(nodes),
			units.HumanSize(float64(total)), units.HumanSize(float64(sess.Mirror().ResidentBytes())))

		if c.Bool(flagDecode) {
			n, err := sess.Points(c.Context, nodes)
			if err != nil {
				return err
			}
			printf(c, "decoded %d points", n)
		}
		return nil
	})
}

// BoxAction runs a spatial query.
func BoxAction(c *cli.Context) error {
	min := r3.Vector{X: c.Float64(flagMinX), Y: c.Float64(flagMinY), Z: c.Float64(flagMinZ)}
	max := r3.Vector{X: c.Float64(flagMaxX), Y: c.Float64(flagMaxY), Z: c.Float64(flagMaxZ)}
	return withSession(c, func(cfg *config.Config, sess *session.Session) error {
		concurrency := cfg.Concurrency
		if c.IsSet(flagConcurrency) {
			concurrency = c.Int(flagConcurrency)
		}
		nodes, points, err := sess.PointsWithinBox(c.Context, min, max, concurrency)
		if err != nil {
			return err
		}
		printf(c, "%d nodes intersect the box", len(nodes))
		printf(c, "%d points inside the box", len(points))

		if show := lo.Min([]int{c.Int(flagShow), len(points)}); show > 0 {
			t := table.NewWriter()
			t.AppendHeader(table.Row{"X", "Y", "Z", "Intensity"})
			for _, p := range points[:show] {
				d := p.PointData()
				t.AppendRow(table.Row{d.X, d.Y, d.Z, d.Intensity})
			}
			printf(c, "%s", t.Render())
		}
		return nil
	})
}
