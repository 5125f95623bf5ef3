// Package cli contains the copc command line tool: inspect the index of a remote COPC file and
// fetch node data through range requests.
package cli

import (
	"io"
	"math"

	"github.com/urfave/cli/v2"
)

const (
	flagConfig      = "config"
	flagDebug       = "debug"
	flagLevel       = "level"
	flagMetric      = "metric"
	flagThreshold   = "threshold"
	flagConcurrency = "concurrency"
	flagDecode      = "decode"
	flagMinX        = "min-x"
	flagMinY        = "min-y"
	flagMinZ        = "min-z"
	flagMaxX        = "max-x"
	flagMaxY        = "max-y"
	flagMaxZ        = "max-z"
	flagShow        = "show"
)

var app = &cli.App{
	Name:            "copc",
	Usage:           "navigate the octree of a remote COPC file with range requests",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     flagConfig,
			Aliases:  []string{"c"},
			Usage:    "load configuration from `FILE`",
			Required: true,
		},
		&cli.BoolFlag{
			Name:    flagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:   "header",
			Usage:  "print the LAS header and COPC info",
			Action: HeaderAction,
		},
		{
			Name:  "keys",
			Usage: "list node keys",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  flagLevel,
					Usage: "only list keys at this level",
					Value: -1,
				},
			},
			Action: KeysAction,
		},
		{
			Name:      "node",
			Usage:     "print one node entry",
			ArgsUsage: "<D-X-Y-Z>",
			Action:    NodeAction,
		},
		{
			Name:      "children",
			Usage:     "list the existing children of a node",
			ArgsUsage: "<D-X-Y-Z>",
			Action:    ChildrenAction,
		},
		{
			Name:      "parent",
			Usage:     "print the parent of a node",
			ArgsUsage: "<D-X-Y-Z>",
			Action:    ParentAction,
		},
		{
			Name:      "neighbors",
			Usage:     "list the existing face neighbours of a node at the deepest level",
			ArgsUsage: "<D-X-Y-Z>",
			Action:    NeighborsAction,
		},
		{
			Name:  "partition",
			Usage: "split all nodes into workload groups",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  flagMetric,
					Usage: "weigh nodes by `METRIC` (points or bytes); defaults to the config",
				},
				&cli.Int64Flag{
					Name:  flagThreshold,
					Usage: "close a group once its weight exceeds this; defaults to the config",
				},
			},
			Action: PartitionAction,
		},
		{
			Name:  "fetch",
			Usage: "download node data into the local mirror",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  flagLevel,
					Usage: "only fetch nodes at this level",
					Value: -1,
				},
				&cli.IntFlag{
					Name:  flagConcurrency,
					Usage: "number of parallel fetches; defaults to the config",
				},
				&cli.BoolFlag{
					Name:  flagDecode,
					Usage: "decode the fetched nodes as uncompressed point records",
				},
			},
			Action: FetchAction,
		},
		{
			Name:  "box",
			Usage: "fetch the nodes overlapping a box and count the points inside it",
			Flags: []cli.Flag{
				&cli.Float64Flag{Name: flagMinX, Required: true},
				&cli.Float64Flag{Name: flagMinY, Required: true},
				&cli.Float64Flag{Name: flagMaxX, Required: true},
				&cli.Float64Flag{Name: flagMaxY, Required: true},
				&cli.Float64Flag{Name: flagMinZ, Value: math.Inf(-1), Usage: "lower z bound; unbounded by default"},
				&cli.Float64Flag{Name: flagMaxZ, Value: math.Inf(1), Usage: "upper z bound; unbounded by default"},
				&cli.IntFlag{
					Name:  flagConcurrency,
					Usage: "number of parallel fetches; defaults to the config",
				},
				&cli.IntFlag{
					Name:  flagShow,
					Usage: "print the first `N` points",
					Value: 3,
				},
			},
			Action: BoxAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
