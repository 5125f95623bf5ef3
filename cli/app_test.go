package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"

	"go.viam.com/copc/copc/copctest"
	"go.viam.com/copc/logging"
	"go.viam.com/copc/octree"
)

// setup writes a synthetic file and a config pointing at it, returning the config path.
func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	opts := copctest.Options{PointFormat: 6}
	f := copctest.MustBuild(t, copctest.Grid([]octree.Key{
		octree.RootKey(),
		octree.NewKey(1, 0, 0, 0),
		octree.NewKey(1, 1, 1, 0),
		octree.NewKey(2, 2, 2, 0),
		octree.NewKey(2, 3, 2, 0),
		octree.NewKey(2, 3, 3, 1),
	}, 10, opts), opts)
	test.That(t, os.WriteFile(filepath.Join(dir, "test.copc.laz"), f.Bytes, 0o600), test.ShouldBeNil)

	cfg, err := json.Marshal(map[string]interface{}{
		"transport": "file",
		"endpoint":  dir,
		"key":       "test.copc.laz",
	})
	test.That(t, err, test.ShouldBeNil)
	path := filepath.Join(dir, "copc.json")
	test.That(t, os.WriteFile(path, cfg, 0o600), test.ShouldBeNil)
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := NewApp(&out, &errOut).Run(append([]string{"copc"}, args...))
	return out.String(), err
}

func TestKeyCommands(t *testing.T) {
	cfg := setup(t)

	out, err := run(t, "--config", cfg, "keys", "--level", "1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldEqual, "1-0-0-0\n1-1-1-0\n")

	out, err = run(t, "--config", cfg, "keys")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.Count(out, "\n"), test.ShouldEqual, 6)

	out, err = run(t, "--config", cfg, "children", "0-0-0-0")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldEqual, "1-0-0-0\n1-1-1-0\n")

	out, err = run(t, "--config", cfg, "parent", "2-3-2-0")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldEqual, "1-1-1-0\n")

	out, err = run(t, "--config", cfg, "neighbors", "2-2-2-0")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldEqual, "2-3-2-0\n")

	out, err = run(t, "--config", cfg, "node", "2-3-3-1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "2-3-3-1")

	_, err = run(t, "--config", cfg, "node")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = run(t, "--config", cfg, "node", "not-a-key")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = run(t, "--config", cfg, "node", "5-0-0-0")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "not found")
}

func TestHeaderAndPartition(t *testing.T) {
	cfg := setup(t)

	out, err := run(t, "--config", cfg, "header")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "copctest")
	test.That(t, out, test.ShouldContainSubstring, "Max level")

	out, err = run(t, "--config", cfg, "partition", "--metric", "points", "--threshold", "15")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "0-0-0-0")
	test.That(t, out, test.ShouldContainSubstring, "2-3-3-1")

	_, err = run(t, "--config", cfg, "partition", "--threshold", "-1")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFetch(t *testing.T) {
	cfg := setup(t)

	out, err := run(t, "--config", cfg, "fetch", "--level", "2", "--concurrency", "2", "--decode")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "fetched 3 nodes")
	test.That(t, out, test.ShouldContainSubstring, "decoded 30 points")

	_, err = run(t, "--config", cfg, "fetch", "--concurrency", "0")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBox(t *testing.T) {
	cfg := setup(t)

	out, err := run(t, "--config", cfg, "box",
		"--min-x", "260", "--min-y", "10", "--max-x", "500", "--max-y", "250", "--show", "2")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "3 nodes intersect the box")
	test.That(t, out, test.ShouldContainSubstring, "10 points inside the box")
	test.That(t, out, test.ShouldContainSubstring, "INTENSITY")

	out, err = run(t, "--config", cfg, "box",
		"--min-x", "600", "--min-y", "600", "--max-x", "700", "--max-y", "700")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "0 points inside the box")
	test.That(t, out, test.ShouldNotContainSubstring, "INTENSITY")

	_, err = run(t, "--config", cfg, "box", "--min-x", "5", "--min-y", "0", "--max-x", "1", "--max-y", "1")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = run(t, "--config", cfg, "box", "--min-x", "0")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSessionLoggerBecomesGlobal(t *testing.T) {
	defer logging.ReplaceGlobal(logging.Global())
	cfg := setup(t)

	_, err := run(t, "--config", cfg, "keys")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logging.Global().GetLevel(), test.ShouldEqual, logging.WARN)

	_, err = run(t, "--config", cfg, "--debug", "keys")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logging.Global().GetLevel(), test.ShouldEqual, logging.DEBUG)
}

func TestMissingConfig(t *testing.T) {
	_, err := run(t, "keys")
	test.That(t, err, test.ShouldNotBeNil)

	_, err = run(t, "--config", filepath.Join(t.TempDir(), "nope.json"), "keys")
	test.That(t, err, test.ShouldNotBeNil)
}
