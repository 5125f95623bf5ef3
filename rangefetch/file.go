package rangefetch

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"go.viam.com/copc/mirror"
	"go.viam.com/copc/utils"
)

// FileTransport serves ranges from files under a local root directory laid out as root/bucket/key.
// It stands in for object storage in tests and offline runs.
type FileTransport struct {
	root string
}

// NewFileTransport returns a transport rooted at dir.
func NewFileTransport(dir string) *FileTransport {
	return &FileTransport{root: dir}
}

type sectionReadCloser struct {
	*io.SectionReader
	f *os.File
}

func (s sectionReadCloser) Close() error {
	return s.f.Close()
}

// GetRange opens the file and returns a reader limited to r. Reading past the end of the file
// yields a short body, which the Fetcher reports as a TransportError.
func (t *FileTransport) GetRange(ctx context.Context, bucket, key string, r mirror.ByteRange) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := utils.SafeJoinDir(t.root, filepath.Join(bucket, key))
	if err != nil {
		return nil, err
	}
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", path)
	}
	return sectionReadCloser{io.NewSectionReader(f, r.Start, r.Len()), f}, nil
}
