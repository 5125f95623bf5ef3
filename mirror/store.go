package mirror

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/copc/utils"
)

// Store is the backing storage of a Mirror, addressed by absolute offset.
type Store interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
}

// fileStore keeps the mirror in a sparse local file, laid out at the same offsets as the remote
// object. The file is removed on Close.
type fileStore struct {
	*os.File
}

func (fs *fileStore) Close() error {
	defer utils.RemoveFileNoError(fs.Name())
	return fs.File.Close()
}

func openFileStore(path string) (*fileStore, error) {
	//nolint:gosec
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "opening mirror file %q", path)
	}
	return &fileStore{f}, nil
}

const memoryPageSize = 64 << 10

// memoryStore is a sparse in-memory buffer split into fixed pages so that writing a node near the
// end of a large file does not allocate everything before it.
type memoryStore struct {
	mu    sync.Mutex
	pages map[int64][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{pages: map[int64][]byte{}}
}

func (ms *memoryStore) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Errorf("negative offset %d", off)
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	written := 0
	for written < len(p) {
		pos := off + int64(written)
		pageNum, pageOff := pos/memoryPageSize, pos%memoryPageSize
		page, ok := ms.pages[pageNum]
		if !ok {
			page = make([]byte, memoryPageSize)
			ms.pages[pageNum] = page
		}
		written += copy(page[pageOff:], p[written:])
	}
	return written, nil
}

func (ms *memoryStore) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Errorf("negative offset %d", off)
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	read := 0
	for read < len(p) {
		pos := off + int64(read)
		pageNum, pageOff := pos/memoryPageSize, pos%memoryPageSize
		page, ok := ms.pages[pageNum]
		if !ok {
			// Never written; Mirror rejects these reads before they get here.
			n := memoryPageSize - int(pageOff)
			if n > len(p)-read {
				n = len(p) - read
			}
			clear(p[read : read+n])
			read += n
			continue
		}
		read += copy(p[read:], page[pageOff:])
	}
	return read, nil
}

func (ms *memoryStore) Close() error {
	ms.mu.Lock()
	ms.pages = nil
	ms.mu.Unlock()
	return nil
}
