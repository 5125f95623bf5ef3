// Package mirror implements the local, partially populated copy of a remote object. Only byte
// ranges that were explicitly written are readable; everything else is rejected as not resident.
package mirror

import (
	"sync"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/pkg/errors"

	"go.viam.com/copc/utils"
)

// Mirror is a byte-addressable local copy of a remote object together with the set of offsets
// that have actually been downloaded. A Mirror is safe for concurrent use; each Write is applied
// and marked resident as one unit, so a concurrent reader of that range sees either none or all of it.
type Mirror struct {
	mu       sync.RWMutex
	store    Store
	resident *roaring64.Bitmap
	closed   bool
}

// New returns a Mirror over the given store. The store is owned by the Mirror and closed with it.
func New(store Store) *Mirror {
	return &Mirror{store: store, resident: roaring64.New()}
}

// NewMemoryMirror returns a Mirror held entirely in memory.
func NewMemoryMirror() *Mirror {
	return New(newMemoryStore())
}

// NewFileMirror returns a Mirror backed by a sparse file at path. Any existing file is truncated,
// since nothing in it can be trusted as resident.
func NewFileMirror(path string) (*Mirror, error) {
	store, err := openFileStore(path)
	if err != nil {
		return nil, err
	}
	return New(store), nil
}

// Write stores data at offset and marks [offset, offset+len(data)) resident. Bytes already
// resident in that range are overwritten.
func (m *Mirror) Write(offset int64, data []byte) error {
	r := NewByteRange(offset, int64(len(data)))
	if err := r.Validate(); err != nil {
		return err
	}
	if r.Empty() {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("mirror is closed")
	}
	if _, err := m.store.WriteAt(data, offset); err != nil {
		return errors.Wrapf(err, "writing %s to mirror", r)
	}
	m.resident.AddRange(uint64(r.Start), uint64(r.End))
	return nil
}

// Read returns a copy of the bytes in r. It fails with a NotResident error unless every byte of r
// has been written.
func (m *Mirror) Read(r ByteRange) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errors.New("mirror is closed")
	}
	if !m.residentLocked(r) {
		return nil, utils.NewNotResidentError(r.Start, r.End)
	}
	out := make([]byte, r.Len())
	if _, err := m.store.ReadAt(out, r.Start); err != nil {
		return nil, errors.Wrapf(err, "reading %s from mirror", r)
	}
	return out, nil
}

// Resident reports whether every byte of r has been written. Empty ranges are always resident.
func (m *Mirror) Resident(r ByteRange) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.residentLocked(r)
}

func (m *Mirror) residentLocked(r ByteRange) bool {
	if r.Empty() {
		return true
	}
	want := roaring64.New()
	want.AddRange(uint64(r.Start), uint64(r.End))
	return roaring64.And(m.resident, want).GetCardinality() == uint64(r.Len())
}

// ResidentBytes returns the number of distinct bytes downloaded so far.
func (m *Mirror) ResidentBytes() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resident.GetCardinality()
}

// Close releases the backing store. Further reads and writes fail.
func (m *Mirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.store.Close()
}
