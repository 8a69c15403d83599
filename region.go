package stegfs

import (
	"crypto/rand"
	"runtime"
	"sync"

	"github.com/absfs/absfs"
)

// Region is a fixed-capacity byte range backed by a single file through a
// Codec. Its contents are held in memory and mutated there; nothing touches
// the backing store until Sync. The buffer is only materialized on the
// first read or write, so constructing thousands of regions costs one
// Probe each, not one full decode each.
//
// A Region never calls Sync on its own, not even from Close: flushing can
// fail, and the owner must be the one to see that failure and decide to
// retry. Close scrubs and releases the buffer regardless of dirtiness, so
// an owner that discards a dirty region without syncing loses those writes.
//
// Exactly one Region may exist per backing file in the process. Two regions
// over the same path will overwrite each other's flushes.
type Region struct {
	mu       sync.Mutex
	path     string
	capacity int64
	codec    Codec
	buffer   []byte
	dirty    bool
}

// NewRegion constructs a region over the given codec. The codec's Probe
// establishes the capacity; the backing store is not decoded yet.
func NewRegion(path string, codec Codec) (*Region, error) {
	capacity, err := codec.Probe()
	if err != nil {
		return nil, err
	}
	return &Region{
		path:     path,
		capacity: capacity,
		codec:    codec,
	}, nil
}

// NewFileRegion constructs a region whose backing store is the raw bytes of
// the file at path.
func NewFileRegion(fsys absfs.FileSystem, path string) (*Region, error) {
	codec, err := NewFileCodec(fsys, path)
	if err != nil {
		return nil, err
	}
	return NewRegion(path, codec)
}

// NewImageRegion constructs a region whose backing store is a PNG, BMP or
// TGA cover image at path. Bytes are hidden in the least significant bits
// of the image's samples.
func NewImageRegion(fsys absfs.FileSystem, path string) (*Region, error) {
	codec, err := NewImageCodec(fsys, path)
	if err != nil {
		return nil, err
	}
	return NewRegion(path, codec)
}

// Capacity returns the region's fixed byte capacity.
func (r *Region) Capacity() int64 {
	return r.capacity
}

// Path returns the backing file's path.
func (r *Region) Path() string {
	return r.path
}

// WriteAt copies bytes from p into the region starting at off, like
// pwrite(2): if p runs past the end of the region, as many bytes as fit are
// written and that count is returned. off must be in [0, Capacity()).
// The first write materializes the buffer from the backing store.
func (r *Region) WriteAt(p []byte, off int64) (int, error) {
	if err := ValidateBuffer(p, "p"); err != nil {
		return 0, err
	}
	if err := ValidateOffset(off, r.capacity, "off"); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.materialize(); err != nil {
		return 0, err
	}

	n := len(p)
	if int64(n) > r.capacity-off {
		n = int(r.capacity - off)
	}
	copy(r.buffer[off:], p[:n])
	if n > 0 {
		r.dirty = true
	}
	return n, nil
}

// ReadAt copies bytes from the region into p starting at off, like
// pread(2): a read that runs past the end of the region is truncated and
// the copied count returned. off must be in [0, Capacity()). The first
// read materializes the buffer from the backing store.
func (r *Region) ReadAt(p []byte, off int64) (int, error) {
	if err := ValidateBuffer(p, "p"); err != nil {
		return 0, err
	}
	if err := ValidateOffset(off, r.capacity, "off"); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.materialize(); err != nil {
		return 0, err
	}

	n := len(p)
	if int64(n) > r.capacity-off {
		n = int(r.capacity - off)
	}
	copy(p, r.buffer[off:off+int64(n)])
	return n, nil
}

// Sync flushes the buffer to the backing store and releases it. If the
// region is already synced this is a no-op. On failure the buffer and the
// dirty flag are left as they were, so the caller can retry.
func (r *Region) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.dirty {
		return nil
	}

	if err := r.codec.Encode(r.buffer); err != nil {
		return err
	}

	r.buffer = nil
	r.dirty = false
	return nil
}

// Synced reports whether the backing store holds the region's current
// contents. A region with no buffer is synced by definition.
func (r *Region) Synced() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.dirty
}

// Close scrubs and releases the buffer if one is allocated. It does NOT
// sync first; see the type comment. Close is idempotent and always
// succeeds.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.buffer != nil {
		scrub(r.buffer)
		r.buffer = nil
	}
	r.dirty = false
	return nil
}

// materialize allocates the buffer and fills it from the backing store.
// Callers hold r.mu. On any failure the region is left unmaterialized.
func (r *Region) materialize() error {
	if r.buffer != nil {
		return nil
	}

	buf, err := allocBuffer(r.path, r.capacity)
	if err != nil {
		return err
	}

	// The backing store may have been modified between construction and
	// this first touch. Probe again before trusting it.
	if _, err := r.codec.Probe(); err != nil {
		return err
	}

	if err := r.codec.Decode(buf); err != nil {
		return err
	}

	r.buffer = buf
	r.dirty = false
	return nil
}

// allocBuffer allocates a region buffer, converting an allocation panic
// into a TooBigError instead of taking the process down.
func allocBuffer(path string, n int64) (buf []byte, err error) {
	defer func() {
		if recover() != nil {
			buf = nil
			err = NewTooBigError(path, n, "could not allocate region buffer")
		}
	}()
	return make([]byte, n), nil
}

// scrub overwrites b with zeros and then, best effort, with random bytes
// before it is released. If the random read fails the zeros stand; the
// overwrites must still happen, so keep b alive past the final store.
func scrub(b []byte) {
	for i := range b {
		b[i] = 0
	}
	rand.Read(b)
	runtime.KeepAlive(b)
}
