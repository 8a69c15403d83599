package stegfs

import (
	"fmt"
	"io"
	"os"

	"github.com/absfs/absfs"
	"github.com/google/uuid"
)

// Codec translates between a region's logical bytes and its backing store.
// A codec instance is bound to one file on one filesystem at construction
// time. Region selects its codec when it is built; no further dispatch
// happens after that.
type Codec interface {
	// Probe examines the backing store and reports the region's byte
	// capacity. Probe is called once at construction to establish the
	// capacity, and again before every Decode as a guard: if the backing
	// store no longer matches what was recorded at construction, Probe
	// fails with a BackingStoreError wrapping ErrFileChanged. Region does
	// not Probe before Encode; ImageCodec.Encode repeats the geometry check
	// itself, FileCodec.Encode does not check.
	Probe() (int64, error)

	// Decode fills buf, whose length equals the probed capacity, from the
	// backing store.
	Decode(buf []byte) error

	// Encode rewrites the backing store from buf.
	Encode(buf []byte) error
}

// FileCodec stores a region's bytes verbatim in a regular file. Capacity is
// the file's size, and the change guard compares sizes. It exists so that
// the cached-region machinery can be exercised without any image handling;
// it is also a perfectly serviceable codec when hiding the data is not a
// concern.
type FileCodec struct {
	fsys absfs.FileSystem
	path string
	size int64 // -1 until the first Probe
}

// NewFileCodec creates a codec that reads and writes the file at path
// verbatim.
func NewFileCodec(fsys absfs.FileSystem, path string) (*FileCodec, error) {
	if fsys == nil {
		return nil, &ArgumentError{Field: "fsys", Message: "filesystem cannot be nil", Err: ErrNilFileSystem}
	}
	return &FileCodec{fsys: fsys, path: path, size: -1}, nil
}

// Probe reports the file's size. After the first call, a size change is
// reported as the file having changed.
func (c *FileCodec) Probe() (int64, error) {
	info, err := c.fsys.Stat(c.path)
	if err != nil {
		return 0, NewBackingStoreError("probe", c.path, err)
	}
	size := info.Size()
	if c.size >= 0 && size != c.size {
		return 0, NewBackingStoreError("probe", c.path, fmt.Errorf("%w: size %d, recorded %d", ErrFileChanged, size, c.size))
	}
	c.size = size
	return size, nil
}

// Decode reads the whole file into buf.
func (c *FileCodec) Decode(buf []byte) error {
	f, err := c.fsys.OpenFile(c.path, os.O_RDONLY, 0)
	if err != nil {
		return NewBackingStoreError("decode", c.path, err)
	}
	defer f.Close()

	if _, err := io.ReadFull(f, buf); err != nil {
		return NewBackingStoreError("decode", c.path, err)
	}
	return nil
}

// Encode rewrites the whole file from buf.
func (c *FileCodec) Encode(buf []byte) error {
	if err := atomicWrite(c.fsys, c.path, func(f absfs.File) error {
		_, err := f.Write(buf)
		return err
	}); err != nil {
		return NewBackingStoreError("encode", c.path, err)
	}
	return nil
}

// atomicWrite writes through fn into a uniquely named temporary file next
// to path, then renames it over path. A failed write never leaves a
// truncated backing file behind.
func atomicWrite(fsys absfs.FileSystem, path string, fn func(absfs.File) error) error {
	tmp := path + "." + uuid.NewString() + ".tmp"

	f, err := fsys.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	if err := fn(f); err != nil {
		f.Close()
		fsys.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		fsys.Remove(tmp)
		return err
	}

	if err := fsys.Rename(tmp, path); err != nil {
		fsys.Remove(tmp)
		return err
	}
	return nil
}
