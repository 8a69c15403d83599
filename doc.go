// Package stegfs presents one virtual regular file whose bytes are hidden,
// bit by bit, in the least significant bits of pixel samples across a
// directory of cover images (PNG, BMP, TGA) on an AbsFs filesystem.
//
// # Overview
//
// An Aggregate is built from a directory of cover images and a seed. It
// exposes a fixed-capacity byte space with pread/pwrite-style ReadAt and
// WriteAt, an explicit Sync, and nothing else. Each logical byte is routed
// through a seeded permutation of the whole address space to a
// pseudo-random physical byte, so sequential logical data is scattered
// across many images at unrelated offsets. The same directory contents and
// seed reproduce the same virtual file on every mount; no state is stored
// anywhere except inside the cover images themselves.
//
// The intended deployment is to expose the Aggregate through the fuse
// subpackage, attach the virtual file to a loop device, and layer an
// encrypted volume (e.g. LUKS) over it, so that what lands in the image
// LSBs is ciphertext.
//
// # Architecture
//
//   - Permutation: a seeded bijection on [0, capacity) built by a keyed
//     Fisher-Yates shuffle over a BLAKE2b/ChaCha20 stream.
//   - Region: a fixed-capacity cached byte range over a single backing
//     file. Contents load lazily on first touch, mutate in memory, and hit
//     the disk only on Sync. Buffers are scrubbed before release.
//   - Codec: the capability a Region stores through. ImageCodec hides
//     bytes in cover-image sample LSBs; FileCodec stores them verbatim.
//   - Aggregate: the ordered sequence of regions plus the permutation,
//     composed into one logical byte space.
//
// # Basic Usage
//
//	fs, _ := memfs.NewFS()
//	// ... populate fs with cover images under /covers ...
//
//	agg, err := stegfs.NewAggregate(fs, "/covers", []byte("seed"), nil)
//	if err != nil {
//	    panic(err)
//	}
//	defer agg.Close()
//
//	agg.WriteAt([]byte("hidden"), 0)
//	if err := agg.Sync(); err != nil {
//	    panic(err) // covers unchanged on disk; retry later
//	}
//
// # Caching Model
//
// Nothing is written until Sync. A region's first read or write decodes
// its whole cover image once and keeps only the hidden bytes in memory
// (one byte per eight samples); Sync re-decodes the cover, re-embeds the
// buffer, rewrites the file through a temporary name, and drops the
// buffer. A failed Sync leaves the buffer and dirty flag intact so it can
// be retried. Close never syncs: flushing can fail, and that failure
// belongs to the caller, not a teardown path.
//
// # Integrity Guard
//
// Cover files must not be modified externally while in use. Every load and
// flush re-checks the image's dimensions and channel count against what
// was recorded at construction and fails with a BackingStoreError wrapping
// ErrFileChanged on a mismatch, rather than silently decoding garbage or
// destroying a replaced image.
//
// # Security Considerations
//
// This package hides data; it does not protect it. The LSB embedding is
// naive and detectable by statistical steganalysis, payloads are neither
// encrypted nor authenticated, and buffer scrubbing is process-local
// hygiene, not a defense against swap or memory snapshots. Put an
// encrypted volume on top; that is the deployment the design assumes.
package stegfs
