package stegfs

import (
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"sync"

	"github.com/absfs/absfs"
)

// RegionOpener builds the region for one cover file. It is how an
// Aggregate's codec is selected: the default opener builds image-backed
// regions, and tests (or anyone who wants a plain split-file store) can
// substitute NewFileRegion.
type RegionOpener func(fsys absfs.FileSystem, path string) (*Region, error)

// Config configures aggregate construction.
type Config struct {
	// OpenRegion builds the region for each enumerated cover file.
	// Defaults to NewImageRegion.
	OpenRegion RegionOpener

	// Parallel controls the region-construction fan-out.
	Parallel ParallelConfig
}

// DefaultConfig returns the default aggregate configuration
func DefaultConfig() *Config {
	return &Config{
		OpenRegion: NewImageRegion,
		Parallel:   DefaultParallelConfig(),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c == nil {
		return nil // nil selects the defaults
	}
	return c.Parallel.Validate()
}

// Aggregate stitches an ordered sequence of regions into one contiguous
// logical byte space and disperses every logical byte to a pseudo-random
// physical byte through a seeded permutation. To the caller it looks like
// a single fixed-size file; underneath, adjacent logical bytes land in
// unrelated cover files at unrelated offsets.
//
// The region sequence is the lexicographically sorted recursive listing of
// the target directory, so the same directory contents and seed reproduce
// the same virtual file on every mount. Nothing else is persisted.
//
// All operations that touch region state are serialized by one mutex. The
// per-byte work is a permutation lookup plus a one-byte memory copy, so a
// coarse lock is not the bottleneck; the two genuinely parallel phases,
// construction and flush, fan out below it.
type Aggregate struct {
	mu       sync.Mutex
	fsys     absfs.FileSystem
	dir      string
	regions  []*Region
	cum      []int64 // cum[i] = total capacity of regions[0..i]
	capacity int64
	perm     *Permutation
}

// NewAggregate enumerates the regular files under dir, builds a region for
// each, and derives the dispersion permutation from seed. A directory with
// no regular files is an error; a file that is not a usable cover image is
// an error (the default opener accepts PNG, BMP and TGA only).
func NewAggregate(fsys absfs.FileSystem, dir string, seed []byte, config *Config) (*Aggregate, error) {
	if fsys == nil {
		return nil, &ArgumentError{Field: "fsys", Message: "filesystem cannot be nil", Err: ErrNilFileSystem}
	}
	if err := ValidateSeed(seed); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config == nil {
		config = DefaultConfig()
	}
	open := config.OpenRegion
	if open == nil {
		open = NewImageRegion
	}

	paths, err := listRegularFiles(fsys, dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, NewBackingStoreError("enumerate", dir, ErrNoRegularFiles)
	}

	regions, err := buildRegions(fsys, paths, open, config.Parallel)
	if err != nil {
		return nil, err
	}

	a := &Aggregate{fsys: fsys, dir: dir}
	for _, region := range regions {
		// An image too small to hide a single byte contributes nothing
		// to the address space; keeping it would stall the cumulative
		// capacity table.
		if region.Capacity() == 0 {
			continue
		}
		a.regions = append(a.regions, region)
		a.capacity += region.Capacity()
		a.cum = append(a.cum, a.capacity)
	}
	if a.capacity == 0 {
		return nil, NewBackingStoreError("enumerate", dir,
			fmt.Errorf("cover files hold no capacity"))
	}

	a.perm = NewPermutation(a.capacity, seed)
	return a, nil
}

// Capacity returns the total logical byte capacity across all regions.
func (a *Aggregate) Capacity() int64 {
	return a.capacity
}

// Dir returns the target directory the aggregate was built from.
func (a *Aggregate) Dir() string {
	return a.dir
}

// Regions returns the number of cover files backing the aggregate.
func (a *Aggregate) Regions() int {
	return len(a.regions)
}

// WriteAt disperses bytes from p into the cover regions, one logical byte
// at a time through the permutation, starting at logical offset off. Like
// Region.WriteAt it is pwrite-shaped: writes past the end are truncated
// and the written count returned. A mid-write failure returns the bytes
// transferred before it; the caller may retry the rest.
func (a *Aggregate) WriteAt(p []byte, off int64) (int, error) {
	if err := ValidateBuffer(p, "p"); err != nil {
		return 0, err
	}
	if err := ValidateOffset(off, a.capacity, "off"); err != nil {
		return 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(p)
	if int64(n) > a.capacity-off {
		n = int(a.capacity - off)
	}

	physical := a.perm.Range(off, int64(n))
	for i := 0; i < n; i++ {
		region, within, err := a.locate(physical[i])
		if err != nil {
			return i, err
		}
		if _, err := region.WriteAt(p[i:i+1], within); err != nil {
			return i, err
		}
	}
	return n, nil
}

// ReadAt reassembles bytes into p from the cover regions, symmetric to
// WriteAt.
func (a *Aggregate) ReadAt(p []byte, off int64) (int, error) {
	if err := ValidateBuffer(p, "p"); err != nil {
		return 0, err
	}
	if err := ValidateOffset(off, a.capacity, "off"); err != nil {
		return 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(p)
	if int64(n) > a.capacity-off {
		n = int(a.capacity - off)
	}

	physical := a.perm.Range(off, int64(n))
	for i := 0; i < n; i++ {
		region, within, err := a.locate(physical[i])
		if err != nil {
			return i, err
		}
		if _, err := region.ReadAt(p[i:i+1], within); err != nil {
			return i, err
		}
	}
	return n, nil
}

// Sync flushes every dirty region, one goroutine per region: each flush
// touches only its own buffer and backing file, so there is no contention
// to manage. Every region gets an attempt even if some fail; the first
// error is returned and the failed regions stay dirty for a retry.
func (a *Aggregate) Sync() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	errs := make([]error, len(a.regions))

	var wg sync.WaitGroup
	for i, region := range a.regions {
		wg.Add(1)
		go func(i int, region *Region) {
			defer wg.Done()
			errs[i] = region.Sync()
		}(i, region)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Synced reports whether every region's backing store holds its current
// contents.
func (a *Aggregate) Synced() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, region := range a.regions {
		if !region.Synced() {
			return false
		}
	}
	return true
}

// Close scrubs and releases every region's buffer. It does not sync;
// unsynced writes are lost, which is the explicit-sync contract.
func (a *Aggregate) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, region := range a.regions {
		region.Close()
	}
	return nil
}

// locate resolves a physical byte index to its owning region and the
// offset within that region, by binary search over the cumulative
// capacity table.
func (a *Aggregate) locate(physical int64) (*Region, int64, error) {
	i := sort.Search(len(a.cum), func(i int) bool { return a.cum[i] > physical })
	if i == len(a.cum) {
		// The permutation maps [0, capacity) onto itself, so an index
		// past every region means internal state is corrupt.
		return nil, 0, NewArgumentError("physical", physical,
			fmt.Sprintf("physical index %d must be less than capacity %d", physical, a.capacity))
	}
	within := physical
	if i > 0 {
		within -= a.cum[i-1]
	}
	return a.regions[i], within, nil
}

// listRegularFiles walks dir recursively and returns the paths of every
// regular file beneath it, sorted lexicographically so the result is a
// pure function of the directory contents.
func listRegularFiles(fsys absfs.FileSystem, dir string) ([]string, error) {
	var result []string

	queue := []string{dir}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		d, err := fsys.Open(current)
		if err != nil {
			return nil, NewBackingStoreError("enumerate", current, err)
		}
		infos, err := d.Readdir(-1)
		d.Close()
		if err != nil {
			return nil, NewBackingStoreError("enumerate", current, err)
		}

		for _, info := range infos {
			name := info.Name()
			if name == "." || name == ".." {
				continue
			}
			child := path.Join(current, name)
			switch {
			case info.IsDir():
				queue = append(queue, child)
			case info.Mode().IsRegular():
				result = append(result, child)
			}
		}
	}

	sort.Strings(result)
	return result, nil
}

// ReadSeed reads a seed file's entire contents. The bytes are the seed:
// no line splitting, no whitespace trimming, so a trailing newline is part
// of the seed.
func ReadSeed(fsys absfs.FileSystem, name string) ([]byte, error) {
	f, err := fsys.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, NewBackingStoreError("read", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, NewBackingStoreError("read", name, err)
	}
	seed := make([]byte, info.Size())
	if _, err := io.ReadFull(f, seed); err != nil {
		return nil, NewBackingStoreError("read", name, err)
	}
	return seed, nil
}
