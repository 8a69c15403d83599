// Package fuse exposes a stegfs Aggregate to the host operating system as
// a FUSE filesystem containing a single regular file named "data". Reads
// and writes on that file become Aggregate reads and writes; fsync becomes
// an Aggregate flush. The file's size is the aggregate capacity and never
// changes while mounted.
//
// Errors coming out of the aggregate are logged with the operation that
// raised them and collapsed to EIO at the kernel boundary; the kernel only
// understands integer error codes, and none of the distinguished error
// kinds map onto anything better.
package fuse

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/absfs/stegfs"
	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// DataFileName is the name of the one regular file at the mount root.
const DataFileName = "data"

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	Mountpoint string

	// Aggregate is the virtual file being exposed.
	Aggregate *stegfs.Aggregate

	// AllowOther permits other users (including root) to access the
	// mount. Requires user_allow_other in /etc/fuse.conf. Needed when the
	// data file is attached to a loop device by root.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, an error-level stderr
	// logger is used.
	Logger *slog.Logger
}

// Mount mounts the filesystem at the configured mountpoint. The caller
// must call Unmount on the returned Server when done, and remains
// responsible for syncing the aggregate afterwards: unmounting does not
// flush.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Aggregate == nil {
		return nil, fmt.Errorf("aggregate is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	root := &rootNode{options: &options}

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "stegfs",
			Name:       "stegfs",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("stegfs mounted",
		"mountpoint", options.Mountpoint,
		"capacity", options.Aggregate.Capacity(),
		"covers", options.Aggregate.Regions(),
	)
	return server, nil
}

// rootNode is the filesystem root: a directory holding exactly the data
// file. Lookup and readdir for the child are served by the inode tree.
type rootNode struct {
	gofuse.Inode
	options *Options
}

var _ gofuse.InodeEmbedder = (*rootNode)(nil)
var _ gofuse.NodeOnAdder = (*rootNode)(nil)
var _ gofuse.NodeGetattrer = (*rootNode)(nil)

func (r *rootNode) OnAdd(ctx context.Context) {
	child := r.NewPersistentInode(ctx, &dataNode{options: r.options},
		gofuse.StableAttr{Mode: syscall.S_IFREG})
	r.AddChild(DataFileName, child, true)
}

func (r *rootNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFDIR | 0o755
	return 0
}

// dataNode is the data file. All content operations delegate to the
// aggregate, which serializes them internally.
type dataNode struct {
	gofuse.Inode
	options *Options
}

var _ gofuse.InodeEmbedder = (*dataNode)(nil)
var _ gofuse.NodeGetattrer = (*dataNode)(nil)
var _ gofuse.NodeOpener = (*dataNode)(nil)
var _ gofuse.NodeReader = (*dataNode)(nil)
var _ gofuse.NodeWriter = (*dataNode)(nil)
var _ gofuse.NodeFsyncer = (*dataNode)(nil)

func (d *dataNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFREG | 0o755
	out.Size = uint64(d.options.Aggregate.Capacity())
	out.Blocks = (out.Size + 511) / 512
	return 0
}

func (d *dataNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	// The aggregate is the only writer of the cover files, so the kernel
	// page cache never goes stale.
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (d *dataNode) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := d.options.Aggregate.ReadAt(dest, off)
	if err != nil {
		d.options.Logger.Error("read failed", "offset", off, "size", len(dest), "error", err)
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (d *dataNode) Write(ctx context.Context, f gofuse.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := d.options.Aggregate.WriteAt(data, off)
	if err != nil {
		d.options.Logger.Error("write failed", "offset", off, "size", len(data), "error", err)
		return 0, syscall.EIO
	}
	return uint32(n), 0
}

func (d *dataNode) Fsync(ctx context.Context, f gofuse.FileHandle, flags uint32) syscall.Errno {
	start := time.Now()
	if err := d.options.Aggregate.Sync(); err != nil {
		d.options.Logger.Error("sync failed", "error", err)
		return syscall.EIO
	}
	d.options.Logger.Info("synced", "elapsed", time.Since(start))
	return 0
}
