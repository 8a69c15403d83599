// Command stegfs mounts a directory of cover images as a FUSE filesystem
// exposing one regular file, "data". Bytes written to that file are
// dispersed into the least significant bits of the images' pixel samples;
// bytes read back are reconstructed from them. The usual deployment is to
// attach the data file to a loop device and put an encrypted volume on it.
//
// Usage:
//
//	stegfs [flags] <seed-file> <target-directory> <mount-point>
//
// The seed file's entire byte contents are the seed. Mounting the same
// directory with the same seed always yields the same virtual file.
//
// Modifying, adding, renaming or removing files under the target directory
// while mounted ruins the virtual file. Don't.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/absfs/osfs"
	"github.com/absfs/stegfs"
	stegfuse "github.com/absfs/stegfs/fuse"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		allowOther bool
		verbose    bool
	)
	flag.BoolVar(&allowOther, "allow-other", false, "permit other users to access the mount (requires user_allow_other in /etc/fuse.conf)")
	flag.BoolVar(&verbose, "verbose", false, "log every filesystem operation failure and timing detail")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <seed-file> <target-directory> <mount-point>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 3 {
		flag.Usage()
		return fmt.Errorf("expected 3 arguments, got %d", flag.NArg())
	}
	seedPath := flag.Arg(0)
	targetDir := flag.Arg(1)
	mountpoint := flag.Arg(2)

	level := slog.LevelError
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	// Resolve the target directory to an absolute path; relative paths
	// stop resolving once the FUSE loop changes the effective working
	// context. If resolution fails, construction will report the real
	// problem with the path as given.
	if abs, err := filepath.Abs(targetDir); err == nil {
		targetDir = abs
	}

	fsys, err := osfs.NewFS()
	if err != nil {
		return fmt.Errorf("opening host filesystem: %w", err)
	}

	seed, err := stegfs.ReadSeed(fsys, seedPath)
	if err != nil {
		return fmt.Errorf("reading seed file: %w", err)
	}

	start := time.Now()
	agg, err := stegfs.NewAggregate(fsys, targetDir, seed, nil)
	if err != nil {
		return fmt.Errorf("building aggregate from %s: %w", targetDir, err)
	}
	defer agg.Close()
	logger.Info("aggregate ready",
		"covers", agg.Regions(),
		"capacity", agg.Capacity(),
		"elapsed", time.Since(start),
	)

	server, err := stegfuse.Mount(stegfuse.Options{
		Mountpoint: mountpoint,
		Aggregate:  agg,
		AllowOther: allowOther,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	// Unmount on SIGINT/SIGTERM; Wait returns once the kernel lets go.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		logger.Info("unmounting", "signal", sig)
		if err := server.Unmount(); err != nil {
			logger.Error("unmount failed; retry manually with fusermount -u", "error", err)
		}
	}()

	server.Wait()

	start = time.Now()
	if err := agg.Sync(); err != nil {
		return fmt.Errorf("flushing cover images (covers left dirty, data NOT fully saved): %w", err)
	}
	logger.Info("cover images flushed", "elapsed", time.Since(start))
	return nil
}
