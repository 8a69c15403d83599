package stegfs

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/absfs/absfs"
)

// ParallelConfig controls parallel region construction. Probing hundreds
// of cover images to discover their dimensions is CPU-bound and
// independent per file, so the aggregate fans it out across workers.
type ParallelConfig struct {
	// Enabled enables parallel region construction
	Enabled bool

	// MaxWorkers is the maximum number of worker goroutines
	// If 0, defaults to runtime.NumCPU()
	MaxWorkers int

	// MinRegionsForParallel is the minimum number of cover files to use
	// parallel construction. Below this threshold, sequential
	// construction is used. Defaults to 4.
	MinRegionsForParallel int
}

// Validate checks if the parallel configuration is valid
func (p *ParallelConfig) Validate() error {
	if !p.Enabled {
		return nil // Nothing to validate if disabled
	}

	if p.MaxWorkers < 0 {
		return errors.New("parallel max workers cannot be negative")
	}
	if p.MaxWorkers > 1024 {
		return errors.New("parallel max workers must not exceed 1024")
	}
	if p.MinRegionsForParallel < 1 {
		return errors.New("parallel min regions threshold must be at least 1")
	}

	return nil
}

// DefaultParallelConfig returns the default parallel construction
// configuration
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{
		Enabled:               true,
		MaxWorkers:            runtime.NumCPU(),
		MinRegionsForParallel: 4,
	}
}

// buildRegions constructs one region per path, preserving the order of
// paths in the result regardless of which worker finished first.
func buildRegions(fsys absfs.FileSystem, paths []string, open RegionOpener, config ParallelConfig) ([]*Region, error) {
	regions := make([]*Region, len(paths))

	// Determine number of workers
	numWorkers := config.MaxWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > len(paths) {
		numWorkers = len(paths)
	}

	// Check if parallel construction is worth it
	if !config.Enabled || len(paths) < config.MinRegionsForParallel {
		for i, p := range paths {
			region, err := open(fsys, p)
			if err != nil {
				return nil, err
			}
			regions[i] = region
		}
		return regions, nil
	}

	var wg sync.WaitGroup
	jobChan := make(chan int, len(paths))
	errChan := make(chan error, numWorkers)

	// Start workers
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					// Convert panic to error
					err := fmt.Errorf("panic in region construction worker: %v", r)
					select {
					case errChan <- err:
					default:
					}
				}
			}()
			for idx := range jobChan {
				region, err := open(fsys, paths[idx])
				if err != nil {
					select {
					case errChan <- err:
					default:
					}
					return
				}
				regions[idx] = region
			}
		}()
	}

	// Send jobs
	for i := range paths {
		jobChan <- i
	}
	close(jobChan)

	// Wait for completion
	wg.Wait()
	close(errChan)

	// Check for errors
	select {
	case err := <-errChan:
		return nil, err
	default:
		return regions, nil
	}
}
