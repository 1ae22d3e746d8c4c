package scan

import (
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/cryptoscan/internal/cserrors"
	"github.com/standardbeagle/cryptoscan/internal/dispatch"
	"github.com/standardbeagle/cryptoscan/internal/logging"
	"github.com/standardbeagle/cryptoscan/internal/patterns"
	"github.com/standardbeagle/cryptoscan/internal/types"
)

// workerCount sizes the pool per §5: twice the detected CPU count, clamped
// to [2, 32]. A filesystem-wide sweep is I/O bound more than CPU bound, so
// oversubscribing past the core count still pays off, but unboundedly many
// workers would thrash disk and memory on a large tree.
func workerCount() int {
	n := runtime.NumCPU() * 2
	if n > 32 {
		n = 32
	}
	if n < 2 {
		n = 2
	}
	return n
}

// ScanPath runs the full traversal-and-execution pipeline over root: if
// root is a regular file it is scanned directly; otherwise the candidate
// list is enumerated under opt's profile/glob rules and distributed across
// a worker pool. onDetect and onProgress are invoked under a single mutex,
// so each call is fully serialized against the other and against itself —
// callers never observe a partial or interleaved invocation. isCancelled,
// if non-nil, is polled between files and before each worker claims its
// next index; once it reports true, workers stop claiming new work, and
// at most one in-flight file per worker finishes before the pool drains.
func ScanPath(root string, opt types.ScanOptions, reg *patterns.Registry, onDetect types.OnDetect, onProgress types.OnProgress, isCancelled types.IsCancelled) error {
	files, opt, err := enumerate(root, opt)
	if err != nil {
		return cserrors.New(cserrors.KindUnreadable, "enumerate", err).WithPath(root)
	}

	var totalBytes int64
	for _, c := range files {
		totalBytes += c.size
	}
	totalFiles := len(files)

	var (
		filesDone int64
		bytesDone int64
		nextIndex int64
		cbMu      sync.Mutex
	)

	worker := func() error {
		for {
			if isCancelled != nil && isCancelled() {
				return nil
			}
			i := atomic.AddInt64(&nextIndex, 1) - 1
			if i >= int64(totalFiles) {
				return nil
			}
			if isCancelled != nil && isCancelled() {
				return nil
			}

			c := files[i]
			dets := scanOneFile(c.path, reg, opt)

			cbMu.Lock()
			for _, d := range dets {
				if onDetect != nil {
					onDetect(d)
				}
			}
			if onProgress != nil {
				onProgress(c.path, int(atomic.LoadInt64(&filesDone))+1, totalFiles,
					atomic.LoadInt64(&bytesDone)+c.size, totalBytes)
			}
			cbMu.Unlock()

			atomic.AddInt64(&filesDone, 1)
			atomic.AddInt64(&bytesDone, c.size)
		}
	}

	var g errgroup.Group
	for i := 0; i < workerCount(); i++ {
		g.Go(worker)
	}
	return g.Wait()
}

// ScanFile runs the dispatcher over a single file, reading it with opt's
// archive limits applied. It is the non-parallel entry point used when a
// caller already knows the exact file to scan (e.g. a watch-triggered
// rescan of one changed path) and doesn't need the traversal/worker-pool
// machinery above.
func ScanFile(path string, reg *patterns.Registry, opt types.ScanOptions) ([]types.Detection, error) {
	return scanOneFileErr(path, reg, opt)
}

func scanOneFile(path string, reg *patterns.Registry, opt types.ScanOptions) []types.Detection {
	dets, err := scanOneFileErr(path, reg, opt)
	if err != nil {
		logging.Warnf("scan: %v", err)
		return nil
	}
	return dets
}

func scanOneFileErr(path string, reg *patterns.Registry, opt types.ScanOptions) ([]types.Detection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cserrors.New(cserrors.KindUnreadable, "read", err).WithPath(path)
	}
	return dispatch.ScanFile(path, data, reg, opt.ArchiveLimits), nil
}
