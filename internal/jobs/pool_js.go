//go:build js || wasip1

package jobs

// MaxPlatformWorkers caps the pool size chosen by PlatformWorkers.
const MaxPlatformWorkers = 0

// PlatformWorkers returns 0: the runtime has no parallel threads, so the
// handler runs in cooperative mode.
func PlatformWorkers() int {
	return 0
}
