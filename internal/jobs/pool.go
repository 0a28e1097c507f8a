//go:build !js && !wasip1

package jobs

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
)

// MaxPlatformWorkers caps the pool size chosen by PlatformWorkers.
const MaxPlatformWorkers = 8

// PlatformWorkers returns the worker pool size for this platform: the
// number of logical cores minus one for the driving thread, clamped to
// [1, MaxPlatformWorkers].
func PlatformWorkers() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		n = runtime.NumCPU()
	}
	return clampWorkers(n - 1)
}

func clampWorkers(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxPlatformWorkers {
		return MaxPlatformWorkers
	}
	return n
}
