package ingest

import (
	"os"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/ionology/docqa/internal/domain"
)

// MemoryGuard refuses embedding work when the process RSS crosses a ceiling,
// so one oversized document cannot take the service down.
type MemoryGuard struct {
	ceilingBytes uint64
	proc         *process.Process
}

func NewMemoryGuard(ceilingMB int) *MemoryGuard {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		proc = nil
	}
	return &MemoryGuard{
		ceilingBytes: uint64(ceilingMB) * 1024 * 1024,
		proc:         proc,
	}
}

// Check returns ErrMemoryCeiling when RSS exceeds the ceiling. When process
// stats are unavailable the guard stays open.
func (g *MemoryGuard) Check() error {
	if g.proc == nil || g.ceilingBytes == 0 {
		return nil
	}
	info, err := g.proc.MemoryInfo()
	if err != nil {
		return nil
	}
	if info.RSS > g.ceilingBytes {
		return domain.ErrMemoryCeiling
	}
	return nil
}
