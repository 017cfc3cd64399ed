package perf

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// MemorySampler reports the memory currently used by the consumer process.
type MemorySampler interface {
	Sample() (uint64, error)
}

// MemorySamplerFunc adapts a function to MemorySampler.
type MemorySamplerFunc func() (uint64, error)

func (f MemorySamplerFunc) Sample() (uint64, error) { return f() }

// ProcessMemorySampler reads the resident set size of the current process.
type ProcessMemorySampler struct {
	proc *process.Process
}

func NewProcessMemorySampler() (*ProcessMemorySampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open current process: %w", err)
	}
	return &ProcessMemorySampler{proc: proc}, nil
}

func (s *ProcessMemorySampler) Sample() (uint64, error) {
	info, err := s.proc.MemoryInfo()
	if err != nil {
		return 0, fmt.Errorf("read memory info: %w", err)
	}
	return info.RSS, nil
}
