package relay

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// MemoryPin is an in-process pin used when no hardware line is configured
// and in tests. It records every level written.
type MemoryPin struct {
	mu     sync.Mutex
	level  bool
	writes []bool
}

// Set records the level.
func (p *MemoryPin) Set(active bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = active
	p.writes = append(p.writes, active)
	return nil
}

// Level returns the last written level.
func (p *MemoryPin) Level() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// Writes returns a copy of all levels written so far.
func (p *MemoryPin) Writes() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]bool, len(p.writes))
	copy(out, p.writes)
	return out
}

// SysfsPin writes "1"/"0" to a GPIO value file (e.g. /sys/class/gpio/gpio25/value).
type SysfsPin struct {
	path string
}

// NewSysfsPin validates the value file path.
func NewSysfsPin(path string) (*SysfsPin, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("relay: gpio path is empty")
	}
	return &SysfsPin{path: path}, nil
}

// Set writes the level to the value file.
func (p *SysfsPin) Set(active bool) error {
	v := []byte("0")
	if active {
		v = []byte("1")
	}
	return os.WriteFile(p.path, v, 0o644)
}
