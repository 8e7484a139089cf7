package port

import (
	"fmt"
	"sync"

	"orchestra/internal/constants"
	"orchestra/internal/errors"
)

// Stats describes range utilization
type Stats struct {
	Allocated int `json:"allocated"`
	Available int `json:"available"`
	Total     int `json:"total"`
	Min       int `json:"min"`
	Max       int `json:"max"`
}

// Allocator owns the bookkeeping of ports handed out to worktrees.
// Allocate and Release are serialized, so two callers never receive the same port.
type Allocator struct {
	mu        sync.Mutex
	min, max  int
	allocated map[int]struct{}
	prober    Prober
}

// NewAllocator creates an allocator over [min, max]. A nil prober uses a Scanner.
func NewAllocator(min, max int, prober Prober) (*Allocator, error) {
	if min < constants.MinPortNumber || max > constants.MaxPortNumber || min > max {
		return nil, errors.NewWithDetails(errors.ErrInvalidPort, "Invalid port range",
			fmt.Sprintf("%d-%d", min, max))
	}
	if prober == nil {
		prober = NewScanner()
	}
	return &Allocator{
		min:       min,
		max:       max,
		allocated: make(map[int]struct{}),
		prober:    prober,
	}, nil
}

// Allocate returns the lowest port that is neither handed out nor bound on the host.
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for p := a.min; p <= a.max; p++ {
		if _, taken := a.allocated[p]; taken {
			continue
		}
		if !a.prober.IsPortAvailable(p) {
			continue
		}
		a.allocated[p] = struct{}{}
		return p, nil
	}
	return 0, errors.PortsExhausted(a.min, a.max)
}

// Release returns a port to the pool. Releasing a free or out-of-range port is a no-op.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.allocated, port)
}

// Reserve marks a port as handed out without probing it. Used to rebuild
// bookkeeping from persisted worktrees at startup.
func (a *Allocator) Reserve(port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.inRange(port) {
		return errors.NewWithDetails(errors.ErrInvalidPort, "Port outside allocation range",
			fmt.Sprintf("Port: %d, Range: %d-%d", port, a.min, a.max))
	}
	if _, taken := a.allocated[port]; taken {
		return errors.NewWithDetails(errors.ErrInvalidPort, "Port already allocated", fmt.Sprintf("Port: %d", port))
	}
	a.allocated[port] = struct{}{}
	return nil
}

// IsAvailable reports whether port could be allocated right now
func (a *Allocator) IsAvailable(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.inRange(port) {
		return false
	}
	if _, taken := a.allocated[port]; taken {
		return false
	}
	return a.prober.IsPortAvailable(port)
}

// IsAllocated reports whether the allocator has handed out port
func (a *Allocator) IsAllocated(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, taken := a.allocated[port]
	return taken
}

// IsBound reports whether something on the host holds the port, regardless of bookkeeping.
func (a *Allocator) IsBound(port int) bool {
	return !a.prober.IsPortAvailable(port)
}

// Stats returns utilization of the range. Available counts ports free in bookkeeping.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := a.max - a.min + 1
	return Stats{
		Allocated: len(a.allocated),
		Available: total - len(a.allocated),
		Total:     total,
		Min:       a.min,
		Max:       a.max,
	}
}

func (a *Allocator) inRange(port int) bool {
	return port >= a.min && port <= a.max
}
