// Package port hands out TCP ports from a closed range to worktrees.
//
// A port counts as free only when the allocator has not handed it out and
// the operating system lets us bind it, so ports taken by unrelated
// processes are skipped.
package port

import (
	"fmt"
	"net"
)

// Prober reports whether the host can bind a port right now.
type Prober interface {
	IsPortAvailable(port int) bool
}

// Scanner probes ports by binding them on all interfaces.
type Scanner struct{}

func NewScanner() *Scanner {
	return &Scanner{}
}

// IsPortAvailable tries net.Listen on the port and closes the listener at once.
func (s *Scanner) IsPortAvailable(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(port int) bool

func (f ProberFunc) IsPortAvailable(port int) bool { return f(port) }
