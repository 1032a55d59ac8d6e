package tipc

import (
	"sync"

	"golang.org/x/sys/unix"
)

var (
	ownNodeOnce  sync.Once
	ownNodeValue uint32
)

// OwnNode returns this process's node identifier, the only module-level
// shared state (spec.md §5, §9). It is obtained once, by creating a
// throwaway SOCK_RDM socket and reading its local address, and is never
// re-queried; if the probe socket cannot be created (no TIPC kernel
// support), OwnNode returns 0, matching the Rust original's
// unwrap_or(0) fallback in original_source/src/addr.rs.
func OwnNode() uint32 {
	ownNodeOnce.Do(func() {
		sock, err := newSocket(unix.SOCK_RDM)
		if err != nil {
			return
		}
		defer sock.Close()

		addr, err := sock.LocalAddr()
		if err != nil {
			return
		}
		ownNodeValue = addr.Node
	})
	return ownNodeValue
}

// Own returns the Scope representing this process's own node.
func Own() Scope {
	return NodeScope(OwnNode())
}
