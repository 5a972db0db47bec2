package node

import (
	"sync"
	"time"

	"github.com/baxromumarov/2pc-kvstore/pkg/protocol"
)

// Node is a participant as the coordinator sees it: a stable id, the address
// it is reached at and the liveness last observed by the heartbeat.
type Node struct {
	ID   int    // participant id, unique in the roster
	Addr string // address of the participant (e.g., "localhost:8081")

	mu       sync.RWMutex
	isAlive  bool
	lastSeen time.Time
	failures int
}

// NewNode creates a roster member. It is considered alive until a heartbeat
// says otherwise.
func NewNode(id int, addr string) *Node {
	return &Node{
		ID:      id,
		Addr:    addr,
		isAlive: true,
	}
}

// SetAlive updates the node's alive status. A live observation also refreshes
// LastSeen and resets the failure streak.
func (n *Node) SetAlive(alive bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.isAlive = alive
	if alive {
		n.lastSeen = time.Now()
		n.failures = 0
		return
	}
	n.failures++
}

// GetAlive returns the node's alive status
func (n *Node) GetAlive() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.isAlive
}

// LastSeen returns the time of the last successful health check
func (n *Node) LastSeen() time.Time {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastSeen
}

// Failures returns the number of consecutive failed health checks
func (n *Node) Failures() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.failures
}

// Status renders the node for the coordinator's status endpoint
func (n *Node) Status() protocol.MemberStatus {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return protocol.MemberStatus{
		ID:       n.ID,
		Address:  n.Addr,
		Alive:    n.isAlive,
		LastSeen: n.lastSeen,
	}
}
