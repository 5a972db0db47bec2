package cluster

import (
	"sort"
	"sync"
	"time"

	"github.com/baxromumarov/2pc-kvstore/pkg/node"
	"github.com/baxromumarov/2pc-kvstore/pkg/protocol"
)

// Cluster is the coordinator's view of the participant roster
type Cluster struct {
	mu    sync.RWMutex
	nodes map[int]*node.Node // participant id -> node
}

// NewCluster creates an empty roster
func NewCluster() *Cluster {
	return &Cluster{
		nodes: make(map[int]*node.Node),
	}
}

// AddNode adds a node to the roster, replacing any node with the same id
func (c *Cluster) AddNode(n *node.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[n.ID] = n
}

// RemoveNode removes a node from the roster
func (c *Cluster) RemoveNode(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.nodes, id)
}

// GetNode returns a node by id
func (c *Cluster) GetNode(id int) *node.Node {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.nodes[id]
}

// GetNodes returns all nodes ordered by id
func (c *Cluster) GetNodes() []*node.Node {
	c.mu.RLock()
	defer c.mu.RUnlock()

	nodes := make([]*node.Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		nodes = append(nodes, n)
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// GetAliveNodes returns all alive nodes ordered by id
func (c *Cluster) GetAliveNodes() []*node.Node {
	all := c.GetNodes()

	nodes := make([]*node.Node, 0, len(all))
	for _, n := range all {
		if n.GetAlive() {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// IDs returns all participant ids, sorted
func (c *Cluster) IDs() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]int, 0, len(c.nodes))
	for id := range c.nodes {
		ids = append(ids, id)
	}

	sort.Ints(ids)
	return ids
}

// Size returns the number of nodes in the roster
func (c *Cluster) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.nodes)
}

// Status snapshots the roster for the status endpoint
func (c *Cluster) Status() *protocol.ClusterStatusResponse {
	nodes := c.GetNodes()

	members := make([]protocol.MemberStatus, 0, len(nodes))
	for _, n := range nodes {
		members = append(members, n.Status())
	}

	return &protocol.ClusterStatusResponse{
		Members:   members,
		Generated: time.Now(),
	}
}
