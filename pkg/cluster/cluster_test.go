package cluster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/baxromumarov/2pc-kvstore/pkg/node"
	"github.com/baxromumarov/2pc-kvstore/pkg/protocol"
)

func TestClusterAddRemoveNode(t *testing.T) {
	c := NewCluster()

	c.AddNode(node.NewNode(1, "localhost:8081"))
	c.AddNode(node.NewNode(2, "localhost:8082"))

	if c.Size() != 2 {
		t.Errorf("Expected 2 nodes, got %d", c.Size())
	}

	c.RemoveNode(1)
	if c.Size() != 1 {
		t.Errorf("Expected 1 node after removal, got %d", c.Size())
	}

	if c.GetNode(2) == nil {
		t.Error("Expected node 2 to still exist")
	}
	if c.GetNode(1) != nil {
		t.Error("Expected node 1 to be gone")
	}
}

func TestClusterAddNodeReplacesSameID(t *testing.T) {
	c := NewCluster()

	c.AddNode(node.NewNode(1, "localhost:8081"))
	c.AddNode(node.NewNode(1, "localhost:9091"))

	if c.Size() != 1 {
		t.Fatalf("Expected 1 node, got %d", c.Size())
	}
	if got := c.GetNode(1).Addr; got != "localhost:9091" {
		t.Errorf("Expected replaced address, got %s", got)
	}
}

func TestClusterOrdering(t *testing.T) {
	c := NewCluster()

	for _, id := range []int{3, 1, 5, 2} {
		c.AddNode(node.NewNode(id, "localhost:0"))
	}

	ids := c.IDs()
	want := []int{1, 2, 3, 5}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, ids)
		}
	}

	nodes := c.GetNodes()
	for i := range want {
		if nodes[i].ID != want[i] {
			t.Fatalf("Expected nodes ordered by id, got %d at %d", nodes[i].ID, i)
		}
	}
}

func TestClusterGetAliveNodes(t *testing.T) {
	c := NewCluster()

	n1 := node.NewNode(1, "localhost:8081")
	n2 := node.NewNode(2, "localhost:8082")
	n3 := node.NewNode(3, "localhost:8083")

	n1.SetAlive(true)
	n2.SetAlive(false)
	n3.SetAlive(true)

	c.AddNode(n1)
	c.AddNode(n2)
	c.AddNode(n3)

	alive := c.GetAliveNodes()
	if len(alive) != 2 {
		t.Errorf("Expected 2 alive nodes, got %d", len(alive))
	}

	status := c.Status()
	if len(status.Members) != 3 {
		t.Fatalf("Expected 3 members, got %d", len(status.Members))
	}
	if status.Members[1].Alive {
		t.Error("Expected member 2 to be reported dead")
	}
}

// fakeChecker answers health checks from a static table
type fakeChecker struct {
	mu   sync.Mutex
	down map[string]bool
	ids  map[string]int
}

func (f *fakeChecker) HealthCheck(_ context.Context, addr string) (*protocol.HealthResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.down[addr] {
		return nil, errors.New("connection refused")
	}
	return &protocol.HealthResponse{Status: "OK", Address: addr, Role: protocol.RoleParticipant, ID: f.ids[addr]}, nil
}

func (f *fakeChecker) setDown(addr string, down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down[addr] = down
}

func TestHeartbeatMarksNodes(t *testing.T) {
	c := NewCluster()
	c.AddNode(node.NewNode(1, "a:1"))
	c.AddNode(node.NewNode(2, "b:2"))

	checker := &fakeChecker{
		down: map[string]bool{"b:2": true},
		ids:  map[string]int{"a:1": 1, "b:2": 2},
	}
	hb := NewHeartbeatManager(c, checker, time.Hour, nil)

	hb.CheckAll()

	if !c.GetNode(1).GetAlive() {
		t.Error("Expected node 1 alive")
	}
	if c.GetNode(2).GetAlive() {
		t.Error("Expected node 2 dead")
	}
	if c.GetNode(1).LastSeen().IsZero() {
		t.Error("Expected LastSeen for node 1")
	}

	checker.setDown("b:2", false)
	if !hb.CheckNode(2) {
		t.Error("Expected node 2 to recover")
	}

	if hb.CheckNode(42) {
		t.Error("Expected unknown node to report false")
	}
}

func TestHeartbeatStartStop(t *testing.T) {
	c := NewCluster()
	c.AddNode(node.NewNode(1, "a:1"))

	checker := &fakeChecker{down: map[string]bool{"a:1": true}, ids: map[string]int{}}
	hb := NewHeartbeatManager(c, checker, 10*time.Millisecond, nil)

	hb.Start()
	deadline := time.Now().Add(time.Second)
	for c.GetNode(1).GetAlive() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hb.Stop()

	if c.GetNode(1).GetAlive() {
		t.Error("Expected heartbeat loop to mark node 1 dead")
	}
}
