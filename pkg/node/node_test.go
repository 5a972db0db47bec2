package node

import (
	"sync"
	"testing"
	"time"
)

func TestNewNode(t *testing.T) {
	n := NewNode(2, "localhost:8082")

	if n.ID != 2 {
		t.Errorf("Expected id 2, got %d", n.ID)
	}

	if n.Addr != "localhost:8082" {
		t.Errorf("Expected addr localhost:8082, got %s", n.Addr)
	}

	if !n.GetAlive() {
		t.Error("Expected node to be alive initially")
	}

	if !n.LastSeen().IsZero() {
		t.Error("Expected LastSeen to be unset before the first heartbeat")
	}
}

func TestNodeSetAlive(t *testing.T) {
	n := NewNode(1, "localhost:8081")

	n.SetAlive(false)
	n.SetAlive(false)
	if n.GetAlive() {
		t.Error("Expected node to be dead")
	}
	if n.Failures() != 2 {
		t.Errorf("Expected 2 failures, got %d", n.Failures())
	}

	before := time.Now()
	n.SetAlive(true)
	if !n.GetAlive() {
		t.Error("Expected node to be alive")
	}
	if n.Failures() != 0 {
		t.Errorf("Expected failure streak to reset, got %d", n.Failures())
	}
	if n.LastSeen().Before(before) {
		t.Error("Expected LastSeen to be refreshed")
	}
}

func TestNodeStatus(t *testing.T) {
	n := NewNode(3, "localhost:8083")
	n.SetAlive(true)

	s := n.Status()
	if s.ID != 3 || s.Address != "localhost:8083" || !s.Alive {
		t.Errorf("Unexpected status %+v", s)
	}
	if s.LastSeen.IsZero() {
		t.Error("Expected LastSeen in status")
	}
}

func TestNodeConcurrentAccess(t *testing.T) {
	n := NewNode(1, "localhost:8081")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(alive bool) {
			defer wg.Done()
			n.SetAlive(alive)
		}(i%2 == 0)
		go func() {
			defer wg.Done()
			_ = n.Status()
		}()
	}
	wg.Wait()
}
