package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/baxromumarov/2pc-kvstore/pkg/protocol"
	"github.com/hashicorp/go-hclog"
)

// HealthChecker probes a participant's health endpoint
type HealthChecker interface {
	HealthCheck(ctx context.Context, addr string) (*protocol.HealthResponse, error)
}

// HeartbeatManager periodically probes every roster member. Liveness is
// informational only: the commit protocol still contacts every participant.
type HeartbeatManager struct {
	cluster  *Cluster
	client   HealthChecker
	interval time.Duration
	timeout  time.Duration
	logger   hclog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewHeartbeatManager creates a new heartbeat manager
func NewHeartbeatManager(cluster *Cluster, client HealthChecker, interval time.Duration, logger hclog.Logger) *HeartbeatManager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	timeout := 2 * time.Second
	if interval < timeout {
		timeout = interval
	}

	return &HeartbeatManager{
		cluster:  cluster,
		client:   client,
		interval: interval,
		timeout:  timeout,
		logger:   logger.Named("heartbeat"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the heartbeat checking loop
func (h *HeartbeatManager) Start() {
	h.wg.Add(1)
	go h.run()
	h.logger.Info("started", "interval", h.interval)
}

// Stop stops the heartbeat manager
func (h *HeartbeatManager) Stop() {
	close(h.stopCh)
	h.wg.Wait()
	h.logger.Info("stopped")
}

func (h *HeartbeatManager) run() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	// Initial check
	h.CheckAll()

	for {
		select {
		case <-ticker.C:
			h.CheckAll()
		case <-h.stopCh:
			return
		}
	}
}

// CheckAll probes every node in parallel and waits for the results
func (h *HeartbeatManager) CheckAll() {
	nodes := h.cluster.GetNodes()
	if len(nodes) == 0 {
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(nodes))

	for _, n := range nodes {
		go func() {
			defer wg.Done()
			h.CheckNode(n.ID)
		}()
	}

	wg.Wait()
}

// CheckNode performs a single health check and reports the resulting liveness
func (h *HeartbeatManager) CheckNode(id int) bool {
	n := h.cluster.GetNode(id)
	if n == nil {
		return false
	}

	wasAlive := n.GetAlive()

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	health, err := h.client.HealthCheck(ctx, n.Addr)
	if err == nil && health.ID != 0 && health.ID != id {
		h.logger.Warn("participant answered with unexpected id", "participant", id, "addr", n.Addr, "reported", health.ID)
	}

	if err != nil {
		n.SetAlive(false)
		if wasAlive {
			h.logger.Warn("participant is now unreachable", "participant", id, "addr", n.Addr, "error", err)
		}
		return false
	}

	n.SetAlive(true)
	if !wasAlive {
		h.logger.Info("participant is reachable again", "participant", id, "addr", n.Addr)
	}
	return true
}
