package config

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
)

// Environment fallbacks for flags left empty
const (
	EnvPostgresDSN  = "POSTGRES_DSN"
	EnvParticipants = "KV_PARTICIPANTS"
)

// Peer is one participant in the roster
type Peer struct {
	ID   int
	Addr string
}

// ParsePeers parses a comma-separated roster in the format
// "1=addr1,2=addr2,3=addr3". Ids must be positive and unique; the result is
// ordered by id.
func ParsePeers(peersStr string) ([]Peer, error) {
	if strings.TrimSpace(peersStr) == "" {
		return []Peer{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]Peer, 0, len(parts))
	seen := make(map[int]bool, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid peer format: %s (expected id=addr)", part)
		}

		idStr := strings.TrimSpace(kv[0])
		addr := strings.TrimSpace(kv[1])
		if idStr == "" || addr == "" {
			return nil, fmt.Errorf("peer ID and address cannot be empty: %s", part)
		}

		id, err := strconv.Atoi(idStr)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("peer ID must be a positive integer: %s", part)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate peer ID %d", id)
		}
		seen[id] = true

		peers = append(peers, Peer{ID: id, Addr: addr})
	}

	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers, nil
}

// Addrs returns the peer addresses in roster order
func Addrs(peers []Peer) []string {
	addrs := make([]string, len(peers))
	for i, p := range peers {
		addrs[i] = p.Addr
	}
	return addrs
}

// StringOrEnv returns value, or the environment variable key when value is empty
func StringOrEnv(value, key string) string {
	if value != "" {
		return value
	}
	return os.Getenv(key)
}

// LogOptions controls how a process logs
type LogOptions struct {
	Name   string
	Level  string
	JSON   bool
	Output io.Writer
}

// NewLogger builds the process root logger
func NewLogger(opts LogOptions) hclog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	level := hclog.LevelFromString(opts.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       opts.Name,
		Level:      level,
		JSONFormat: opts.JSON,
		Output:     out,
	})
}

// NewMetrics creates an in-memory metrics registry. The sink is returned so
// the status endpoint can read counters back.
func NewMetrics(service string) (*metrics.Metrics, *metrics.InmemSink, error) {
	sink := metrics.NewInmemSink(10*time.Second, time.Minute)

	cfg := metrics.DefaultConfig(service)
	cfg.EnableHostname = false
	cfg.EnableRuntimeMetrics = false

	m, err := metrics.New(cfg, sink)
	if err != nil {
		return nil, nil, fmt.Errorf("create metrics: %w", err)
	}
	return m, sink, nil
}

// Counters sums every counter retained by sink, keyed by metric name
func Counters(sink *metrics.InmemSink) map[string]float64 {
	out := make(map[string]float64)
	if sink == nil {
		return out
	}

	for _, interval := range sink.Data() {
		interval.RLock()
		for name, c := range interval.Counters {
			out[name] += c.Sum
		}
		interval.RUnlock()
	}
	return out
}
