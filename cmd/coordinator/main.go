package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/baxromumarov/2pc-kvstore/pkg/cluster"
	"github.com/baxromumarov/2pc-kvstore/pkg/config"
	"github.com/baxromumarov/2pc-kvstore/pkg/node"
	"github.com/baxromumarov/2pc-kvstore/pkg/protocol"
	"github.com/baxromumarov/2pc-kvstore/pkg/transport"
	twophasecommit "github.com/baxromumarov/2pc-kvstore/pkg/two_phase_commit"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "Address for the coordinator")
	participants := flag.String("participants", "", "Roster as id=addr pairs (e.g., 1=localhost:8081,2=localhost:8082). Falls back to KV_PARTICIPANTS env var.")
	transportKind := flag.String("transport", "http", "Participant transport: http or grpc (roster addresses must match)")
	workers := flag.Int("workers", twophasecommit.DefaultWorkers, "Fan-out worker pool size")
	retryBackoff := flag.Duration("retry-backoff", twophasecommit.DefaultRetryBackoff, "Wait before the single retry of a failed call")
	callTimeout := flag.Duration("call-timeout", twophasecommit.DefaultCallTimeout, "Per-call participant timeout")
	heartbeatInterval := flag.Duration("heartbeat", 5*time.Second, "Heartbeat interval (0 disables)")
	logLevel := flag.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	logJSON := flag.Bool("log-json", false, "Emit JSON logs")
	flag.Parse()

	logger := config.NewLogger(config.LogOptions{Name: "kvstore", Level: *logLevel, JSON: *logJSON})

	peers, err := config.ParsePeers(config.StringOrEnv(*participants, config.EnvParticipants))
	if err != nil {
		logger.Error("invalid roster", "error", err)
		os.Exit(1)
	}
	if len(peers) == 0 {
		logger.Error("participants are required; use --participants or KV_PARTICIPANTS")
		os.Exit(1)
	}

	m, sink, err := config.NewMetrics("kvstore")
	if err != nil {
		logger.Error("failed to set up metrics", "error", err)
		os.Exit(1)
	}

	coordinator := twophasecommit.NewCoordinator(twophasecommit.Config{
		Workers:      *workers,
		RetryBackoff: *retryBackoff,
		CallTimeout:  *callTimeout,
		Logger:       logger,
		Metrics:      m,
	})

	clstr := cluster.NewCluster()
	var checker cluster.HealthChecker

	switch *transportKind {
	case "http":
		client := transport.NewHTTPClient(*callTimeout)
		for _, p := range peers {
			coordinator.RegisterParticipant(transport.NewParticipantClient(p.ID, p.Addr, client), p.ID)
			clstr.AddNode(node.NewNode(p.ID, p.Addr))
		}
		checker = transport.NewHTTPClient(2 * time.Second)

	case "grpc":
		for _, p := range peers {
			handle, err := transport.DialParticipant(p.ID, p.Addr)
			if err != nil {
				logger.Error("failed to dial participant", "participant", p.ID, "addr", p.Addr, "error", err)
				os.Exit(1)
			}
			defer handle.Close()

			coordinator.RegisterParticipant(handle, p.ID)
			clstr.AddNode(node.NewNode(p.ID, p.Addr))
		}
		grpcChecker := transport.NewGRPCHealthChecker()
		defer grpcChecker.Close()
		checker = grpcChecker

	default:
		logger.Error("unknown transport", "transport", *transportKind)
		os.Exit(1)
	}

	logger.Info("roster loaded", "participants", coordinator.Participants(), "transport", *transportKind)

	var heartbeat *cluster.HeartbeatManager
	if *heartbeatInterval > 0 {
		heartbeat = cluster.NewHeartbeatManager(clstr, checker, *heartbeatInterval, logger)
		heartbeat.Start()
	}

	status := func() *protocol.ClusterStatusResponse {
		s := clstr.Status()
		s.Counters = config.Counters(sink)
		return s
	}

	server := transport.NewCoordinatorServer(*addr, coordinator, status, logger)

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down coordinator")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Warn("server shutdown", "error", err)
		}
	}()

	if err := server.Start(); err != nil {
		logger.Error("failed to start coordinator server", "error", err)
		os.Exit(1)
	}

	if heartbeat != nil {
		heartbeat.Stop()
	}
}
