package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/baxromumarov/2pc-kvstore/pkg/config"
	"github.com/baxromumarov/2pc-kvstore/pkg/store"
	"github.com/baxromumarov/2pc-kvstore/pkg/transport"
	twophasecommit "github.com/baxromumarov/2pc-kvstore/pkg/two_phase_commit"
	"github.com/hashicorp/go-hclog"
)

func main() {
	id := flag.Int("id", 0, "Participant id, unique in the roster")
	addr := flag.String("addr", "localhost:8081", "HTTP address to bind the participant")
	coordinatorAddr := flag.String("coordinator", "localhost:8080", "HTTP address of the coordinator")
	grpcAddr := flag.String("grpc-addr", "", "Also serve the participant protocol over gRPC on this address (optional)")
	storeKind := flag.String("store", "memory", "Local store: memory, bolt or postgres")
	boltPath := flag.String("bolt-path", "", "Bolt file for --store=bolt (default participant-<id>.db)")
	dsn := flag.String("dsn", "", "Postgres DSN for --store=postgres. Falls back to POSTGRES_DSN env var.")
	logLevel := flag.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	logJSON := flag.Bool("log-json", false, "Emit JSON logs")
	flag.Parse()

	logger := config.NewLogger(config.LogOptions{Name: "kvstore", Level: *logLevel, JSON: *logJSON})

	if *id <= 0 {
		logger.Error("a positive --id is required")
		os.Exit(1)
	}

	s, err := openStore(*storeKind, *id, *boltPath, config.StringOrEnv(*dsn, config.EnvPostgresDSN), logger)
	if err != nil {
		logger.Error("failed to open store", "store", *storeKind, "error", err)
		os.Exit(1)
	}
	defer s.Close()

	participant := twophasecommit.NewParticipant(*id, s, logger)
	participant.SetCoordinator(transport.NewCoordinatorClient(*coordinatorAddr, transport.NewHTTPClient(30*time.Second)))

	server := transport.NewParticipantServer(*addr, participant, logger)

	var grpcServer *transport.GRPCServer
	if *grpcAddr != "" {
		grpcServer = transport.NewGRPCServer(*grpcAddr, participant, logger)
		go func() {
			if err := grpcServer.Start(); err != nil {
				logger.Error("grpc server stopped", "error", err)
			}
		}()
	}

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down participant", "participant", *id)

		if grpcServer != nil {
			grpcServer.Stop()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Warn("server shutdown", "error", err)
		}
	}()

	if err := server.Start(); err != nil {
		logger.Error("failed to start participant server", "error", err)
		os.Exit(1)
	}
}

func openStore(kind string, id int, boltPath, dsn string, logger hclog.Logger) (store.Store, error) {
	switch kind {
	case "memory":
		return store.NewMemoryStore(), nil

	case "bolt":
		if boltPath == "" {
			boltPath = fmt.Sprintf("participant-%d.db", id)
		}
		logger.Info("using bolt store", "path", boltPath)
		return store.OpenBoltStore(boltPath)

	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("postgres DSN is required; set --dsn or %s", config.EnvPostgresDSN)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("using postgres store")
		return store.OpenPostgresStore(ctx, dsn, id)

	default:
		return nil, fmt.Errorf("unknown store %q", kind)
	}
}
