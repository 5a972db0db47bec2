package main

import (
	"context"
	"flag"
	"fmt"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/baxromumarov/2pc-kvstore/pkg/config"
	"github.com/baxromumarov/2pc-kvstore/pkg/protocol"
	"github.com/baxromumarov/2pc-kvstore/pkg/transport"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "console":
		err = runConsole(args)
	case "get":
		err = runRequest(protocol.OpGet, args)
	case "put":
		err = runRequest(protocol.OpPut, args)
	case "del", "delete":
		err = runRequest(protocol.OpDelete, args)
	case "seed":
		err = runSeed(args)
	case "health":
		err = healthCheck(args)
	case "status":
		err = clusterStatus(args)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		failColor.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Replicated key-value store CLI")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  cli console --participants=<1=addr,2=addr,...>")
	fmt.Println("      Interactive GET/PUT/DEL loop against a chosen participant")
	fmt.Println("")
	fmt.Println("  cli get|put|del --participants=<...> --server=<n> --key=<key> [--value=<value>]")
	fmt.Println("      Send a single request through participant n")
	fmt.Println("")
	fmt.Println("  cli seed --participants=<...>")
	fmt.Println("      Pre-populate the store with demo entries")
	fmt.Println("")
	fmt.Println("  cli health --addr=<address>")
	fmt.Println("      Check health of a participant or the coordinator")
	fmt.Println("")
	fmt.Println("  cli status --coordinator=<address>")
	fmt.Println("      Show roster liveness and protocol counters")
	fmt.Println("")
	fmt.Printf("--participants falls back to the %s env var.\n", config.EnvParticipants)
}

func participantAddrs(raw string) ([]string, error) {
	peers, err := config.ParsePeers(config.StringOrEnv(raw, config.EnvParticipants))
	if err != nil {
		return nil, err
	}
	if len(peers) == 0 {
		return nil, fmt.Errorf("participants are required; use --participants or %s", config.EnvParticipants)
	}

	// server numbers are positions in the roster, ids must be 1..N
	for i, p := range peers {
		if p.ID != i+1 {
			return nil, fmt.Errorf("participant ids must be 1..%d, missing %d", len(peers), i+1)
		}
	}
	return config.Addrs(peers), nil
}

func runConsole(args []string) error {
	fs := flag.NewFlagSet("console", flag.ExitOnError)
	participants := fs.String("participants", "", "Roster as id=addr pairs")
	timeout := fs.Duration("timeout", 30*time.Second, "Request timeout")
	fs.Parse(args)

	addrs, err := participantAddrs(*participants)
	if err != nil {
		return err
	}

	console := NewConsole(transport.NewHTTPClient(*timeout), addrs, os.Stdin, os.Stdout)
	return console.Run(context.Background())
}

func runRequest(op protocol.Operation, args []string) error {
	fs := flag.NewFlagSet(string(op), flag.ExitOnError)
	participants := fs.String("participants", "", "Roster as id=addr pairs")
	server := fs.Int("server", 1, "Participant to send the request through")
	key := fs.String("key", "", "Key")
	value := fs.String("value", "", "Value (PUT only)")
	timeout := fs.Duration("timeout", 30*time.Second, "Request timeout")
	fs.Parse(args)

	addrs, err := participantAddrs(*participants)
	if err != nil {
		return err
	}
	if *server < 1 || *server > len(addrs) {
		return fmt.Errorf("--server must be between 1 and %d", len(addrs))
	}
	if *key == "" {
		return fmt.Errorf("--key is required")
	}

	req := &protocol.ClientRequest{Operation: op, Key: *key}
	if op == protocol.OpPut {
		req.Value = value
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp, err := transport.NewHTTPClient(*timeout).Request(ctx, addrs[*server-1], req)
	if err != nil {
		return err
	}

	printResult(os.Stdout, op, *key, req.Value, resp.Result)
	if resp.Result.Status == protocol.StatusFail {
		return fmt.Errorf("%s", resp.Error)
	}
	return nil
}

func runSeed(args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	participants := fs.String("participants", "", "Roster as id=addr pairs")
	timeout := fs.Duration("timeout", 30*time.Second, "Request timeout")
	fs.Parse(args)

	addrs, err := participantAddrs(*participants)
	if err != nil {
		return err
	}

	return seed(context.Background(), transport.NewHTTPClient(*timeout), addrs, os.Stdout)
}

func healthCheck(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "localhost:8081", "Address to check")
	fs.Parse(args)

	client := transport.NewHTTPClient(5 * time.Second).WithRetry(2, 500*time.Millisecond)
	health, err := client.HealthCheck(context.Background(), *addr)
	if err != nil {
		return err
	}

	okColor.Printf("%s is %s (%s", health.Address, health.Status, health.Role)
	if health.ID != 0 {
		okColor.Printf(" %d", health.ID)
	}
	okColor.Println(")")
	return nil
}

func clusterStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	coordinator := fs.String("coordinator", "localhost:8080", "Coordinator address")
	fs.Parse(args)

	client := transport.NewHTTPClient(5 * time.Second)
	status, err := client.ClusterStatus(context.Background(), *coordinator)
	if err != nil {
		return err
	}

	fmt.Printf("Roster as of %s\n", status.Generated.Format(time.RFC3339))
	for _, m := range status.Members {
		state := okColor.Sprint("ALIVE")
		if !m.Alive {
			state = failColor.Sprint("DEAD")
		}

		lastSeen := "never"
		if !m.LastSeen.IsZero() {
			lastSeen = m.LastSeen.Format(time.RFC3339)
		}
		fmt.Printf("  %d  %-22s %s  last seen %s\n", m.ID, m.Address, state, lastSeen)
	}

	if len(status.Counters) > 0 {
		fmt.Println("Counters:")
		for _, name := range slices.Sorted(maps.Keys(status.Counters)) {
			fmt.Printf("  %-40s %.0f\n", name, status.Counters[name])
		}
	}
	return nil
}
