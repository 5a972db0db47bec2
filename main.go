package main

import (
	"fmt"
)

func main() {
	fmt.Println("2PC KV Store - Replicated key-value store over two-phase commit")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  Start participants: go run ./cmd/participant --id=1 --addr=localhost:8081 --coordinator=localhost:8080")
	fmt.Println("  Start coordinator:  go run ./cmd/coordinator --addr=localhost:8080 --participants=1=localhost:8081,2=localhost:8082")
	fmt.Println("  CLI tool:           go run ./cmd/cli <command>")
	fmt.Println("")
	fmt.Println("CLI Commands:")
	fmt.Println("  console --participants=<1=addr,...>           - Interactive GET/PUT/DEL loop")
	fmt.Println("  get|put|del --server=<n> --key=<k> [--value]  - Single request through participant n")
	fmt.Println("  seed --participants=<1=addr,...>              - Pre-populate demo entries")
	fmt.Println("  health --addr=<addr>                          - Check process health")
	fmt.Println("  status --coordinator=<addr>                   - Show roster and counters")
}
