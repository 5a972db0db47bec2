package main

import (
	"context"
	"fmt"
	"io"

	"github.com/baxromumarov/2pc-kvstore/pkg/protocol"
)

type seedEntry struct {
	server int
	key    string
	value  string
}

// demo data; each write enters through a different participant
var seedEntries = []seedEntry{
	{server: 1, key: "Sonal", value: "Boston"},
	{server: 2, key: "John", value: "New York"},
	{server: 3, key: "Jane", value: "Seattle"},
	{server: 4, key: "Max", value: "San Francisco"},
	{server: 5, key: "Rohit", value: "Miami"},
}

// seed writes the demo entries. With fewer participants than entries the
// servers are reused round robin.
func seed(ctx context.Context, client Requester, addrs []string, out io.Writer) error {
	if len(addrs) == 0 {
		return fmt.Errorf("no participants to seed")
	}

	for _, e := range seedEntries {
		server := (e.server-1)%len(addrs) + 1
		value := e.value

		resp, err := client.Request(ctx, addrs[server-1], &protocol.ClientRequest{
			Operation: protocol.OpPut,
			Key:       e.key,
			Value:     &value,
		})
		if err != nil {
			return fmt.Errorf("seed %s via server %d: %w", e.key, server, err)
		}
		if resp.Result.Status != protocol.StatusSuccess {
			return fmt.Errorf("seed %s via server %d: %s %s", e.key, server, resp.Result, resp.Error)
		}

		okColor.Fprintf(out, "seeded %s=%s via server %d\n", e.key, e.value, server)
	}
	return nil
}
