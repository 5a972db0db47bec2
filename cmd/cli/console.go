package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/baxromumarov/2pc-kvstore/pkg/protocol"
	"github.com/fatih/color"
)

// Requester sends a client request to the participant at addr
type Requester interface {
	Request(ctx context.Context, addr string, req *protocol.ClientRequest) (*protocol.ClientResponse, error)
}

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
	hintColor = color.New(color.FgYellow)
)

// Console is the interactive loop: pick a server, an operation, then a key
type Console struct {
	client Requester
	addrs  []string // participant addresses, index = server number - 1
	in     *bufio.Scanner
	out    io.Writer
}

// NewConsole creates a console reading commands from in
func NewConsole(client Requester, addrs []string, in io.Reader, out io.Writer) *Console {
	return &Console{
		client: client,
		addrs:  addrs,
		in:     bufio.NewScanner(in),
		out:    out,
	}
}

// Run loops until the user enters q or the input ends
func (c *Console) Run(ctx context.Context) error {
	for {
		fmt.Fprintln(c.out, "Enter q to quit")

		server, ok := c.readServer()
		if !ok {
			fmt.Fprintln(c.out, "Quitting...")
			return c.in.Err()
		}

		fmt.Fprintln(c.out, "Enter operation GET/PUT/DEL:")
		line, ok := c.readLine()
		if !ok || isQuit(line) {
			fmt.Fprintln(c.out, "Quitting...")
			return c.in.Err()
		}

		op, err := protocol.ParseOperation(line)
		if err != nil {
			failColor.Fprintln(c.out, "This is not a valid operation")
			continue
		}

		if err := c.handle(ctx, server, op); err != nil {
			return err
		}
	}
}

func (c *Console) handle(ctx context.Context, server int, op protocol.Operation) error {
	fmt.Fprint(c.out, "Enter key: ")
	key, ok := c.readLine()
	if !ok {
		return c.in.Err()
	}

	req := &protocol.ClientRequest{Operation: op, Key: key}
	if op == protocol.OpPut {
		fmt.Fprint(c.out, "Enter value: ")
		value, ok := c.readLine()
		if !ok {
			return c.in.Err()
		}
		req.Value = &value
	}

	resp, err := c.client.Request(ctx, c.addrs[server-1], req)
	if err != nil {
		failColor.Fprintf(c.out, "Server %d unreachable: %v\n", server, err)
		return nil
	}

	printResult(c.out, op, key, req.Value, resp.Result)
	return nil
}

func printResult(out io.Writer, op protocol.Operation, key string, value *string, res protocol.Result) {
	switch {
	case res.Status == protocol.StatusInvalidKey:
		hintColor.Fprintf(out, "Key %q is not present in the store\n", key)
	case res.Status == protocol.StatusFail:
		failColor.Fprintf(out, "%s request failed\n", op)
	case op == protocol.OpGet:
		okColor.Fprintf(out, "GET %q = %q\n", key, res.Value)
	case op == protocol.OpPut:
		okColor.Fprintf(out, "PUT %q = %q committed on every replica\n", key, *value)
	default:
		okColor.Fprintf(out, "DELETE %q committed on every replica\n", key)
	}
}

// readServer keeps asking until it gets a number in 1..N. ok is false on quit.
func (c *Console) readServer() (int, bool) {
	n := len(c.addrs)
	for {
		fmt.Fprintf(c.out, "Enter server to send the request to (1-%d):\n", n)
		line, ok := c.readLine()
		if !ok || isQuit(line) {
			return 0, false
		}

		server, err := strconv.Atoi(line)
		if err != nil || server < 1 || server > n {
			hintColor.Fprintf(c.out, "Please enter a server number between 1 and %d\n", n)
			continue
		}
		return server, true
	}
}

func (c *Console) readLine() (string, bool) {
	if !c.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(c.in.Text()), true
}

func isQuit(s string) bool {
	return strings.EqualFold(s, "q")
}
