package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/baxromumarov/2pc-kvstore/pkg/protocol"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore answers client requests from a single shared map, per address
type fakeStore struct {
	mu    sync.Mutex
	data  map[string]string
	calls []string
	down  map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string), down: make(map[string]bool)}
}

func (f *fakeStore) Request(_ context.Context, addr string, req *protocol.ClientRequest) (*protocol.ClientResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, addr+" "+string(req.Operation)+" "+req.Key)
	if f.down[addr] {
		return nil, errors.New("connection refused")
	}

	switch req.Operation {
	case protocol.OpGet:
		v, ok := f.data[req.Key]
		if !ok {
			return &protocol.ClientResponse{Result: protocol.Result{Status: protocol.StatusInvalidKey}}, nil
		}
		return &protocol.ClientResponse{Result: protocol.Result{Status: protocol.StatusValue, Value: v}}, nil
	case protocol.OpPut:
		f.data[req.Key] = *req.Value
	case protocol.OpDelete:
		if _, ok := f.data[req.Key]; !ok {
			return &protocol.ClientResponse{Result: protocol.Result{Status: protocol.StatusInvalidKey}}, nil
		}
		delete(f.data, req.Key)
	}
	return &protocol.ClientResponse{Result: protocol.Result{Status: protocol.StatusSuccess}}, nil
}

func runScript(t *testing.T, f *fakeStore, addrs []string, script ...string) string {
	t.Helper()
	color.NoColor = true

	var out bytes.Buffer
	c := NewConsole(f, addrs, strings.NewReader(strings.Join(script, "\n")+"\n"), &out)
	require.NoError(t, c.Run(context.Background()))
	return out.String()
}

func TestConsolePutGetDelete(t *testing.T) {
	f := newFakeStore()
	addrs := []string{"a:1", "b:2", "c:3"}

	out := runScript(t, f, addrs,
		"1", "PUT", "Alice", "NYC",
		"2", "get", "Alice",
		"3", "DEL", "Alice",
		"1", "GET", "Alice",
		"q",
	)

	assert.Contains(t, out, `PUT "Alice" = "NYC" committed`)
	assert.Contains(t, out, `GET "Alice" = "NYC"`)
	assert.Contains(t, out, `DELETE "Alice" committed`)
	assert.Contains(t, out, `Key "Alice" is not present`)
	assert.Contains(t, out, "Quitting...")

	assert.Equal(t, []string{
		"a:1 PUT Alice",
		"b:2 GET Alice",
		"c:3 DELETE Alice",
		"a:1 GET Alice",
	}, f.calls)
}

func TestConsoleRejectsBadServerAndOperation(t *testing.T) {
	f := newFakeStore()

	out := runScript(t, f, []string{"a:1", "b:2"},
		"7", "x", "2", "LIST",
		"Q",
	)

	assert.Equal(t, 2, strings.Count(out, "Please enter a server number between 1 and 2"))
	assert.Contains(t, out, "This is not a valid operation")
	assert.Empty(t, f.calls)
}

func TestConsoleReportsUnreachableServer(t *testing.T) {
	f := newFakeStore()
	f.down["b:2"] = true

	out := runScript(t, f, []string{"a:1", "b:2"}, "2", "GET", "k", "q")

	assert.Contains(t, out, "Server 2 unreachable")
}

func TestConsoleQuitAtOperationPrompt(t *testing.T) {
	f := newFakeStore()
	out := runScript(t, f, []string{"a:1"}, "1", "q")

	assert.Contains(t, out, "Quitting...")
	assert.Empty(t, f.calls)
}

func TestConsoleEndOfInput(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer

	c := NewConsole(newFakeStore(), []string{"a:1"}, strings.NewReader(""), &out)
	assert.NoError(t, c.Run(context.Background()))
}

func TestSeedCyclesServers(t *testing.T) {
	color.NoColor = true
	f := newFakeStore()
	var out bytes.Buffer

	require.NoError(t, seed(context.Background(), f, []string{"a:1", "b:2"}, &out))

	assert.Equal(t, "Boston", f.data["Sonal"])
	assert.Equal(t, "Miami", f.data["Rohit"])
	assert.Len(t, f.data, 5)
	assert.Equal(t, []string{
		"a:1 PUT Sonal",
		"b:2 PUT John",
		"a:1 PUT Jane",
		"b:2 PUT Max",
		"a:1 PUT Rohit",
	}, f.calls)
}

func TestSeedFailsWithoutParticipants(t *testing.T) {
	assert.Error(t, seed(context.Background(), newFakeStore(), nil, &bytes.Buffer{}))
}

func TestParticipantAddrs(t *testing.T) {
	addrs, err := participantAddrs("2=b:2,1=a:1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1", "b:2"}, addrs)

	_, err = participantAddrs("1=a:1,3=c:3")
	assert.Error(t, err)

	t.Setenv("KV_PARTICIPANTS", "")
	_, err = participantAddrs("")
	assert.Error(t, err)
}
