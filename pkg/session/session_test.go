package session

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/agentrelay/winclient/pkg/client"
	"github.com/agentrelay/winclient/pkg/transport"
)

func scriptServer(t *testing.T, responses ...string) *transport.Transport {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		for _, resp := range responses {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			reader := bufio.NewReader(conn)
			for {
				line, err := reader.ReadString('\n')
				if err != nil || line == "\r\n" {
					break
				}
			}
			conn.Write([]byte(resp))
			conn.Close()
		}
	}()

	t.Cleanup(func() { ln.Close() })

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	var port int
	fmt.Sscanf(portStr, "%d", &port)

	tr := transport.New(host, port, "test-key")
	tr.Timeout = 2 * time.Second
	return tr
}

func jsonResp(body string) string {
	return fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
}

func TestConnect_Success(t *testing.T) {
	tr := scriptServer(t, jsonResp(`{"session_id":"sess-1"}`))
	state := client.New("127.0.0.1", 9000, "key")
	s := New(tr, state)

	if err := s.Connect(context.Background(), "sub"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if state.SessionID() != "sess-1" {
		t.Fatalf("expected session id sess-1, got %q", state.SessionID())
	}
	if !state.Connected() {
		t.Fatal("expected Connected() to be true")
	}
}

func TestConnect_AlreadyConnected(t *testing.T) {
	state := client.New("127.0.0.1", 9000, "key")
	state.SetSession("existing")
	s := New(transport.New("127.0.0.1", 9000, "key"), state)

	if err := s.Connect(context.Background(), ""); err != ErrAlreadyConnected {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestDisconnect_ClearsStateEvenOnTransportError(t *testing.T) {
	// No listener at all: the /stop POST will fail to connect.
	state := client.New("127.0.0.1", 1, "key")
	state.SetSession("sess-1")
	tr := transport.New("127.0.0.1", 1, "key")
	tr.Timeout = 200 * time.Millisecond
	s := New(tr, state)

	if err := s.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect should not surface a transport error: %v", err)
	}
	if state.Connected() {
		t.Fatal("expected state to be cleared after Disconnect")
	}
}

func TestHeartbeat_NotDueIsNoop(t *testing.T) {
	state := client.New("127.0.0.1", 9000, "key")
	s := New(transport.New("127.0.0.1", 9000, "key"), state)

	// No session id set: HeartbeatDue is false, so no network call happens
	// and this must not block or error even with no server listening.
	if err := s.Heartbeat(context.Background()); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
}

func TestPollOnce_NotConnected(t *testing.T) {
	state := client.New("127.0.0.1", 9000, "key")
	s := New(transport.New("127.0.0.1", 9000, "key"), state)

	_, _, err := s.PollOnce(context.Background())
	if err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestSendInput_StopsOnStoppedStatus(t *testing.T) {
	tr := scriptServer(t,
		jsonResp(`{}`), // /input
		jsonResp(`{"output":"done","status":"stopped"}`), // /output
	)
	state := client.New("127.0.0.1", 9000, "key")
	state.SetSession("sess-1")
	s := New(tr, state)

	var captured []string
	err := s.SendInput(context.Background(), "hello", func(o string) { captured = append(captured, o) })
	if err != nil {
		t.Fatalf("SendInput: %v", err)
	}
	if len(captured) != 1 || captured[0] != "done" {
		t.Fatalf("expected one captured output %q, got %v", "done", captured)
	}
}

func TestIsSubstantive(t *testing.T) {
	cases := map[string]bool{
		"":                        false,
		"[Session started]":       false,
		"[Using tool fs.read]":    false,
		"here is the file output": true,
	}
	for in, want := range cases {
		if got := isSubstantive(in); got != want {
			t.Errorf("isSubstantive(%q) = %v, want %v", in, got, want)
		}
	}
}
