package session

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"
)

// pipeSession wires a tcpSession to the near end of a net.Pipe and returns
// the far end for the test to act as the gateway.
func pipeSession(t *testing.T) (*tcpSession, net.Conn) {
	t.Helper()
	near, far := net.Pipe()
	s := newTCPSession(near, Info{
		ID:          "test-session",
		Username:    "nexus",
		Address:     "pipe",
		ConnectedAt: time.Now().UTC(),
	})
	go s.readLoop()
	t.Cleanup(func() {
		s.Close()
		far.Close()
	})
	return s, far
}

func writeFrame(t *testing.T, conn net.Conn, f frame) {
	t.Helper()
	payload, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestSendWritesLineFrame(t *testing.T) {
	t.Parallel()

	s, far := pipeSession(t)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Send(context.Background(), "chat", map[string]any{"text": "hello"})
	}()

	line, err := bufio.NewReader(far).ReadBytes('\n')
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Send: %v", err)
	}

	var f frame
	if err := json.Unmarshal(line, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if f.Kind != "chat" {
		t.Errorf("expected kind chat, got %q", f.Kind)
	}
	if f.Data["text"] != "hello" {
		t.Errorf("expected text hello, got %v", f.Data["text"])
	}
}

func TestHandlerDispatchAndDetach(t *testing.T) {
	t.Parallel()

	s, far := pipeSession(t)

	got := make(chan map[string]any, 2)
	s.On("greeter", "chat", func(data map[string]any) {
		got <- data
	})

	writeFrame(t, far, frame{Kind: "chat", Data: map[string]any{"text": "hi"}})

	select {
	case data := <-got:
		if data["text"] != "hi" {
			t.Errorf("expected text hi, got %v", data["text"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for handler")
	}

	s.DetachOwner("greeter")
	writeFrame(t, far, frame{Kind: "chat", Data: map[string]any{"text": "again"}})

	select {
	case data := <-got:
		t.Fatalf("detached handler still invoked with %v", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDetachOwnerLeavesOtherOwners(t *testing.T) {
	t.Parallel()

	s, far := pipeSession(t)

	got := make(chan string, 2)
	s.On("a", "chat", func(map[string]any) { got <- "a" })
	s.On("b", "chat", func(map[string]any) { got <- "b" })

	s.DetachOwner("a")
	writeFrame(t, far, frame{Kind: "chat"})

	select {
	case owner := <-got:
		if owner != "b" {
			t.Errorf("expected only owner b handler, got %q", owner)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for handler")
	}
}

func TestPingRoundTrip(t *testing.T) {
	t.Parallel()

	s, far := pipeSession(t)

	// Fake gateway: echo pongs for every ping.
	go func() {
		scanner := bufio.NewScanner(far)
		for scanner.Scan() {
			var f frame
			if json.Unmarshal(scanner.Bytes(), &f) == nil && f.Kind == "ping" {
				payload, _ := json.Marshal(frame{Kind: "pong", Nonce: f.Nonce})
				far.Write(append(payload, '\n'))
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rtt, err := s.Ping(ctx)
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if rtt <= 0 {
		t.Errorf("expected positive rtt, got %v", rtt)
	}
}

func TestPositionUpdatesFromFrames(t *testing.T) {
	t.Parallel()

	s, far := pipeSession(t)

	moved := make(chan struct{}, 1)
	s.On("test", "position", func(map[string]any) { moved <- struct{}{} })

	writeFrame(t, far, frame{Kind: "position", Data: map[string]any{"x": 1.5, "y": 64.0, "z": -3.0}})

	select {
	case <-moved:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for position frame")
	}

	pos := s.Position()
	if pos.X != 1.5 || pos.Y != 64.0 || pos.Z != -3.0 {
		t.Errorf("unexpected position %+v", pos)
	}
}

func TestRemoteCloseTerminatesSession(t *testing.T) {
	t.Parallel()

	s, far := pipeSession(t)
	far.Close()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Done")
	}
	if s.Err() == nil {
		t.Error("expected termination reason for remote close")
	}
}

func TestLocalCloseIsCleanAndIdempotent(t *testing.T) {
	t.Parallel()

	s, _ := pipeSession(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Done")
	}
	if err := s.Err(); err != nil {
		t.Errorf("expected nil reason for local close, got %v", err)
	}
}

func TestMalformedFrameIsDiscarded(t *testing.T) {
	t.Parallel()

	s, far := pipeSession(t)

	got := make(chan map[string]any, 1)
	s.On("test", "chat", func(data map[string]any) { got <- data })

	if _, err := far.Write([]byte("{not json}\n")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	writeFrame(t, far, frame{Kind: "chat", Data: map[string]any{"text": "ok"}})

	select {
	case data := <-got:
		if data["text"] != "ok" {
			t.Errorf("expected text ok, got %v", data["text"])
		}
	case <-time.After(time.Second):
		t.Fatal("session did not survive malformed frame")
	}
}
