package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blasty8084/Nexus-247/internal/log"
)

// frame is the line-delimited JSON wire unit in both directions.
type frame struct {
	Kind  string         `json:"kind"`
	Nonce string         `json:"nonce,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// TCPDialer dials the gateway over TCP and logs in with the configured
// username before handing the session back.
type TCPDialer struct {
	Address     string
	Username    string
	DialTimeout time.Duration
}

// Dial connects, performs the login exchange, and starts the read loop.
func (d *TCPDialer) Dial(ctx context.Context) (Session, error) {
	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.Address, err)
	}

	s := newTCPSession(conn, Info{
		ID:          uuid.NewString(),
		Username:    d.Username,
		Address:     d.Address,
		ConnectedAt: time.Now().UTC(),
	})

	if err := s.Send(ctx, "login", map[string]any{"username": d.Username}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("login: %w", err)
	}

	go s.readLoop()
	return s, nil
}

type handlerKey struct {
	owner string
	kind  string
}

type tcpSession struct {
	conn   net.Conn
	info   Info
	logger interface {
		Debug(msg string, args ...any)
		Warn(msg string, args ...any)
	}

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[handlerKey][]Handler
	pos      Position
	pending  map[string]chan struct{}
	err      error
	closed   bool

	done chan struct{}
}

func newTCPSession(conn net.Conn, info Info) *tcpSession {
	return &tcpSession{
		conn:     conn,
		info:     info,
		logger:   log.WithSession(info.ID),
		handlers: make(map[handlerKey][]Handler),
		pending:  make(map[string]chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *tcpSession) Info() Info {
	return s.info
}

func (s *tcpSession) Send(ctx context.Context, kind string, data map[string]any) error {
	payload, err := json.Marshal(frame{Kind: kind, Data: data})
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", kind, err)
	}
	payload = append(payload, '\n')

	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetWriteDeadline(deadline)
		defer s.conn.SetWriteDeadline(time.Time{})
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.conn.Write(payload); err != nil {
		return fmt.Errorf("write %s frame: %w", kind, err)
	}
	return nil
}

func (s *tcpSession) Ping(ctx context.Context) (time.Duration, error) {
	nonce := uuid.NewString()
	reply := make(chan struct{}, 1)

	s.mu.Lock()
	s.pending[nonce] = reply
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, nonce)
		s.mu.Unlock()
	}()

	start := time.Now()
	payload, _ := json.Marshal(frame{Kind: "ping", Nonce: nonce})
	payload = append(payload, '\n')

	s.writeMu.Lock()
	_, err := s.conn.Write(payload)
	s.writeMu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("write ping: %w", err)
	}

	select {
	case <-reply:
		return time.Since(start), nil
	case <-s.done:
		return 0, fmt.Errorf("session closed during ping")
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (s *tcpSession) Position() Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *tcpSession) On(owner, kind string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := handlerKey{owner: owner, kind: kind}
	s.handlers[key] = append(s.handlers[key], h)
}

func (s *tcpSession) DetachOwner(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.handlers {
		if key.owner == owner {
			delete(s.handlers, key)
		}
	}
}

func (s *tcpSession) Done() <-chan struct{} {
	return s.done
}

func (s *tcpSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *tcpSession) Close() error {
	s.terminate(nil)
	return nil
}

// terminate records the reason and closes done exactly once.
func (s *tcpSession) terminate(reason error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = reason
	s.mu.Unlock()

	s.conn.Close()
	close(s.done)
}

func (s *tcpSession) readLoop() {
	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		var f frame
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			s.logger.Warn("discarding malformed frame", "error", err)
			continue
		}
		s.dispatch(f)
	}

	err := scanner.Err()
	if err == nil {
		err = fmt.Errorf("connection closed by remote")
	}
	s.mu.Lock()
	alreadyClosed := s.closed
	s.mu.Unlock()
	if alreadyClosed {
		return
	}
	s.terminate(err)
}

func (s *tcpSession) dispatch(f frame) {
	switch f.Kind {
	case "pong":
		s.mu.Lock()
		reply, ok := s.pending[f.Nonce]
		s.mu.Unlock()
		if ok {
			select {
			case reply <- struct{}{}:
			default:
			}
		}
		return
	case "position":
		s.mu.Lock()
		if x, ok := f.Data["x"].(float64); ok {
			s.pos.X = x
		}
		if y, ok := f.Data["y"].(float64); ok {
			s.pos.Y = y
		}
		if z, ok := f.Data["z"].(float64); ok {
			s.pos.Z = z
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	var matched []Handler
	for key, hs := range s.handlers {
		if key.kind == f.Kind {
			matched = append(matched, hs...)
		}
	}
	s.mu.Unlock()

	for _, h := range matched {
		h(f.Data)
	}
}
