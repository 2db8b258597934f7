// Package supervisor owns the connection lifecycle: it dials the gateway,
// watches the live session for termination, and schedules reconnects with
// a fixed delay read from settings at each decision point.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/blasty8084/Nexus-247/internal/config"
	"github.com/blasty8084/Nexus-247/internal/events"
	"github.com/blasty8084/Nexus-247/internal/log"
	"github.com/blasty8084/Nexus-247/internal/session"
)

// State is the supervisor's connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Status is a point-in-time snapshot for observers.
type Status struct {
	State       string    `json:"state"`
	SessionID   string    `json:"session_id,omitempty"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	ConnectedAt time.Time `json:"connected_at,omitzero"`
}

// Supervisor drives the connect/watch/reconnect loop. At most one
// reconnect timer is pending at any time; scheduling a new one replaces
// the old.
type Supervisor struct {
	dialer    session.Dialer
	settings  *config.Store
	hub       *events.Hub
	heartbeat time.Duration

	mu          sync.Mutex
	state       State
	sess        session.Session
	timer       *time.Timer
	attempts    int
	lastError   string
	connectedAt time.Time
	closed      bool

	onConnected func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a supervisor. heartbeat is the liveness probe interval.
func New(dialer session.Dialer, settings *config.Store, hub *events.Hub, heartbeat time.Duration) *Supervisor {
	if heartbeat <= 0 {
		heartbeat = 2 * time.Second
	}
	return &Supervisor{
		dialer:    dialer,
		settings:  settings,
		hub:       hub,
		heartbeat: heartbeat,
		state:     Disconnected,
	}
}

// OnConnected registers a hook invoked after every successful connect,
// before the supervisor starts watching the session for termination.
// Must be set before Start.
func (s *Supervisor) OnConnected(fn func()) {
	s.onConnected = fn
}

// Start launches the first connection attempt and the heartbeat loop.
func (s *Supervisor) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.heartbeatLoop()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.connect()
	}()
}

// Stop cancels any pending reconnect, closes the live session, and waits
// for the loops to drain.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	sess := s.sess
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if sess != nil {
		_ = sess.Close()
	}
	s.wg.Wait()

	s.transition(Disconnected, "")
}

// Current returns the live session, or nil while disconnected.
func (s *Supervisor) Current() session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected {
		return nil
	}
	return s.sess
}

// Status returns a snapshot for observers.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:     s.state.String(),
		Attempts:  s.attempts,
		LastError: s.lastError,
	}
	if s.sess != nil && s.state == Connected {
		st.SessionID = s.sess.Info().ID
		st.ConnectedAt = s.connectedAt
	}
	return st
}

// connect performs one dial attempt and, on success, watches the session
// until it terminates.
func (s *Supervisor) connect() {
	logger := log.WithComponent("supervisor")

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.attempts++
	attempt := s.attempts
	s.mu.Unlock()

	s.transition(Connecting, "")
	logger.Info("connecting", "attempt", attempt)

	sess, err := s.dialer.Dial(s.ctx)
	if err != nil {
		logger.Warn("connect failed", "attempt", attempt, "error", err)
		s.terminated(err.Error())
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = sess.Close()
		return
	}
	s.sess = sess
	s.attempts = 0
	s.connectedAt = time.Now().UTC()
	s.mu.Unlock()

	s.transition(Connected, "")
	logger.Info("connected", "session_id", sess.Info().ID, "address", sess.Info().Address)
	s.hub.Publish(events.TopicSystem, map[string]any{
		"event":      "connected",
		"session_id": sess.Info().ID,
	})

	// Plugins attach their handlers to the session that is live right
	// now, so the load hook runs once per established session.
	if s.onConnected != nil {
		s.onConnected()
	}

	select {
	case <-sess.Done():
	case <-s.ctx.Done():
		_ = sess.Close()
		<-sess.Done()
	}

	reason := "connection closed"
	if err := sess.Err(); err != nil {
		reason = err.Error()
	}

	s.mu.Lock()
	s.sess = nil
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	logger.Warn("session terminated", "reason", reason)
	s.hub.Publish(events.TopicSystem, map[string]any{
		"event":  "disconnected",
		"reason": reason,
	})
	s.terminated(reason)
}

// terminated is the single path every termination takes: dial failure,
// remote close, and crash all land here. The reconnect policy is
// re-read from disk for each decision.
func (s *Supervisor) terminated(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.lastError = reason
	s.mu.Unlock()

	policy := s.settings.ReconnectPolicy()
	if !policy.OnCrashRestart {
		log.WithComponent("supervisor").Info("reconnect disabled, staying down")
		s.transition(Disconnected, reason)
		return
	}

	s.transition(Reconnecting, reason)
	log.WithComponent("supervisor").Info("reconnect scheduled", "delay", policy.DelayBase)

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(policy.DelayBase, func() {
		s.mu.Lock()
		s.timer = nil
		closed := s.closed
		s.mu.Unlock()
		if closed || s.ctx.Err() != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.connect()
		}()
	})
	s.mu.Unlock()
}

// transition records the new state and publishes a status event.
func (s *Supervisor) transition(next State, lastError string) {
	s.mu.Lock()
	s.state = next
	if lastError != "" {
		s.lastError = lastError
	}
	st := Status{
		State:     next.String(),
		Attempts:  s.attempts,
		LastError: s.lastError,
	}
	if s.sess != nil && next == Connected {
		st.SessionID = s.sess.Info().ID
		st.ConnectedAt = s.connectedAt
	}
	s.mu.Unlock()

	s.hub.Publish(events.TopicBotStatus, st)
}

// heartbeatLoop probes the live session on a fixed interval. While not
// connected the tick is a no-op.
func (s *Supervisor) heartbeatLoop() {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		sess := s.Current()
		if sess == nil {
			continue
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.heartbeat)
		rtt, err := sess.Ping(ctx)
		cancel()
		if err != nil {
			log.WithComponent("supervisor").Debug("heartbeat ping failed", "error", err)
			continue
		}

		pos := sess.Position()
		s.hub.Publish(events.TopicHeartbeat, map[string]any{
			"session_id": sess.Info().ID,
			"rtt_ms":     float64(rtt) / float64(time.Millisecond),
			"position":   pos,
			"uptime_s":   time.Since(sess.Info().ConnectedAt).Seconds(),
		})
	}
}
