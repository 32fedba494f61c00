// Package session owns the websocket side of a connection: handshake,
// lifecycle state machine, inbound reads and the bounded outbound queue.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/driftline/fanout/internal/observability"
)

const (
	SendQueueSize = 128
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
)

// State is the connection lifecycle. There are no transitions out of
// StateClosed.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var gapNotice = []byte(`{"kind":"gap"}`)

// Session is one live bidirectional connection. The lifecycle handler owns
// it; the registry only holds it behind the Sender interface.
type Session struct {
	ID          string
	PrincipalID string

	Conn      *websocket.Conn
	SendQueue chan []byte
	done      chan struct{}
	closed    atomic.Int32
	state     atomic.Int32

	// gapped records that one or more frames were evicted since the last
	// write. The notice goes out before the next delivered frame, not at the
	// drop position: it tells the client frames were lost, not which ones.
	gapped atomic.Bool

	service string

	// queueMu serializes TrySend's drop-oldest path so two concurrent
	// broadcasts cannot both evict and then race on the enqueue.
	queueMu sync.Mutex
}

func New(id, principalID, service string, conn *websocket.Conn) *Session {
	s := &Session{
		ID:          id,
		PrincipalID: principalID,
		Conn:        conn,
		SendQueue:   make(chan []byte, SendQueueSize),
		done:        make(chan struct{}),
		service:     service,
	}
	s.state.Store(int32(StateConnecting))
	return s
}

func (s *Session) Start() {
	go s.writeLoop()
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Transition advances the lifecycle. Backward moves and moves out of Closed
// are refused.
func (s *Session) Transition(to State) bool {
	for {
		cur := s.state.Load()
		if State(cur) == StateClosed || int32(to) <= cur {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(to)) {
			return true
		}
	}
}

// TrySend enqueues one outbound frame without blocking. When the queue is
// full the oldest undelivered frame is dropped and a gap notice is scheduled
// ahead of the next write, so a slow reader goes stale instead of stalling
// the broadcast.
func (s *Session) TrySend(frame []byte) bool {
	if s.closed.Load() == 1 {
		return false
	}
	select {
	case s.SendQueue <- frame:
		return true
	default:
	}

	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	if s.closed.Load() == 1 {
		return false
	}
	select {
	case <-s.SendQueue:
		s.gapped.Store(true)
		observability.FramesDroppedTotal.WithLabelValues(s.service).Inc()
	default:
	}
	select {
	case s.SendQueue <- frame:
		return true
	default:
		return false
	}
}

func (s *Session) Close() {
	s.CloseWithReason(websocket.CloseNormalClosure, "server closing")
}

func (s *Session) CloseWithReason(code int, reason string) {
	if !s.closed.CompareAndSwap(0, 1) {
		return
	}

	s.Transition(StateClosing)
	observability.GetLogger(context.Background()).Info("session: closing",
		zap.String("principal_id", s.PrincipalID),
		zap.String("conn_id", s.ID),
		zap.Int("code", code),
		zap.String("reason", reason))
	close(s.done)

	if s.Conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = s.Conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		s.Conn.Close()
	}
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case frame, ok := <-s.SendQueue:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if s.gapped.CompareAndSwap(true, false) {
				if err := s.Conn.WriteMessage(websocket.TextMessage, gapNotice); err != nil {
					observability.GetLogger(context.Background()).Error("session: gap notice write error",
						zap.String("principal_id", s.PrincipalID), zap.Error(err))
					return
				}
			}
			if err := s.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				observability.GetLogger(context.Background()).Error("session: write error",
					zap.String("principal_id", s.PrincipalID),
					zap.String("conn_id", s.ID),
					zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				observability.GetLogger(context.Background()).Error("session: ping error",
					zap.String("principal_id", s.PrincipalID), zap.Error(err))
				return
			}
		case <-s.done:
			return
		}
	}
}
