package session

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/driftline/fanout/internal/codec"
	"github.com/driftline/fanout/internal/engine"
	"github.com/driftline/fanout/internal/event"
	"github.com/driftline/fanout/internal/observability"
	"github.com/driftline/fanout/internal/registry"
)

type Handler struct {
	registry  *registry.Registry
	engine    *engine.Engine
	codec     *codec.Codec
	jwtSecret string
	service   string
}

func NewHandler(reg *registry.Registry, eng *engine.Engine, c *codec.Codec, jwtSecret, service string) *Handler {
	return &Handler{
		registry:  reg,
		engine:    eng,
		codec:     c,
		jwtSecret: jwtSecret,
		service:   service,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// controlFrame is a client subscription intent, distinct from event frames.
type controlFrame struct {
	Action  string        `json:"action"`
	Channel event.Channel `json:"channel"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := observability.GetLogger(r.Context())

	// Identity must resolve before the connection can reach Open.
	tokenString, err := extractToken(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	principalID, err := verifyToken(tokenString, h.jwtSecret)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("upgrade error", zap.Error(err))
		return
	}

	connID := uuid.NewString()
	sess := New(connID, principalID, h.service, conn)

	h.registry.Register(connID, principalID, sess)

	// Every open connection follows its own notification feed.
	h.registry.Subscribe(connID, event.UserNotifications(principalID))

	sess.Transition(StateOpen)
	sess.Start()
	log.Info("connected", zap.String("principal_id", principalID), zap.String("conn_id", connID))
	observability.WebSocketConnectionsActive.WithLabelValues(h.service).Inc()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go h.readLoop(sess)
}

func (h *Handler) readLoop(s *Session) {
	log := observability.GetLogger(context.Background())
	defer func() {
		s.Transition(StateClosing)
		h.registry.UnregisterAll(s.ID)
		s.Close()
		s.Transition(StateClosed)
		log.Info("disconnected", zap.String("principal_id", s.PrincipalID), zap.String("conn_id", s.ID))
		observability.WebSocketConnectionsActive.WithLabelValues(h.service).Dec()
	}()

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error("read loop error",
					zap.String("principal_id", s.PrincipalID),
					zap.String("conn_id", s.ID),
					zap.Error(err))
			}
			return
		}
		h.handleFrame(context.Background(), s, raw)
	}
}

// handleFrame dispatches one inbound frame. All input errors stay local to
// this connection as error frames; nothing here closes the connection.
func (h *Handler) handleFrame(ctx context.Context, s *Session, raw []byte) {
	var ctl controlFrame
	if err := json.Unmarshal(raw, &ctl); err == nil && ctl.Action != "" {
		h.handleControl(s, ctl)
		return
	}

	ev, err := h.codec.Decode(ctx, raw, s.PrincipalID)
	if err != nil {
		s.TrySend(h.codec.EncodeError(err.Error()))
		return
	}

	// The resolved principal is the only trusted identity on this path.
	switch v := ev.(type) {
	case *event.Message:
		v.AuthorID = s.PrincipalID
	case *event.Comment:
		v.AuthorID = s.PrincipalID
	case *event.Deletion:
		v.RequestedBy = s.PrincipalID
	}

	if err := h.engine.Publish(ctx, ev); err != nil {
		s.TrySend(h.codec.EncodeError(err.Error()))
	}
}

// MarkRead is the HTTP trigger for the read-receipt flow: it drops the
// caller's unread counter and pushes the fresh count to every connection on
// their notification feed.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	tokenString, err := extractToken(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	principalID, err := verifyToken(tokenString, h.jwtSecret)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	count, err := h.engine.MarkRead(r.Context(), principalID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"unread": count})
}

func (h *Handler) handleControl(s *Session, ctl controlFrame) {
	if ctl.Channel.IsZero() {
		s.TrySend(h.codec.EncodeError("control frame has no channel"))
		return
	}
	// A connection may only follow its own notification feed.
	if ctl.Channel.Kind == event.KindUserNotifications && ctl.Channel.UserID != s.PrincipalID {
		s.TrySend(h.codec.EncodeError("cannot subscribe to another user's notifications"))
		return
	}

	switch ctl.Action {
	case "subscribe":
		h.registry.Subscribe(s.ID, ctl.Channel)
	case "unsubscribe":
		h.registry.Unsubscribe(s.ID, ctl.Channel)
	default:
		s.TrySend(h.codec.EncodeError("unknown control action"))
	}
}
