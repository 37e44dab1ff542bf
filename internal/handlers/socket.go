package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/meerkat-chat/meerkat/internal/auth"
	"github.com/meerkat-chat/meerkat/internal/backend"
	"github.com/meerkat-chat/meerkat/internal/channel"
	"github.com/meerkat-chat/meerkat/internal/message"
)

const (
	defaultPingInterval = 25 * time.Second
	defaultPingTimeout  = 20 * time.Second
	socketWriteTimeout  = 10 * time.Second
)

// SocketHandler serves the push channel over Engine.IO v4 websockets.
type SocketHandler struct {
	store        *backend.Store
	logger       *slog.Logger
	upgrader     websocket.Upgrader
	PingInterval time.Duration
	PingTimeout  time.Duration
}

func NewSocketHandler(log *slog.Logger, store *backend.Store) *SocketHandler {
	return &SocketHandler{
		store:  store,
		logger: log.With(slog.String("handler", "socket")),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		PingInterval: defaultPingInterval,
		PingTimeout:  defaultPingTimeout,
	}
}

func (h *SocketHandler) Register(e *echo.Echo) {
	e.GET("/socket.io/", h.Serve)
}

func (h *SocketHandler) Serve(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	if c.QueryParam("transport") != "websocket" {
		return echo.NewHTTPError(http.StatusBadRequest, "only the websocket transport is supported")
	}
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("socket upgrade failed", slog.Any("error", err))
		return nil
	}
	s := &socketSession{
		handler: h,
		ws:      ws,
		userID:  userID,
		sid:     uuid.NewString(),
		done:    make(chan struct{}),
	}
	s.run()
	return nil
}

type socketSession struct {
	handler *SocketHandler
	ws      *websocket.Conn
	userID  int64
	sid     string
	done    chan struct{}

	writeMu sync.Mutex

	mu          sync.Mutex
	unsubscribe func()
}

func (s *socketSession) logger() *slog.Logger {
	return s.handler.logger.With(slog.String("sid", s.sid), slog.Int64("user_id", s.userID))
}

func (s *socketSession) run() {
	log := s.logger()
	defer func() {
		close(s.done)
		s.leave()
		_ = s.ws.Close()
		log.Info("socket closed")
	}()

	open, err := channel.EncodeOpen(s.sid, int(s.handler.PingInterval.Milliseconds()), int(s.handler.PingTimeout.Milliseconds()))
	if err != nil {
		log.Error("encode open failed", slog.Any("error", err))
		return
	}
	if err := s.write(open); err != nil {
		return
	}
	log.Info("socket opened")
	go s.pingLoop()

	for {
		_ = s.ws.SetReadDeadline(time.Now().Add(s.handler.PingInterval + s.handler.PingTimeout))
		kind, frame, err := s.ws.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		packet, err := channel.DecodePacket(frame)
		if err != nil {
			log.Warn("packet dropped", slog.Any("error", err))
			continue
		}
		switch packet.Kind {
		case channel.PacketPing:
			if err := s.write(channel.EncodePong()); err != nil {
				return
			}
		case channel.PacketConnect:
			ack, err := channel.EncodeConnectAck(s.sid)
			if err != nil {
				return
			}
			if err := s.write(ack); err != nil {
				return
			}
		case channel.PacketEvent:
			s.onEvent(packet)
		case channel.PacketDisconnect, channel.PacketClose:
			return
		}
	}
}

func (s *socketSession) onEvent(packet channel.Packet) {
	log := s.logger()
	switch packet.Event {
	case channel.EventJoinChatroom:
		var chatroomID int64
		if err := json.Unmarshal(packet.Payload, &chatroomID); err != nil {
			log.Warn("join payload dropped", slog.Any("error", err))
			return
		}
		s.join(chatroomID)
	case channel.EventSendMessage:
		var out channel.OutboundMessage
		if err := json.Unmarshal(packet.Payload, &out); err != nil {
			log.Warn("send payload dropped", slog.Any("error", err))
			return
		}
		if _, err := s.handler.store.Post(out.ChatroomID, s.userID, out.ID, out.Text, out.HasQuickReplies); err != nil {
			log.Warn("send rejected", slog.Int64("chatroom_id", out.ChatroomID), slog.Any("error", err))
		}
	default:
		log.Debug("event ignored", slog.String("event", packet.Event))
	}
}

func (s *socketSession) join(chatroomID int64) {
	log := s.logger().With(slog.Int64("chatroom_id", chatroomID))
	if !s.handler.store.IsMember(chatroomID, s.userID) {
		log.Warn("join rejected")
		return
	}
	unsubscribe, err := s.handler.store.Subscribe(chatroomID, s.deliver)
	if err != nil {
		log.Warn("join failed", slog.Any("error", err))
		return
	}
	s.mu.Lock()
	previous := s.unsubscribe
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
	if previous != nil {
		previous()
	}
	log.Info("chatroom joined")
}

func (s *socketSession) leave() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (s *socketSession) deliver(raw message.RawEvent) {
	frame, err := channel.EncodeEvent(channel.EventHearMessage, raw)
	if err != nil {
		return
	}
	if err := s.write(frame); err != nil {
		s.logger().Debug("deliver failed", slog.String("message_id", raw.ID), slog.Any("error", err))
	}
}

func (s *socketSession) pingLoop() {
	ticker := time.NewTicker(s.handler.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.write(channel.EncodePing()); err != nil {
				return
			}
		}
	}
}

func (s *socketSession) write(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
	return s.ws.WriteMessage(websocket.TextMessage, frame)
}
