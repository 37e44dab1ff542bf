package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/meerkat-chat/meerkat/internal/message"
)

// ErrServerDisconnect is the disconnect cause when the server ends the session.
var ErrServerDisconnect = errors.New("server disconnected")

func (m *Manager) readLoop(entry *connectionEntry) {
	chatroomID := entry.handle.ChatroomID
	var cause error
	defer func() {
		m.teardown(entry, cause)
	}()

	for {
		frame, err := entry.conn.ReadMessage()
		if err != nil {
			cause = err
			return
		}
		packet, err := DecodePacket(frame)
		if err != nil {
			m.logger.Warn("packet dropped", slog.Int64("chatroom_id", chatroomID), slog.Any("error", err))
			continue
		}
		switch packet.Kind {
		case PacketOpen:
			if err := entry.conn.WriteMessage(context.Background(), EncodeConnect()); err != nil {
				cause = fmt.Errorf("send connect: %w", err)
				return
			}
		case PacketPing:
			if err := entry.conn.WriteMessage(context.Background(), EncodePong()); err != nil {
				cause = fmt.Errorf("send pong: %w", err)
				return
			}
		case PacketConnect:
			if err := m.onConnect(entry); err != nil {
				cause = err
				return
			}
		case PacketEvent:
			m.onEvent(entry, packet)
		case PacketConnectError:
			cause = fmt.Errorf("connect rejected: %s", string(packet.Data))
			return
		case PacketDisconnect, PacketClose:
			cause = ErrServerDisconnect
			return
		}
	}
}

func (m *Manager) onConnect(entry *connectionEntry) error {
	chatroomID := entry.handle.ChatroomID
	m.mu.Lock()
	if entry.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	entry.state = StateOpen
	m.mu.Unlock()

	frame, err := EncodeEvent(EventJoinChatroom, chatroomID)
	if err != nil {
		return err
	}
	if err := entry.conn.WriteMessage(context.Background(), frame); err != nil {
		return fmt.Errorf("join chatroom: %w", err)
	}
	m.logger.Info("channel connected", slog.Int64("chatroom_id", chatroomID))
	if entry.handlers.OnConnect != nil {
		entry.handlers.OnConnect()
	}
	return nil
}

func (m *Manager) onEvent(entry *connectionEntry, packet Packet) {
	if packet.Event != EventHearMessage {
		m.logger.Debug("event ignored", slog.String("event", packet.Event))
		return
	}
	var raw message.RawEvent
	if err := json.Unmarshal(packet.Payload, &raw); err != nil {
		m.logger.Warn(
			"event payload dropped",
			slog.Int64("chatroom_id", entry.handle.ChatroomID),
			slog.String("event", packet.Event),
			slog.Any("error", err),
		)
		return
	}
	if entry.handlers.OnMessage != nil {
		entry.handlers.OnMessage(raw)
	}
}

func (m *Manager) teardown(entry *connectionEntry, cause error) {
	chatroomID := entry.handle.ChatroomID
	m.mu.Lock()
	if m.connections[chatroomID] == entry {
		delete(m.connections, chatroomID)
	}
	explicit := entry.closed
	entry.state = StateClosed
	m.mu.Unlock()

	_ = entry.conn.Close()
	if explicit {
		return
	}
	m.logger.Info("channel disconnected", slog.Int64("chatroom_id", chatroomID), slog.Any("error", cause))
	if entry.handlers.OnDisconnect != nil {
		entry.handlers.OnDisconnect(cause)
	}
}
