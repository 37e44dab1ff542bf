package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

type connectionEntry struct {
	handle   *Handle
	state    State
	handlers Handlers
	conn     Conn
	closed   bool
}

// Manager coordinates push subscriptions. Connection lifecycle lives in
// connection.go.
type Manager struct {
	transport Transport
	logger    *slog.Logger

	mu          sync.Mutex
	connections map[int64]*connectionEntry
	seq         uint64
}

// NewManager creates a Manager dialing through transport.
func NewManager(log *slog.Logger, transport Transport) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		transport:   transport,
		logger:      log.With(slog.String("component", "channel")),
		connections: map[int64]*connectionEntry{},
	}
}

// Open subscribes to chatroomID. While a subscription is connecting or open
// the existing handle is returned and handlers are not bound again.
func (m *Manager) Open(ctx context.Context, chatroomID int64, handlers Handlers) (*Handle, error) {
	m.mu.Lock()
	if existing := m.connections[chatroomID]; existing != nil {
		handle, state := existing.handle, existing.state
		m.mu.Unlock()
		m.logger.Debug("channel open reused", slog.Int64("chatroom_id", chatroomID), slog.String("state", state.String()))
		return handle, nil
	}
	m.seq++
	entry := &connectionEntry{
		handle:   &Handle{ChatroomID: chatroomID, seq: m.seq},
		state:    StateConnecting,
		handlers: handlers,
	}
	m.connections[chatroomID] = entry
	m.mu.Unlock()

	m.logger.Info("channel open", slog.Int64("chatroom_id", chatroomID))
	conn, err := m.transport.Dial(ctx, chatroomID)
	if err != nil {
		m.mu.Lock()
		if m.connections[chatroomID] == entry {
			delete(m.connections, chatroomID)
		}
		entry.state = StateClosed
		m.mu.Unlock()
		m.logger.Error("channel dial failed", slog.Int64("chatroom_id", chatroomID), slog.Any("error", err))
		return nil, fmt.Errorf("dial chatroom %d: %w", chatroomID, err)
	}

	m.mu.Lock()
	// Close may have run while we were dialing.
	if m.connections[chatroomID] != entry {
		m.mu.Unlock()
		_ = conn.Close()
		return nil, ErrClosed
	}
	entry.conn = conn
	m.mu.Unlock()

	go m.readLoop(entry)
	return entry.handle, nil
}

// Close tears down the subscription behind handle. OnDisconnect is not
// called for an explicit close. Closing an unknown or stale handle is a no-op.
func (m *Manager) Close(ctx context.Context, handle *Handle) error {
	if handle == nil {
		return nil
	}
	m.mu.Lock()
	entry := m.connections[handle.ChatroomID]
	if entry == nil || entry.handle != handle {
		m.mu.Unlock()
		return nil
	}
	delete(m.connections, handle.ChatroomID)
	entry.closed = true
	entry.state = StateClosed
	conn := entry.conn
	m.mu.Unlock()

	m.logger.Info("channel close", slog.Int64("chatroom_id", handle.ChatroomID))
	if conn == nil {
		return nil
	}
	if err := conn.WriteMessage(ctx, EncodeDisconnect()); err != nil {
		m.logger.Debug("channel disconnect frame failed", slog.Int64("chatroom_id", handle.ChatroomID), slog.Any("error", err))
	}
	return conn.Close()
}

// Emit sends an event on an open subscription.
func (m *Manager) Emit(ctx context.Context, handle *Handle, event string, payload any) error {
	if handle == nil {
		return ErrNotOpen
	}
	m.mu.Lock()
	entry := m.connections[handle.ChatroomID]
	if entry == nil || entry.handle != handle || entry.state != StateOpen {
		m.mu.Unlock()
		return ErrNotOpen
	}
	conn := entry.conn
	m.mu.Unlock()

	frame, err := EncodeEvent(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	if err := conn.WriteMessage(ctx, frame); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// Status returns the connection state for chatroomID.
func (m *Manager) Status(chatroomID int64) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry := m.connections[chatroomID]; entry != nil {
		return entry.state
	}
	return StateClosed
}

// CloseAll tears down every subscription.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.connections))
	for _, entry := range m.connections {
		handles = append(handles, entry.handle)
	}
	m.mu.Unlock()
	for _, h := range handles {
		if err := m.Close(ctx, h); err != nil {
			m.logger.Warn("channel close failed", slog.Int64("chatroom_id", h.ChatroomID), slog.Any("error", err))
		}
	}
}
