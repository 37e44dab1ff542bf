// Package channel manages the push connection of a chatroom session.
//
// A Manager keeps at most one live subscription per chatroom. The wire
// protocol is Socket.IO v5 over an Engine.IO v4 websocket; the transport is
// pluggable so tests can drive the manager without a network.
package channel

import (
	"context"
	"errors"

	"github.com/meerkat-chat/meerkat/internal/message"
)

// Push channel event names.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventJoinChatroom = "client:joinChatroom"
	EventHearMessage  = "server:hearMessage"
	EventSendMessage  = "client:sendMessage"
)

var (
	// ErrNotOpen is returned when emitting on a handle that is not connected.
	ErrNotOpen = errors.New("channel not open")
	// ErrClosed is returned when a subscription was closed while it was being opened.
	ErrClosed = errors.New("channel closed")
)

// State is the connection state of one chatroom subscription.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Handlers are bound once per subscription. They run on the connection's
// read goroutine and must not block.
type Handlers struct {
	OnConnect    func()
	OnMessage    func(raw message.RawEvent)
	OnDisconnect func(cause error)
}

// Handle identifies an open subscription.
type Handle struct {
	ChatroomID int64
	seq        uint64
}

// OutboundMessage is the payload of client:sendMessage.
type OutboundMessage struct {
	ID              string `json:"_id"`
	ChatroomID      int64  `json:"chatroomId"`
	Text            string `json:"text"`
	HasQuickReplies bool   `json:"hasQuickReplies"`
}

// Conn is a framed, bidirectional text connection.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	Close() error
}

// Transport dials the push endpoint for a chatroom.
type Transport interface {
	Dial(ctx context.Context, chatroomID int64) (Conn, error)
}
