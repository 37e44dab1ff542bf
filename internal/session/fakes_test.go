package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/meerkat-chat/meerkat/internal/api"
	"github.com/meerkat-chat/meerkat/internal/channel"
	"github.com/meerkat-chat/meerkat/internal/message"
	"github.com/meerkat-chat/meerkat/internal/roster"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBackend struct {
	mu           sync.Mutex
	room         api.Chatroom
	users        []roster.User
	rosterErr    error
	commander    int64
	commanderErr error
	pages        map[string]api.HistoryPage
	submitted    []api.AllClearResponseRequest
	reads        []api.SetRecentReadRequest
	rosterCalls  int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		room:      api.Chatroom{ID: 7, Name: "ops", CommanderID: 1},
		users:     []roster.User{{UserID: 1, Name: "A"}, {UserID: 2, Name: "B"}, {UserID: 3, Name: "C"}},
		commander: 1,
		pages:     map[string]api.HistoryPage{},
	}
}

func (b *fakeBackend) Chatroom(context.Context, int64) (api.Chatroom, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.room, nil
}

func (b *fakeBackend) Roster(context.Context, int64) ([]roster.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rosterCalls++
	if b.rosterErr != nil {
		return nil, b.rosterErr
	}
	return append([]roster.User(nil), b.users...), nil
}

func (b *fakeBackend) Commander(context.Context, int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.commander, b.commanderErr
}

func (b *fakeBackend) History(_ context.Context, _ int64, before string, _ int) (api.HistoryPage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pages[before], nil
}

func (b *fakeBackend) SubmitAllClearResponse(_ context.Context, req api.AllClearResponseRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitted = append(b.submitted, req)
	return nil
}

func (b *fakeBackend) SetRecentRead(_ context.Context, req api.SetRecentReadRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads = append(b.reads, req)
	return nil
}

func (b *fakeBackend) Unread(context.Context, string) ([]roster.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.users[1:], nil
}

func (b *fakeBackend) readCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.reads)
}

// fakeChannel records subscriptions and lets tests drive the callbacks.
type fakeChannel struct {
	mu       sync.Mutex
	opens    int
	closes   int
	handle   *channel.Handle
	handlers channel.Handlers
	emitted  []channel.OutboundMessage
	openErr  error
}

func (c *fakeChannel) Open(_ context.Context, chatroomID int64, handlers channel.Handlers) (*channel.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return nil, c.openErr
	}
	if c.handle != nil {
		return c.handle, nil
	}
	c.opens++
	c.handle = &channel.Handle{ChatroomID: chatroomID}
	c.handlers = handlers
	return c.handle, nil
}

func (c *fakeChannel) Close(_ context.Context, handle *channel.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if handle == nil || handle != c.handle {
		return nil
	}
	c.closes++
	c.handle = nil
	return nil
}

func (c *fakeChannel) Emit(_ context.Context, handle *channel.Handle, event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if handle == nil || handle != c.handle {
		return channel.ErrNotOpen
	}
	if event != channel.EventSendMessage {
		return errors.New("unexpected event " + event)
	}
	c.emitted = append(c.emitted, payload.(channel.OutboundMessage))
	return nil
}

func (c *fakeChannel) current() channel.Handlers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers
}

// drop simulates a server-side disconnect.
func (c *fakeChannel) drop(cause error) {
	c.mu.Lock()
	handlers := c.handlers
	c.handle = nil
	c.mu.Unlock()
	if handlers.OnDisconnect != nil {
		handlers.OnDisconnect(cause)
	}
}

func (c *fakeChannel) counts() (opens, closes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens, c.closes
}

func (c *fakeChannel) lastEmitted() (channel.OutboundMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.emitted) == 0 {
		return channel.OutboundMessage{}, false
	}
	return c.emitted[len(c.emitted)-1], true
}

func raw(id string, sender int64, text string, ago time.Duration, allClear bool) message.RawEvent {
	return message.RawEvent{
		ID:              id,
		Text:            text,
		SenderID:        sender,
		SendTime:        time.Now().Add(-ago),
		HasQuickReplies: allClear,
	}
}
