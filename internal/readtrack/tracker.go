// Package readtrack reports read progress for a chatroom and lists the
// participants that have not read a message.
package readtrack

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/meerkat-chat/meerkat/internal/api"
	"github.com/meerkat-chat/meerkat/internal/roster"
)

// Client is the REST surface the tracker needs.
type Client interface {
	SetRecentRead(ctx context.Context, req api.SetRecentReadRequest) error
	Unread(ctx context.Context, messageID string) ([]roster.User, error)
}

// Tracker coalesces read receipts. At most one receipt is sent per interval;
// receipts arriving in between replace each other and wait for Flush.
type Tracker struct {
	client     Client
	chatroomID int64
	limiter    *rate.Limiter
	logger     *slog.Logger

	mu       sync.Mutex
	lastSent string
	pending  string
}

// NewTracker creates a tracker allowing one receipt per interval.
func NewTracker(log *slog.Logger, client Client, chatroomID int64, interval time.Duration) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Tracker{
		client:     client,
		chatroomID: chatroomID,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     log.With(slog.String("component", "readtrack")),
	}
}

// MarkRead records messageID as read. It reports whether a receipt was sent
// now; a throttled receipt is kept as pending.
func (t *Tracker) MarkRead(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	t.mu.Lock()
	if messageID == t.lastSent {
		t.mu.Unlock()
		return false, nil
	}
	if !t.limiter.Allow() {
		t.pending = messageID
		t.mu.Unlock()
		return false, nil
	}
	t.pending = ""
	t.mu.Unlock()
	return true, t.send(ctx, messageID)
}

// Flush sends the pending receipt, if any.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	messageID := t.pending
	t.pending = ""
	t.mu.Unlock()
	if messageID == "" {
		return nil
	}
	return t.send(ctx, messageID)
}

// Pending returns the receipt waiting to be flushed.
func (t *Tracker) Pending() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Unread lists participants that have not read messageID.
func (t *Tracker) Unread(ctx context.Context, messageID string) ([]roster.Identity, error) {
	users, err := t.client.Unread(ctx, messageID)
	if err != nil {
		return nil, err
	}
	snapshot := roster.Build(users)
	out := make([]roster.Identity, 0, snapshot.Len())
	for _, id := range snapshot.IDs() {
		identity, _ := snapshot.Lookup(id)
		out = append(out, identity)
	}
	return out, nil
}

func (t *Tracker) send(ctx context.Context, messageID string) error {
	err := t.client.SetRecentRead(ctx, api.SetRecentReadRequest{ChatroomID: t.chatroomID, MessageID: messageID})
	if err != nil {
		t.logger.Warn("read receipt failed", slog.String("message_id", messageID), slog.Any("error", err))
		t.mu.Lock()
		if t.pending == "" {
			t.pending = messageID
		}
		t.mu.Unlock()
		return err
	}
	t.mu.Lock()
	t.lastSent = messageID
	t.mu.Unlock()
	return nil
}
