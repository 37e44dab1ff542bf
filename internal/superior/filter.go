// Package superior projects a timeline down to the messages of the
// chatroom's commander.
package superior

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/meerkat-chat/meerkat/internal/message"
	"github.com/meerkat-chat/meerkat/internal/notice"
)

// ErrLookupFailure is returned when the commander cannot be determined.
var ErrLookupFailure = errors.New("superior lookup failed")

// CommanderLookup resolves the top-ranked participant of a chatroom.
type CommanderLookup interface {
	Commander(ctx context.Context, chatroomID int64) (int64, error)
}

// Resolution is the outcome of a commander lookup.
type Resolution struct {
	CommanderID int64
	Err         error
}

// Degraded reports whether the lookup failed and the fallback applies.
func (r Resolution) Degraded() bool {
	return r.Err != nil
}

// Projection is the filtered view. Notice is set when the fallback applied.
type Projection struct {
	Messages []message.Message
	Degraded bool
	Notice   *notice.Notice
}

// Filter computes superior-only projections.
type Filter struct {
	lookup CommanderLookup
	sink   notice.Sink
	logger *slog.Logger
}

// NewFilter creates a filter. A nil sink discards notices.
func NewFilter(log *slog.Logger, lookup CommanderLookup, sink notice.Sink) *Filter {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = notice.Discard
	}
	return &Filter{
		lookup: lookup,
		sink:   sink,
		logger: log.With(slog.String("component", "superior")),
	}
}

// Resolve looks up the commander of chatroomID. Failures are wrapped in
// ErrLookupFailure and reported to the sink once per call.
func (f *Filter) Resolve(ctx context.Context, chatroomID int64) Resolution {
	var (
		id  int64
		err error
	)
	if f.lookup == nil {
		err = errors.New("no commander lookup configured")
	} else {
		id, err = f.lookup.Commander(ctx, chatroomID)
	}
	if err == nil && id == 0 {
		err = errors.New("empty commander id")
	}
	if err != nil {
		err = fmt.Errorf("%w: chatroom %d: %w", ErrLookupFailure, chatroomID, err)
		f.logger.Warn("commander lookup failed", slog.Int64("chatroom_id", chatroomID), slog.Any("error", err))
		f.sink.Notify(FallbackNotice())
		return Resolution{Err: err}
	}
	return Resolution{CommanderID: id}
}

// Project resolves the commander and applies the projection.
func (f *Filter) Project(ctx context.Context, msgs []message.Message, chatroomID, viewerID int64) Projection {
	return Apply(msgs, f.Resolve(ctx, chatroomID), viewerID)
}

// Apply projects msgs under a resolution. On success only the commander's
// messages remain. On failure the viewer's own messages are hidden and every
// other message is kept unchanged.
func Apply(msgs []message.Message, res Resolution, viewerID int64) Projection {
	if res.Degraded() {
		n := FallbackNotice()
		return Projection{
			Messages: excludeSender(msgs, viewerID),
			Degraded: true,
			Notice:   &n,
		}
	}
	return Projection{Messages: onlySender(msgs, res.CommanderID)}
}

// FallbackNotice is raised when the commander lookup fails.
func FallbackNotice() notice.Notice {
	return notice.Notice{Kind: notice.KindAlert, Text: notice.TextSuperiorFallback}
}

// EnabledNotice is raised when the superior-only view is switched on.
func EnabledNotice() notice.Notice {
	return notice.Notice{Kind: notice.KindInfo, Text: notice.TextSuperiorOnly}
}

func onlySender(msgs []message.Message, senderID int64) []message.Message {
	out := make([]message.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.SenderID == senderID {
			out = append(out, m)
		}
	}
	return out
}

func excludeSender(msgs []message.Message, senderID int64) []message.Message {
	out := make([]message.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.SenderID != senderID {
			out = append(out, m)
		}
	}
	return out
}
