// Package quickreply maps quick-reply selections to navigation intents.
package quickreply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/meerkat-chat/meerkat/internal/message"
)

// ErrUnknownKind is returned for selections outside the known reply values.
var ErrUnknownKind = errors.New("unknown quick reply kind")

// IntentKind names the screen a selection navigates to.
type IntentKind string

const (
	OpenReportWorkflow     IntentKind = "OpenReportWorkflow"
	OpenMyReportWorkflow   IntentKind = "OpenMyReportWorkflow"
	OpenStatisticsWorkflow IntentKind = "OpenStatisticsWorkflow"
	OpenUnreadPeoples      IntentKind = "OpenUnreadPeoples"
	OpenChat               IntentKind = "OpenChat"
)

// Intent is a navigation request with its parameters.
type Intent struct {
	Kind         IntentKind
	ChatroomID   int64
	MessageID    string
	ActingUserID int64
}

// Selection is a tap on one quick-reply option.
type Selection struct {
	MessageID string
	Value     message.ReplyValue
}

// Resolve maps a selection to exactly one intent.
func Resolve(sel Selection, actingUserID, chatroomID int64) (Intent, error) {
	intent := Intent{ChatroomID: chatroomID, MessageID: sel.MessageID, ActingUserID: actingUserID}
	switch sel.Value {
	case message.ReplyReport:
		intent.Kind = OpenReportWorkflow
	case message.ReplyCheck:
		intent.Kind = OpenMyReportWorkflow
	case message.ReplyStatistics:
		intent.Kind = OpenStatisticsWorkflow
	default:
		return Intent{}, fmt.Errorf("%w: %q", ErrUnknownKind, sel.Value)
	}
	return intent, nil
}

// UnreadPeoples builds the intent for the unread-participants view of a message.
func UnreadPeoples(chatroomID int64, messageID string) Intent {
	return Intent{Kind: OpenUnreadPeoples, ChatroomID: chatroomID, MessageID: messageID}
}

// Chat builds the intent returning to the chatroom.
func Chat(chatroomID int64) Intent {
	return Intent{Kind: OpenChat, ChatroomID: chatroomID}
}

// Navigator performs a navigation intent.
type Navigator interface {
	Navigate(ctx context.Context, intent Intent) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, intent Intent) error

func (f NavigatorFunc) Navigate(ctx context.Context, intent Intent) error { return f(ctx, intent) }

// Handler resolves selections and forwards the intents.
type Handler struct {
	nav    Navigator
	logger *slog.Logger
}

// NewHandler creates a handler forwarding to nav.
func NewHandler(log *slog.Logger, nav Navigator) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{nav: nav, logger: log.With(slog.String("component", "quickreply"))}
}

// Select resolves sel and navigates. Unknown kinds are logged and returned
// without navigating.
func (h *Handler) Select(ctx context.Context, sel Selection, actingUserID, chatroomID int64) (Intent, error) {
	intent, err := Resolve(sel, actingUserID, chatroomID)
	if err != nil {
		h.logger.Warn("quick reply ignored",
			slog.String("message_id", sel.MessageID),
			slog.String("value", string(sel.Value)),
			slog.Any("error", err),
		)
		return Intent{}, err
	}
	if h.nav != nil {
		if err := h.nav.Navigate(ctx, intent); err != nil {
			return intent, fmt.Errorf("navigate %s: %w", intent.Kind, err)
		}
	}
	return intent, nil
}
