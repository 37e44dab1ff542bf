package message

import (
	"time"

	"github.com/meerkat-chat/meerkat/internal/roster"
)

// RemovalState is the visibility stage of a message under the removal countdown.
type RemovalState int

const (
	Active RemovalState = iota
	Degraded
	Removed
)

func (s RemovalState) String() string {
	switch s {
	case Active:
		return "active"
	case Degraded:
		return "degraded"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Source records which path delivered a message into the store.
type Source string

const (
	SourceHistory Source = "history"
	SourcePush    Source = "push"
	SourceLocal   Source = "local"
)

// ReplyValue is the value carried by a quick-reply option.
type ReplyValue string

const (
	ReplyReport     ReplyValue = "REPORT"
	ReplyCheck      ReplyValue = "CHECK"
	ReplyStatistics ReplyValue = "STATISTICS"
)

// QuickReplyKindRadio is the only quick-reply presentation used by all-clear messages.
const QuickReplyKindRadio = "radio"

// QuickReplyOption is one tappable choice.
type QuickReplyOption struct {
	Label string     `json:"label"`
	Value ReplyValue `json:"value"`
}

// QuickReplySet is the reply affordance attached to an all-clear message.
type QuickReplySet struct {
	Kind       string             `json:"kind"`
	Persistent bool               `json:"persistent"`
	Options    []QuickReplyOption `json:"options"`
}

// Values returns the option values in display order.
func (s *QuickReplySet) Values() []ReplyValue {
	if s == nil {
		return nil
	}
	values := make([]ReplyValue, 0, len(s.Options))
	for _, opt := range s.Options {
		values = append(values, opt.Value)
	}
	return values
}

func (s *QuickReplySet) clone() *QuickReplySet {
	if s == nil {
		return nil
	}
	out := *s
	out.Options = append([]QuickReplyOption(nil), s.Options...)
	return &out
}

// AllClearQuickReplies builds the viewer-relative reply set for an all-clear
// message. The sender gets Report and Check; every other viewer gets Statistics.
func AllClearQuickReplies(viewerID, senderID int64) *QuickReplySet {
	set := &QuickReplySet{Kind: QuickReplyKindRadio, Persistent: true}
	if viewerID == senderID {
		set.Options = []QuickReplyOption{
			{Label: "보고", Value: ReplyReport},
			{Label: "보고내용 확인", Value: ReplyCheck},
		}
		return set
	}
	set.Options = []QuickReplyOption{
		{Label: "통계 확인", Value: ReplyStatistics},
	}
	return set
}

// Message is the canonical timeline entry.
type Message struct {
	ID           string          `json:"id"`
	SenderID     int64           `json:"senderId"`
	Sender       roster.Identity `json:"sender"`
	Text         string          `json:"text"`
	CreatedAt    time.Time       `json:"createdAt"`
	QuickReplies *QuickReplySet  `json:"quickReplies,omitempty"`
	RemovalState RemovalState    `json:"removalState"`
	Source       Source          `json:"source"`
}

// Clone returns a copy that shares no mutable state with m.
func (m Message) Clone() Message {
	m.QuickReplies = m.QuickReplies.clone()
	return m
}

// RawEvent is the wire payload of server:hearMessage, also used for REST
// history rows and local sends before normalization.
type RawEvent struct {
	ID              string    `json:"_id"`
	Text            string    `json:"text"`
	SenderID        int64     `json:"senderId"`
	SendTime        time.Time `json:"sendTime"`
	HasQuickReplies bool      `json:"hasQuickReplies"`
}
