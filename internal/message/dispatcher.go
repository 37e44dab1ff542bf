package message

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/meerkat-chat/meerkat/internal/roster"
)

var (
	// ErrUnknownSender is returned when an event references a sender that is
	// not in the current roster snapshot.
	ErrUnknownSender = errors.New("unknown sender")
	// ErrInvalidEvent is returned for events without a message id.
	ErrInvalidEvent = errors.New("invalid message event")
)

// UnknownSenderError carries the ids of a dropped event.
type UnknownSenderError struct {
	MessageID string
	SenderID  int64
}

func (e *UnknownSenderError) Error() string {
	return fmt.Sprintf("unknown sender %d for message %s", e.SenderID, e.MessageID)
}

func (e *UnknownSenderError) Unwrap() error {
	return ErrUnknownSender
}

// Normalize converts a raw event into a canonical message. Quick replies are
// computed for viewerID rather than taken from the payload.
func Normalize(raw RawEvent, identities roster.Map, viewerID int64, source Source) (Message, error) {
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		return Message{}, ErrInvalidEvent
	}
	sender, ok := identities.Lookup(raw.SenderID)
	if !ok {
		return Message{}, &UnknownSenderError{MessageID: id, SenderID: raw.SenderID}
	}
	msg := Message{
		ID:           id,
		SenderID:     raw.SenderID,
		Sender:       sender,
		Text:         raw.Text,
		CreatedAt:    raw.SendTime,
		RemovalState: Active,
		Source:       source,
	}
	if raw.HasQuickReplies {
		msg.QuickReplies = AllClearQuickReplies(viewerID, raw.SenderID)
	}
	return msg, nil
}

// Dispatcher feeds normalized events from every delivery path into a Store.
type Dispatcher struct {
	store    *Store
	logger   *slog.Logger
	viewerID int64
	now      func() time.Time

	mu     sync.RWMutex
	roster roster.Map
}

// NewDispatcher creates a dispatcher for viewerID writing into store.
func NewDispatcher(log *slog.Logger, store *Store, viewerID int64) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		store:    store,
		logger:   log.With(slog.String("component", "dispatcher")),
		viewerID: viewerID,
		now:      time.Now,
	}
}

// SetRoster replaces the identity snapshot used for sender lookup.
func (d *Dispatcher) SetRoster(m roster.Map) {
	d.mu.Lock()
	d.roster = m
	d.mu.Unlock()
}

// Roster returns the current identity snapshot.
func (d *Dispatcher) Roster() roster.Map {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.roster
}

// ViewerID returns the acting user id quick replies are computed for.
func (d *Dispatcher) ViewerID() int64 {
	return d.viewerID
}

// Dispatch applies a push-channel event. Events from unknown senders are
// dropped and reported; the store is not touched.
func (d *Dispatcher) Dispatch(raw RawEvent) (Message, error) {
	if raw.SendTime.IsZero() {
		raw.SendTime = d.now()
	}
	return d.apply(raw, SourcePush)
}

// Seed applies a page of REST history and returns how many messages were new.
// Rows that fail normalization are skipped; their errors are joined.
func (d *Dispatcher) Seed(raws []RawEvent) (int, error) {
	inserted := 0
	var errs []error
	for _, raw := range raws {
		_, err := d.apply(raw, SourceHistory)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		inserted++
	}
	return inserted, errors.Join(errs...)
}

// LocalSend records an optimistic message sent by the viewer. The push echo
// with the same id later collapses into this entry.
func (d *Dispatcher) LocalSend(id, text string, allClear bool) (Message, error) {
	return d.apply(RawEvent{
		ID:              id,
		Text:            text,
		SenderID:        d.viewerID,
		SendTime:        d.now(),
		HasQuickReplies: allClear,
	}, SourceLocal)
}

func (d *Dispatcher) apply(raw RawEvent, source Source) (Message, error) {
	msg, err := Normalize(raw, d.Roster(), d.viewerID, source)
	if err != nil {
		d.logger.Warn(
			"message dropped",
			slog.String("message_id", raw.ID),
			slog.Int64("sender_id", raw.SenderID),
			slog.String("source", string(source)),
			slog.Any("error", err),
		)
		return Message{}, err
	}
	stored, inserted := d.store.Upsert(msg)
	if !inserted {
		d.logger.Debug("message merged", slog.String("message_id", stored.ID), slog.String("source", string(source)))
	}
	return stored, nil
}
