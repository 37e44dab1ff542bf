// Package backend is an in-memory chatroom backend used by the development
// server and integration tests.
package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/meerkat-chat/meerkat/internal/api"
	"github.com/meerkat-chat/meerkat/internal/message"
	"github.com/meerkat-chat/meerkat/internal/roster"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrForbidden   = errors.New("forbidden")
	ErrInvalid     = errors.New("invalid request")
	ErrUnavailable = errors.New("backend unavailable")
)

// Fault names an operation that can be forced to fail.
type Fault string

const (
	FaultChatroom  Fault = "chatroom"
	FaultRoster    Fault = "roster"
	FaultCommander Fault = "commander"
	FaultHistory   Fault = "history"
	FaultAllClear  Fault = "allclear"
)

// DefaultPageSize is used when a history request has no limit.
const DefaultPageSize = 50

// Chatroom is a room with its members.
type Chatroom struct {
	ID          int64
	Name        string
	CommanderID int64
	Members     []int64
}

// Response is a filed all-clear report.
type Response struct {
	UserID int64
	api.AllClearResponseRequest
	CreatedAt time.Time
}

type subscriber struct {
	fn func(message.RawEvent)
}

type room struct {
	info     Chatroom
	members  map[int64]struct{}
	messages []message.RawEvent
	reads    map[int64]int
	subs     map[*subscriber]struct{}
}

// Store holds users, rooms, messages and read progress.
type Store struct {
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	users     map[int64]roster.User
	rooms     map[int64]*room
	msgRoom   map[string]int64
	responses []Response
	faults    map[Fault]bool
}

// NewStore creates an empty store.
func NewStore(log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		logger:  log.With(slog.String("component", "backend")),
		now:     time.Now,
		users:   map[int64]roster.User{},
		rooms:   map[int64]*room{},
		msgRoom: map[string]int64{},
		faults:  map[Fault]bool{},
	}
}

// AddUser registers or replaces a user.
func (s *Store) AddUser(u roster.User) {
	s.mu.Lock()
	s.users[u.UserID] = u
	s.mu.Unlock()
}

// AddChatroom registers or replaces a room. Messages of a replaced room are kept.
func (s *Store) AddChatroom(c Chatroom) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rooms[c.ID]
	if r == nil {
		r = &room{reads: map[int64]int{}, subs: map[*subscriber]struct{}{}}
		s.rooms[c.ID] = r
	}
	r.info = c
	r.members = make(map[int64]struct{}, len(c.Members))
	for _, id := range c.Members {
		r.members[id] = struct{}{}
	}
}

// SetFault makes the named operation fail with ErrUnavailable while on.
func (s *Store) SetFault(f Fault, on bool) {
	s.mu.Lock()
	s.faults[f] = on
	s.mu.Unlock()
}

func (s *Store) faultLocked(f Fault) error {
	if s.faults[f] {
		return fmt.Errorf("%w: %s", ErrUnavailable, f)
	}
	return nil
}

func (s *Store) roomLocked(id int64) (*room, error) {
	r := s.rooms[id]
	if r == nil {
		return nil, fmt.Errorf("%w: chatroom %d", ErrNotFound, id)
	}
	return r, nil
}

// HasUser reports whether id is a registered user.
func (s *Store) HasUser(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[id]
	return ok
}

// IsMember reports whether userID belongs to chatroomID.
func (s *Store) IsMember(chatroomID, userID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.rooms[chatroomID]
	if r == nil {
		return false
	}
	_, ok := r.members[userID]
	return ok
}

// Chatroom returns room metadata.
func (s *Store) Chatroom(id int64) (api.Chatroom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.faultLocked(FaultChatroom); err != nil {
		return api.Chatroom{}, err
	}
	r, err := s.roomLocked(id)
	if err != nil {
		return api.Chatroom{}, err
	}
	return api.Chatroom{ID: r.info.ID, Name: r.info.Name, CommanderID: r.info.CommanderID}, nil
}

// Roster returns the members of a room ordered by id.
func (s *Store) Roster(id int64) ([]roster.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.faultLocked(FaultRoster); err != nil {
		return nil, err
	}
	r, err := s.roomLocked(id)
	if err != nil {
		return nil, err
	}
	return s.usersLocked(r.info.Members), nil
}

func (s *Store) usersLocked(ids []int64) []roster.User {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := make([]roster.User, 0, len(sorted))
	for _, id := range sorted {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	return out
}

// Commander returns the commander of a room.
func (s *Store) Commander(id int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.faultLocked(FaultCommander); err != nil {
		return 0, err
	}
	r, err := s.roomLocked(id)
	if err != nil {
		return 0, err
	}
	if r.info.CommanderID == 0 {
		return 0, fmt.Errorf("%w: chatroom %d has no commander", ErrNotFound, id)
	}
	return r.info.CommanderID, nil
}

// History returns up to limit messages older than before, oldest first. An
// empty before returns the newest page.
func (s *Store) History(id int64, before string, limit int) (api.HistoryPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.faultLocked(FaultHistory); err != nil {
		return api.HistoryPage{}, err
	}
	r, err := s.roomLocked(id)
	if err != nil {
		return api.HistoryPage{}, err
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	end := len(r.messages)
	if before != "" {
		end = indexOf(r.messages, before)
		if end < 0 {
			return api.HistoryPage{}, fmt.Errorf("%w: message %s", ErrNotFound, before)
		}
	}
	start := max(end-limit, 0)
	page := api.HistoryPage{Messages: append([]message.RawEvent{}, r.messages[start:end]...)}
	if start > 0 {
		page.NextBefore = r.messages[start].ID
	}
	return page, nil
}

// Post appends a message and broadcasts it to the room. Posting an id that
// already exists returns the stored message without a second broadcast.
func (s *Store) Post(chatroomID, senderID int64, id, text string, allClear bool) (message.RawEvent, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return message.RawEvent{}, fmt.Errorf("%w: message id is required", ErrInvalid)
	}
	s.mu.Lock()
	r, err := s.roomLocked(chatroomID)
	if err != nil {
		s.mu.Unlock()
		return message.RawEvent{}, err
	}
	if _, ok := r.members[senderID]; !ok {
		s.mu.Unlock()
		return message.RawEvent{}, fmt.Errorf("%w: user %d is not in chatroom %d", ErrForbidden, senderID, chatroomID)
	}
	if existingRoom, ok := s.msgRoom[id]; ok {
		existing := s.rooms[existingRoom].messages[indexOf(s.rooms[existingRoom].messages, id)]
		s.mu.Unlock()
		return existing, nil
	}
	raw := message.RawEvent{
		ID:              id,
		Text:            text,
		SenderID:        senderID,
		SendTime:        s.now().UTC(),
		HasQuickReplies: allClear,
	}
	r.messages = append(r.messages, raw)
	r.reads[senderID] = len(r.messages) - 1
	s.msgRoom[id] = chatroomID
	subs := make([]*subscriber, 0, len(r.subs))
	for sub := range r.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	s.logger.Debug("message posted", slog.Int64("chatroom_id", chatroomID), slog.String("message_id", id), slog.Int("subscribers", len(subs)))
	for _, sub := range subs {
		sub.fn(raw)
	}
	return raw, nil
}

// Subscribe registers fn for messages posted to a room. The returned
// function removes the subscription.
func (s *Store) Subscribe(chatroomID int64, fn func(message.RawEvent)) (func(), error) {
	sub := &subscriber{fn: fn}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.roomLocked(chatroomID)
	if err != nil {
		return nil, err
	}
	r.subs[sub] = struct{}{}
	return func() {
		s.mu.Lock()
		delete(r.subs, sub)
		s.mu.Unlock()
	}, nil
}

// SetRecentRead records read progress of userID. Progress never moves back.
func (s *Store) SetRecentRead(userID, chatroomID int64, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.roomLocked(chatroomID)
	if err != nil {
		return err
	}
	idx := indexOf(r.messages, messageID)
	if idx < 0 {
		return fmt.Errorf("%w: message %s", ErrNotFound, messageID)
	}
	if prev, ok := r.reads[userID]; !ok || idx > prev {
		r.reads[userID] = idx
	}
	return nil
}

// Unread lists room members whose read progress is before messageID.
func (s *Store) Unread(messageID string) ([]roster.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roomID, ok := s.msgRoom[messageID]
	if !ok {
		return nil, fmt.Errorf("%w: message %s", ErrNotFound, messageID)
	}
	r := s.rooms[roomID]
	idx := indexOf(r.messages, messageID)
	var ids []int64
	for _, member := range r.info.Members {
		if read, ok := r.reads[member]; ok && read >= idx {
			continue
		}
		ids = append(ids, member)
	}
	return s.usersLocked(ids), nil
}

// SubmitAllClear files a report for an all-clear message.
func (s *Store) SubmitAllClear(userID int64, req api.AllClearResponseRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.faultLocked(FaultAllClear); err != nil {
		return err
	}
	roomID, ok := s.msgRoom[req.MessageID]
	if !ok {
		return fmt.Errorf("%w: message %s", ErrNotFound, req.MessageID)
	}
	r := s.rooms[roomID]
	if !r.messages[indexOf(r.messages, req.MessageID)].HasQuickReplies {
		return fmt.Errorf("%w: message %s is not an all-clear message", ErrInvalid, req.MessageID)
	}
	s.responses = append(s.responses, Response{UserID: userID, AllClearResponseRequest: req, CreatedAt: s.now().UTC()})
	return nil
}

// Responses returns the reports filed for messageID.
func (s *Store) Responses(messageID string) []Response {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Response
	for _, r := range s.responses {
		if r.MessageID == messageID {
			out = append(out, r)
		}
	}
	return out
}

func indexOf(msgs []message.RawEvent, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}
