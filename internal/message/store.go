package message

import (
	"sort"
	"sync"
)

// Listener is notified after a message is inserted or merged.
type Listener func(msg Message, inserted bool)

type entry struct {
	msg Message
}

// Store is the deduplicated, ordered message collection of one chatroom
// session. Entries are kept sorted by CreatedAt; equal timestamps keep their
// first-insertion order.
type Store struct {
	mu      sync.RWMutex
	entries []entry
	ids     map[string]struct{}

	listenersMu sync.RWMutex
	listeners   []Listener
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{ids: map[string]struct{}{}}
}

// Subscribe registers a listener. Listeners run outside the store lock.
func (s *Store) Subscribe(fn Listener) {
	if fn == nil {
		return
	}
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenersMu.Unlock()
}

// Upsert inserts msg or merges it into the entry with the same id.
//
// On merge, CreatedAt, SenderID, Sender and Text of the stored entry are
// kept. QuickReplies already on the entry win over the incoming ones, and the
// removal state only moves forward. A local entry confirmed by the push
// channel or history takes the confirming source.
func (s *Store) Upsert(msg Message) (Message, bool) {
	msg = msg.Clone()

	s.mu.Lock()
	if _, ok := s.ids[msg.ID]; ok {
		idx := s.indexLocked(msg.ID)
		merged := mergeInto(s.entries[idx].msg, msg)
		s.entries[idx].msg = merged
		s.mu.Unlock()
		s.notify(merged.Clone(), false)
		return merged.Clone(), false
	}

	e := entry{msg: msg}
	// Insert after every entry with an equal or earlier timestamp so ties
	// keep first-insertion order.
	pos := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].msg.CreatedAt.After(msg.CreatedAt)
	})
	s.entries = append(s.entries, entry{})
	copy(s.entries[pos+1:], s.entries[pos:])
	s.entries[pos] = e
	s.ids[msg.ID] = struct{}{}
	s.mu.Unlock()

	s.notify(msg.Clone(), true)
	return msg.Clone(), true
}

func mergeInto(existing, incoming Message) Message {
	merged := existing
	if merged.QuickReplies == nil && incoming.QuickReplies != nil {
		merged.QuickReplies = incoming.QuickReplies
	}
	if incoming.RemovalState > merged.RemovalState {
		merged.RemovalState = incoming.RemovalState
	}
	if merged.Sender.ID == 0 && incoming.Sender.ID != 0 {
		merged.Sender = incoming.Sender
	}
	if merged.Source == SourceLocal && incoming.Source != "" && incoming.Source != SourceLocal {
		merged.Source = incoming.Source
	}
	return merged
}

func (s *Store) indexLocked(id string) int {
	for i := range s.entries {
		if s.entries[i].msg.ID == id {
			return i
		}
	}
	return -1
}

// All returns the timeline in order. The result is a copy.
func (s *Store) All() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.msg.Clone())
	}
	return out
}

// Get returns the message with id.
func (s *Store) Get(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.ids[id]; !ok {
		return Message{}, false
	}
	return s.entries[s.indexLocked(id)].msg.Clone(), true
}

// Len reports the number of stored messages, removed ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Oldest returns the earliest message in the timeline.
func (s *Store) Oldest() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return Message{}, false
	}
	return s.entries[0].msg.Clone(), true
}

// SetRemovalStates applies recomputed removal states by id and returns how
// many entries changed. Removed entries stay removed.
func (s *Store) SetRemovalStates(states map[string]RemovalState) int {
	if len(states) == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for i := range s.entries {
		next, ok := states[s.entries[i].msg.ID]
		current := s.entries[i].msg.RemovalState
		if !ok || next == current || current == Removed {
			continue
		}
		s.entries[i].msg.RemovalState = next
		changed++
	}
	return changed
}

// RetractLocal removes id while it is still an unconfirmed local send.
// Entries already confirmed by the push channel or history are kept.
func (s *Store) RetractLocal(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; !ok {
		return false
	}
	idx := s.indexLocked(id)
	if s.entries[idx].msg.Source != SourceLocal {
		return false
	}
	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	delete(s.ids, id)
	return true
}

func (s *Store) notify(msg Message, inserted bool) {
	s.listenersMu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(msg, inserted)
	}
}
