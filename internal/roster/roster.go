// Package roster holds the participant identity map of a chatroom session.
//
// A Map is an immutable snapshot built once from a roster fetch. A refresh
// produces a new Map; existing snapshots are never patched in place.
package roster

import "sort"

// User is one row of the participant roster as returned by
// GET /chatroom/getAllUsersInfo/{id}.
type User struct {
	UserID int64   `json:"userId"`
	Name   string  `json:"name"`
	Image  *string `json:"image"`
}

// Identity is the display identity attached to messages.
type Identity struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar,omitempty"`
}

// Map is a read-only id -> Identity snapshot. The zero value is an empty map.
type Map struct {
	byID map[int64]Identity
}

// Build creates a snapshot from roster rows. Later rows with a duplicate id
// replace earlier ones.
func Build(users []User) Map {
	byID := make(map[int64]Identity, len(users))
	for _, u := range users {
		identity := Identity{ID: u.UserID, DisplayName: u.Name}
		if u.Image != nil {
			identity.Avatar = *u.Image
		}
		byID[u.UserID] = identity
	}
	return Map{byID: byID}
}

// Lookup returns the identity for id.
func (m Map) Lookup(id int64) (Identity, bool) {
	identity, ok := m.byID[id]
	return identity, ok
}

// Len reports the number of known participants.
func (m Map) Len() int {
	return len(m.byID)
}

// Empty reports whether the snapshot has no participants. Components that
// depend on sender identity must not start while the map is empty.
func (m Map) Empty() bool {
	return len(m.byID) == 0
}

// IDs returns participant ids in ascending order.
func (m Map) IDs() []int64 {
	ids := make([]int64, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
