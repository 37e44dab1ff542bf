package backend

import (
	"log/slog"

	"github.com/meerkat-chat/meerkat/internal/roster"
)

// DemoChatroomID is the room seeded by Demo.
const DemoChatroomID int64 = 1

// Demo returns a store seeded with one chatroom and its members.
func Demo(log *slog.Logger) *Store {
	s := NewStore(log)
	for _, u := range []roster.User{
		{UserID: 1, Name: "대대장"},
		{UserID: 2, Name: "작전장교"},
		{UserID: 3, Name: "당직사관"},
		{UserID: 4, Name: "당직병"},
	} {
		s.AddUser(u)
	}
	s.AddChatroom(Chatroom{
		ID:          DemoChatroomID,
		Name:        "대대 상황실",
		CommanderID: 1,
		Members:     []int64{1, 2, 3, 4},
	})
	_, _ = s.Post(DemoChatroomID, 3, "seed-1", "금일 당직 근무 시작합니다.", false)
	_, _ = s.Post(DemoChatroomID, 1, "seed-2", "특이사항 발생 시 즉시 보고 바랍니다.", false)
	return s
}
