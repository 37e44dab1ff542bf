package api

import "github.com/meerkat-chat/meerkat/internal/message"

// Chatroom is the metadata returned by GET /chatroom/{id}.
type Chatroom struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	CommanderID int64  `json:"commanderId"`
}

// Commander is the payload of GET /chatroom/commander/{id}.
type Commander struct {
	UserID int64 `json:"userId"`
}

// HistoryPage is one page of chatroom history, oldest first. NextBefore is
// empty when no older messages remain.
type HistoryPage struct {
	Messages   []message.RawEvent `json:"messages"`
	NextBefore string             `json:"nextBefore,omitempty"`
}

// AllClearResponseType is the verdict of an all-clear report.
type AllClearResponseType string

const (
	AllClearClear   AllClearResponseType = "CLEAR"
	AllClearProblem AllClearResponseType = "PROBLEM"
)

// AllClearResponseRequest is the body of PUT /allclear/response/create.
type AllClearResponseRequest struct {
	MessageID            string               `json:"messageId"`
	AllClearResponseType AllClearResponseType `json:"allClearResponseType"`
	Content              string               `json:"content"`
}

// SetRecentReadRequest is the body of POST /messages/setRecentRead.
type SetRecentReadRequest struct {
	ChatroomID int64  `json:"chatroomId"`
	MessageID  string `json:"messageId"`
}

// Envelope wraps every REST response body.
type Envelope struct {
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}
