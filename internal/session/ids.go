package session

import "github.com/google/uuid"

func newMessageID() string {
	return uuid.NewString()
}
