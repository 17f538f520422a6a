package session

import "github.com/google/uuid"

// NewID generates a new unique session id.
func NewID() string {
	return uuid.NewString()
}
