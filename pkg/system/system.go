package system

import "github.com/google/uuid"

// NewSessionID returns a random identifier for a transcode session or request.
func NewSessionID() string {
	return uuid.NewString()
}
