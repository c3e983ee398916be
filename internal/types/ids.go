// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

// RunID identifies one queued unit of work (an evaluation or a build).
type RunID string

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

// Short returns the first eight characters, enough to tell runs apart in chat.
func (id RunID) Short() string {
	if len(id) <= 8 {
		return string(id)
	}
	return string(id[:8])
}
