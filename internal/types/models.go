// internal/types/models.go
package types

import (
	"fmt"
	"time"
)

// EventKind classifies an inbound chat event.
type EventKind string

const (
	KindChannel EventKind = "channel"
	KindJoin    EventKind = "join"
	KindPart    EventKind = "part"
	KindQuit    EventKind = "quit"
	KindSelf    EventKind = "self"
	KindDirect  EventKind = "direct"
)

// ChatEvent is one inbound event delivered by a transport. Target is the
// transport-specific address that replies to this event should go to.
type ChatEvent struct {
	Kind    EventKind `json:"kind"`
	Sender  string    `json:"sender"`
	Channel string    `json:"channel,omitempty"`
	Target  string    `json:"target"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// SeenRecord is the last channel activity observed for one identity.
type SeenRecord struct {
	Who   string    `json:"who"`
	Where string    `json:"where"`
	What  string    `json:"what"`
	At    time.Time `json:"at"`
}

func (r SeenRecord) String() string {
	return fmt.Sprintf("[%s] %s was seen in %s saying %s", r.At.Format(time.ANSIC), r.Who, r.Where, r.What)
}
