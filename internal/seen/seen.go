// Package seen remembers the last thing each identity said in a channel.
package seen

import (
	"fmt"
	"sync"
	"time"

	"github.com/user/fancybot/internal/types"
)

// Tracker maps identity -> last observed activity. Safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]types.SeenRecord
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{records: make(map[string]types.SeenRecord)}
}

// Record overwrites whatever was known about who.
func (t *Tracker) Record(who, where, what string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[who] = types.SeenRecord{Who: who, Where: where, What: what, At: at}
}

// Lookup returns the record for who.
func (t *Tracker) Lookup(who string) (types.SeenRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[who]
	return rec, ok
}

// Len returns the number of identities tracked.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Query answers "!seen who" asked by asker, where self is the bot's own nick.
func (t *Tracker) Query(self, asker, who string) string {
	switch who {
	case self:
		return "That's me!"
	case asker:
		return "That's you!"
	}
	if rec, ok := t.Lookup(who); ok {
		return rec.String()
	}
	return fmt.Sprintf("Sorry, I haven't seen %s", who)
}
