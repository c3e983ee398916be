// internal/types/interfaces.go
package types

import (
	"context"
)

// Transport is the chat connection the bot runs on. Start blocks, calling
// handle for every inbound event, until ctx is cancelled.
type Transport interface {
	Start(ctx context.Context, handle func(ChatEvent)) error
	Reply(target, text string) error
	Nick() string
	Join(channel string) error
	Quit(message string) error
}
