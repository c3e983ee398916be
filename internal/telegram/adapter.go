// Package telegram runs the bot on a Telegram chat. Group and supergroup
// chats play the role of channels; private chats are direct messages.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/user/fancybot/internal/types"
)

const (
	maxTelegramMessage = 4096
	// replyTimeout bounds the rate-limit wait for one Reply. Replies do not
	// share the polling context so reports still go out while the bot drains.
	replyTimeout = 2 * time.Minute
)

// ErrInvalidTarget is returned by Reply for targets that are not chat IDs.
var ErrInvalidTarget = errors.New("invalid telegram target")

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter implements types.Transport on the Telegram bot API.
type Adapter struct {
	bot     *tgbotapi.BotAPI
	send    sender
	nick    string
	limiter *rate.Limiter
}

var _ types.Transport = (*Adapter)(nil)

// New connects to Telegram with token. Outgoing messages are limited to
// perSecond (default 1).
func New(token string, perSecond float64) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := newAdapter(bot, bot.Self.UserName, perSecond)
	a.bot = bot
	return a, nil
}

func newAdapter(s sender, nick string, perSecond float64) *Adapter {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &Adapter{
		send:    s,
		nick:    nick,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

// Nick returns the bot's Telegram username.
func (a *Adapter) Nick() string { return a.nick }

// Start long-polls for updates and hands every chat event to handle until
// ctx is cancelled.
func (a *Adapter) Start(ctx context.Context, handle func(types.ChatEvent)) error {
	if a.bot == nil {
		return errors.New("telegram bot not connected")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)
	slog.Info("telegram polling started", "nick", a.nick)

	for {
		select {
		case update := <-updates:
			msg := update.Message
			if msg == nil {
				msg = update.ChannelPost
			}
			for _, ev := range toEvents(msg, a.nick) {
				handle(ev)
			}
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return nil
		}
	}
}

// Join is a no-op: bots are added to chats by their members.
func (a *Adapter) Join(channel string) error {
	slog.Debug("telegram join ignored", "channel", channel)
	return nil
}

// Quit stops polling.
func (a *Adapter) Quit(message string) error {
	if a.bot != nil {
		a.bot.StopReceivingUpdates()
	}
	slog.Info("telegram transport quit", "message", message)
	return nil
}

// Reply sends text to the chat whose ID is target, split into messages
// Telegram accepts and paced by the rate limiter.
func (a *Adapter) Reply(target, text string) error {
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}

	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()

	for _, part := range splitMessage(text) {
		if err := a.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
		if _, err := a.send.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

// toEvents maps one Telegram message to the chat events it represents.
func toEvents(msg *tgbotapi.Message, self string) []types.ChatEvent {
	if msg == nil || msg.Chat == nil {
		return nil
	}
	target := strconv.FormatInt(msg.Chat.ID, 10)
	at := msg.Time()

	if msg.Chat.IsPrivate() {
		if msg.Text == "" {
			return nil
		}
		return []types.ChatEvent{{
			Kind:   types.KindDirect,
			Sender: senderName(msg),
			Target: target,
			Text:   msg.Text,
			At:     at,
		}}
	}

	channel := channelName(msg.Chat)
	base := types.ChatEvent{Channel: channel, Target: target, At: at}

	var out []types.ChatEvent
	for _, u := range msg.NewChatMembers {
		ev := base
		ev.Kind = types.KindJoin
		ev.Sender = userName(&u)
		ev.Text = "joined " + channel
		out = append(out, ev)
	}
	if msg.LeftChatMember != nil {
		ev := base
		ev.Kind = types.KindPart
		ev.Sender = userName(msg.LeftChatMember)
		ev.Text = "left " + channel
		out = append(out, ev)
	}
	if msg.Text != "" {
		ev := base
		ev.Kind = types.KindChannel
		ev.Sender = senderName(msg)
		ev.Text = msg.Text
		if ev.Sender == self {
			ev.Kind = types.KindSelf
		}
		out = append(out, ev)
	}
	return out
}

func channelName(chat *tgbotapi.Chat) string {
	switch {
	case chat.UserName != "":
		return "@" + chat.UserName
	case chat.Title != "":
		return chat.Title
	}
	return strconv.FormatInt(chat.ID, 10)
}

func senderName(msg *tgbotapi.Message) string {
	if msg.From != nil {
		return userName(msg.From)
	}
	if msg.SenderChat != nil {
		return channelName(msg.SenderChat)
	}
	if msg.AuthorSignature != "" {
		return msg.AuthorSignature
	}
	return channelName(msg.Chat)
}

func userName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	return u.FirstName
}

// splitMessage cuts text into parts of at most maxTelegramMessage bytes,
// never inside a UTF-8 sequence.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > maxTelegramMessage {
		end := maxTelegramMessage
		for end > 0 && !utf8.RuneStart(text[end]) {
			end--
		}
		if end == 0 {
			end = maxTelegramMessage
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}
