// Package bot owns the chat-facing state and runs the handler for every
// command the router produces.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/fancybot/internal/gateway"
	"github.com/user/fancybot/internal/pipeline"
	"github.com/user/fancybot/internal/router"
	"github.com/user/fancybot/internal/seen"
	"github.com/user/fancybot/internal/types"
)

const (
	startLayout    = "2006-01-02 15:04:05 -0700"
	quitMessage    = "Bot is quitting"
	drainGrace     = 30 * time.Second
	shortenTimeout = 10 * time.Second
	skipMessage    = "A build is already running, skipping %s."
)

// ActivityLog receives every loggable event.
type ActivityLog interface {
	Record(ev types.ChatEvent) error
	Close() error
}

// Evaluator runs a code snippet and returns the chat reply.
type Evaluator interface {
	Evaluate(ctx context.Context, code string) string
}

// Builder runs the build pipeline for one change.
type Builder interface {
	Run(ctx context.Context, url string, report func(string)) (*pipeline.Summary, error)
	Busy() bool
}

// Shortener turns every URL in a text into its short form.
type Shortener interface {
	ShortenAll(ctx context.Context, text string) string
}

// Service is an extra long-running task started alongside the transport.
type Service func(ctx context.Context) error

// Config holds the chat-facing settings.
type Config struct {
	Router   router.Config
	InfoText string
	// ReportTarget receives build reports for builds not started from chat.
	ReportTarget string
}

// Components are the optional collaborators. A nil component disables the
// commands that need it.
type Components struct {
	Log       ActivityLog
	Evaluator Evaluator
	Builder   Builder
	Shortener Shortener
	Queue     *gateway.Queue
}

// Bot is the controller. HandleEvent must be called from a single goroutine;
// everything it offloads goes through the queue.
type Bot struct {
	cfg       Config
	transport types.Transport
	router    *router.Router
	seen      *seen.Tracker
	log       ActivityLog
	eval      Evaluator
	build     Builder
	shortener Shortener
	queue     *gateway.Queue
	retry     *gateway.RetryPolicy

	now     func() time.Time
	started time.Time
}

// New creates a Bot on transport.
func New(cfg Config, transport types.Transport, c Components) *Bot {
	q := c.Queue
	if q == nil {
		q = gateway.NewQueue(1)
	}
	b := &Bot{
		cfg:       cfg,
		transport: transport,
		router:    router.New(cfg.Router),
		seen:      seen.New(),
		log:       c.Log,
		eval:      c.Evaluator,
		build:     c.Builder,
		shortener: c.Shortener,
		queue:     q,
		retry:     gateway.DefaultRetryPolicy(),
		now:       time.Now,
	}
	b.started = b.now()
	return b
}

// Run connects the transport and blocks until ctx is cancelled or the
// transport or a service fails. On return the transport has quit, the
// queue is drained and the activity log is closed.
func (b *Bot) Run(ctx context.Context, services ...Service) error {
	b.started = b.now()
	// Jobs outlive ctx so Stop can drain them.
	b.queue.Start(context.WithoutCancel(ctx))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.transport.Start(gctx, b.HandleEvent)
	})
	for _, svc := range services {
		svc := svc
		g.Go(func() error { return svc(gctx) })
	}
	err := g.Wait()
	b.shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (b *Bot) shutdown() {
	if err := b.transport.Quit(quitMessage); err != nil {
		slog.Warn("transport quit failed", "error", err)
	}
	b.queue.Stop(drainGrace)
	if b.log != nil {
		if err := b.log.Close(); err != nil {
			slog.Error("closing activity log", "error", err)
		}
	}
	slog.Info("bot stopped")
}

// Started returns when the bot came up.
func (b *Bot) Started() time.Time { return b.started }

// Seen returns the tracker backing !seen.
func (b *Bot) Seen() *seen.Tracker { return b.seen }

// Nick returns the bot's identity on the transport.
func (b *Bot) Nick() string { return b.transport.Nick() }

// HandleEvent routes ev and runs every resulting command.
func (b *Bot) HandleEvent(ev types.ChatEvent) {
	if ev.At.IsZero() {
		ev.At = b.now()
	}
	for _, cmd := range b.router.Route(ev) {
		b.dispatch(cmd)
	}
}

func (b *Bot) dispatch(cmd router.Command) {
	ev := cmd.Event
	switch cmd.Kind {
	case router.CmdLog:
		b.record(ev)
	case router.CmdRecordSeen:
		b.seen.Record(ev.Sender, ev.Channel, ev.Text, ev.At)
	case router.CmdSeen:
		b.reply(ev, b.seen.Query(b.transport.Nick(), ev.Sender, cmd.Arg))
	case router.CmdShorten:
		b.handleShorten(ev, cmd.Arg)
	case router.CmdUptime:
		b.reply(ev, b.Uptime())
	case router.CmdInfo:
		b.reply(ev, b.cfg.InfoText)
	case router.CmdHelp:
		b.reply(ev, Help(b.prefix(), cmd.Arg))
	case router.CmdEval:
		b.handleEval(ev, cmd.Arg)
	case router.CmdBuild:
		err := b.TriggerBuild(cmd.Arg, ev.Target)
		switch {
		case errors.Is(err, pipeline.ErrBusy):
			slog.Info("build skipped, another is running", "url", cmd.Arg)
		case err != nil:
			slog.Error("build not queued", "url", cmd.Arg, "error", err)
		}
	default:
		slog.Warn("unhandled command", "kind", cmd.Kind)
	}
}

func (b *Bot) prefix() string {
	if b.cfg.Router.Prefix == "" {
		return "!"
	}
	return b.cfg.Router.Prefix
}

func (b *Bot) record(ev types.ChatEvent) {
	if b.log == nil {
		return
	}
	if err := b.log.Record(ev); err != nil {
		slog.Error("activity log write failed", "error", err)
	}
}

// Uptime formats the !uptime reply.
func (b *Bot) Uptime() string {
	return FormatUptime(b.started, b.now())
}

// FormatUptime renders the time since start as a wall-clock time of day,
// so the hours wrap every 24h.
func FormatUptime(start, now time.Time) string {
	clock := time.Unix(0, 0).UTC().Add(now.Sub(start)).Format("15:04:05")
	return fmt.Sprintf("I'm running since %s, which is %s", start.Format(startLayout), clock)
}

func (b *Bot) handleShorten(ev types.ChatEvent, text string) {
	if b.shortener == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shortenTimeout)
	defer cancel()
	if short := b.shortener.ShortenAll(ctx, text); short != "" {
		b.reply(ev, short)
	}
}

func (b *Bot) handleEval(ev types.ChatEvent, code string) {
	if b.eval == nil {
		return
	}
	job := gateway.NewJob(gateway.LaneEval, "eval", func(ctx context.Context) error {
		b.reply(ev, b.eval.Evaluate(ctx, code))
		return nil
	})
	if err := b.queue.Enqueue(job); err != nil {
		slog.Warn("eval not queued", "sender", ev.Sender, "error", err)
		b.reply(ev, "Sorry, I'm too busy right now.")
	}
}

// TriggerBuild queues a pipeline run for url with reports sent to target.
// An empty target means the configured report target. While a build is
// running the request is answered right away and pipeline.ErrBusy is
// returned.
func (b *Bot) TriggerBuild(url, target string) error {
	if b.build == nil {
		return errors.New("builds are not configured")
	}
	if target == "" {
		target = b.cfg.ReportTarget
	}
	dest := types.ChatEvent{Kind: types.KindChannel, Channel: target, Target: target}

	if b.build.Busy() {
		b.reply(dest, fmt.Sprintf(skipMessage, url))
		return fmt.Errorf("queue build: %w", pipeline.ErrBusy)
	}

	job := gateway.NewJob(gateway.LaneBuild, "build", func(ctx context.Context) error {
		return b.runBuild(ctx, url, dest)
	})
	if err := b.queue.Enqueue(job); err != nil {
		return fmt.Errorf("queue build: %w", err)
	}
	slog.Info("build queued", "url", url, "target", target)
	return nil
}

func (b *Bot) runBuild(ctx context.Context, url string, dest types.ChatEvent) error {
	report := func(line string) { b.reply(dest, line) }
	sum, err := b.build.Run(ctx, url, report)
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		report(fmt.Sprintf(skipMessage, url))
		return nil
	case err != nil:
		report("Sorry, the build could not be run.")
		return fmt.Errorf("build %s: %w", url, err)
	}
	if sum.OK() {
		report(fmt.Sprintf("Build of %s finished in %s.", url, sum.Duration.Round(time.Second)))
	}
	return nil
}

// reply sends text to where ev came from. Replies into a channel are
// logged as the bot's own activity.
func (b *Bot) reply(ev types.ChatEvent, text string) {
	if text == "" || ev.Target == "" {
		return
	}
	err := b.retry.Execute(context.Background(), func() error {
		return b.transport.Reply(ev.Target, text)
	})
	if err != nil {
		slog.Error("reply failed", "target", ev.Target, "error", err)
		return
	}
	if ev.Channel != "" {
		b.record(types.ChatEvent{
			Kind:    types.KindSelf,
			Sender:  b.transport.Nick(),
			Channel: ev.Channel,
			Target:  ev.Target,
			Text:    text,
			At:      b.now(),
		})
	}
}
