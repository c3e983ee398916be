package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/user/fancybot/internal/gateway"
	"github.com/user/fancybot/internal/pipeline"
	"github.com/user/fancybot/internal/router"
	"github.com/user/fancybot/internal/types"
)

type sent struct {
	Target string
	Text   string
}

type fakeTransport struct {
	mu      sync.Mutex
	replies []sent
	quit    string
	handle  func(types.ChatEvent)
	started chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{started: make(chan struct{})}
}

func (f *fakeTransport) Start(ctx context.Context, handle func(types.ChatEvent)) error {
	f.mu.Lock()
	f.handle = handle
	f.mu.Unlock()
	close(f.started)
	<-ctx.Done()
	return nil
}

func (f *fakeTransport) Reply(target, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, sent{target, text})
	return nil
}

func (f *fakeTransport) Nick() string          { return "fancybot" }
func (f *fakeTransport) Join(string) error     { return nil }
func (f *fakeTransport) Quit(msg string) error { f.mu.Lock(); f.quit = msg; f.mu.Unlock(); return nil }

func (f *fakeTransport) sent() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.replies...)
}

type fakeLog struct {
	mu     sync.Mutex
	events []types.ChatEvent
	closed bool
	err    error
}

func (l *fakeLog) Record(ev types.ChatEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return l.err
}

func (l *fakeLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

type fakeEvaluator struct{}

func (fakeEvaluator) Evaluate(ctx context.Context, code string) string { return "=> " + code }

type fakeShortener struct{ short string }

func (s fakeShortener) ShortenAll(ctx context.Context, text string) string { return s.short }

type fakeBuilder struct {
	mu   sync.Mutex
	urls []string
	err  error
	sum  *pipeline.Summary
	busy bool
}

func (b *fakeBuilder) Run(ctx context.Context, url string, report func(string)) (*pipeline.Summary, error) {
	b.mu.Lock()
	b.urls = append(b.urls, url)
	b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	report("compile failed with 1 error(s):")
	report("error: undefined symbol 'foo'")
	return b.sum, nil
}

func (b *fakeBuilder) Busy() bool { return b.busy }

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestBot(t *testing.T, c Components) (*Bot, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	b := New(Config{
		InfoText:     "This is FancyBot",
		ReportTarget: "#fancy",
		Router:       router.Config{TriggerSender: "ci-hook", TriggerMarker: "[fancy]"},
	}, tr, c)
	b.now = func() time.Time { return t0 }
	b.started = t0
	return b, tr
}

func say(sender, text string) types.ChatEvent {
	return types.ChatEvent{Kind: types.KindChannel, Sender: sender, Channel: "#fancy", Target: "#fancy", Text: text, At: t0}
}

func TestSeen(t *testing.T) {
	b, tr := newTestBot(t, Components{})

	b.HandleEvent(say("bob", "hello there"))
	b.HandleEvent(say("alice", "!seen bob"))
	b.HandleEvent(say("alice", "!seen carol"))
	b.HandleEvent(say("alice", "!seen fancybot"))
	b.HandleEvent(say("alice", "!seen alice"))

	want := []sent{
		{"#fancy", "[Fri Mar  1 12:00:00 2024] bob was seen in #fancy saying hello there"},
		{"#fancy", "Sorry, I haven't seen carol"},
		{"#fancy", "That's me!"},
		{"#fancy", "That's you!"},
	}
	if diff := cmp.Diff(want, tr.sent()); diff != "" {
		t.Errorf("replies mismatch (-want +got):\n%s", diff)
	}
}

func TestSeenLastWriteWins(t *testing.T) {
	b, _ := newTestBot(t, Components{})
	b.HandleEvent(say("bob", "first"))
	b.HandleEvent(say("bob", "second"))

	rec, ok := b.Seen().Lookup("bob")
	if !ok || rec.What != "second" {
		t.Errorf("expected last message, got %+v", rec)
	}
}

func TestUptimeInfoHelp(t *testing.T) {
	b, tr := newTestBot(t, Components{})
	b.now = func() time.Time { return t0.Add(3*time.Minute + 7*time.Second) }

	b.HandleEvent(say("alice", "!uptime"))
	b.HandleEvent(types.ChatEvent{Kind: types.KindDirect, Sender: "alice", Target: "alice", Text: "!info"})
	b.HandleEvent(say("alice", "!help seen"))

	got := tr.sent()
	if len(got) != 3 {
		t.Fatalf("expected 3 replies, got %v", got)
	}
	if got[0].Text != "I'm running since 2024-03-01 12:00:00 +0000, which is 00:03:07" {
		t.Errorf("unexpected uptime %q", got[0].Text)
	}
	if got[1] != (sent{"alice", "This is FancyBot"}) {
		t.Errorf("unexpected info reply %+v", got[1])
	}
	if !strings.HasPrefix(got[2].Text, "!seen <nick>") {
		t.Errorf("unexpected help %q", got[2].Text)
	}
}

func TestFormatUptimeWrapsAtOneDay(t *testing.T) {
	got := FormatUptime(t0, t0.Add(25*time.Hour+time.Minute+2*time.Second))
	if !strings.HasSuffix(got, "which is 01:01:02") {
		t.Errorf("expected wrapped clock, got %q", got)
	}
}

func TestShorten(t *testing.T) {
	b, tr := newTestBot(t, Components{Shortener: fakeShortener{short: "http://tiny/x"}})
	b.HandleEvent(say("alice", "!shorten http://example.com"))

	if diff := cmp.Diff([]sent{{"#fancy", "http://tiny/x"}}, tr.sent()); diff != "" {
		t.Errorf("replies mismatch (-want +got):\n%s", diff)
	}
}

func TestShortenSilentWhenNothingShortened(t *testing.T) {
	b, tr := newTestBot(t, Components{Shortener: fakeShortener{}})
	b.HandleEvent(say("alice", "!shorten http://example.com"))

	if got := tr.sent(); len(got) != 0 {
		t.Errorf("expected no reply, got %v", got)
	}
}

func TestActivityLogIncludesOwnReplies(t *testing.T) {
	log := &fakeLog{}
	b, _ := newTestBot(t, Components{Log: log})

	b.HandleEvent(types.ChatEvent{Kind: types.KindJoin, Sender: "bob", Channel: "#fancy", Text: "joined", At: t0})
	b.HandleEvent(say("alice", "!uptime"))
	b.HandleEvent(types.ChatEvent{Kind: types.KindDirect, Sender: "alice", Target: "alice", Text: "hi"})

	var kinds []types.EventKind
	for _, ev := range log.events {
		kinds = append(kinds, ev.Kind)
	}
	want := []types.EventKind{types.KindJoin, types.KindChannel, types.KindSelf}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("logged kinds mismatch (-want +got):\n%s", diff)
	}
	if log.events[2].Sender != "fancybot" {
		t.Errorf("expected own nick on self event, got %q", log.events[2].Sender)
	}
}

func TestActivityLogErrorDoesNotStopHandlers(t *testing.T) {
	log := &fakeLog{err: errors.New("disk full")}
	b, tr := newTestBot(t, Components{Log: log})

	b.HandleEvent(say("alice", "!uptime"))

	if got := tr.sent(); len(got) != 1 {
		t.Errorf("expected uptime reply despite log failure, got %v", got)
	}
}

func TestEvalRunsOnQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	queue := gateway.NewQueue(1)
	b, tr := newTestBot(t, Components{Evaluator: fakeEvaluator{}, Queue: queue})
	queue.Start(context.Background())
	defer queue.Stop(time.Second)

	b.HandleEvent(say("alice", "!eval 2 + 2"))
	if !queue.WaitIdle(2 * time.Second) {
		t.Fatal("queue did not go idle")
	}

	if diff := cmp.Diff([]sent{{"#fancy", "=> 2 + 2"}}, tr.sent()); diff != "" {
		t.Errorf("replies mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildTriggerReportsToChannel(t *testing.T) {
	defer goleak.VerifyNone(t)

	builder := &fakeBuilder{sum: &pipeline.Summary{FailedAt: pipeline.StepCompile}}
	queue := gateway.NewQueue(1)
	b, tr := newTestBot(t, Components{Builder: builder, Queue: queue})
	queue.Start(context.Background())
	defer queue.Stop(time.Second)

	b.HandleEvent(say("mallory", "[fancy] pushed https://github.com/x/y/compare/1...2"))
	b.HandleEvent(say("ci-hook", "[fancy] pushed https://github.com/x/y/compare/1...2"))
	if !queue.WaitIdle(2 * time.Second) {
		t.Fatal("queue did not go idle")
	}

	if diff := cmp.Diff([]string{"https://github.com/x/y/compare/1...2"}, builder.urls); diff != "" {
		t.Errorf("builds mismatch (-want +got):\n%s", diff)
	}
	want := []sent{
		{"#fancy", "compile failed with 1 error(s):"},
		{"#fancy", "error: undefined symbol 'foo'"},
	}
	if diff := cmp.Diff(want, tr.sent()); diff != "" {
		t.Errorf("replies mismatch (-want +got):\n%s", diff)
	}
}

func TestTriggerBuildBusy(t *testing.T) {
	defer goleak.VerifyNone(t)

	builder := &fakeBuilder{err: pipeline.ErrBusy}
	queue := gateway.NewQueue(1)
	b, tr := newTestBot(t, Components{Builder: builder, Queue: queue})
	queue.Start(context.Background())
	defer queue.Stop(time.Second)

	if err := b.TriggerBuild("http://change/1", ""); err != nil {
		t.Fatal(err)
	}
	if !queue.WaitIdle(2 * time.Second) {
		t.Fatal("queue did not go idle")
	}

	got := tr.sent()
	if len(got) != 1 || got[0].Target != "#fancy" || !strings.Contains(got[0].Text, "already running") {
		t.Errorf("unexpected replies %v", got)
	}
}

func TestChatBuildWhileBusyAnswersImmediately(t *testing.T) {
	builder := &fakeBuilder{busy: true}
	queue := gateway.NewQueue(1)
	b, tr := newTestBot(t, Components{Builder: builder, Queue: queue})

	b.HandleEvent(say("ci-hook", "[fancy] 1 new commit: http://change/2"))

	got := tr.sent()
	want := []sent{{"#fancy", "A build is already running, skipping http://change/2."}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("replies mismatch (-want +got):\n%s", diff)
	}
	if queue.Pending() != 0 {
		t.Errorf("expected nothing queued, got %d", queue.Pending())
	}
	if len(builder.urls) != 0 {
		t.Errorf("expected no pipeline run, got %v", builder.urls)
	}

	if err := b.TriggerBuild("http://change/3", ""); !errors.Is(err, pipeline.ErrBusy) {
		t.Errorf("expected pipeline.ErrBusy, got %v", err)
	}
}

func TestTriggerBuildWithoutBuilder(t *testing.T) {
	b, _ := newTestBot(t, Components{})
	if err := b.TriggerBuild("http://change/1", "#fancy"); err == nil {
		t.Error("expected error without a builder")
	}
}

func TestRunStopsCleanly(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := &fakeLog{}
	b, tr := newTestBot(t, Components{Log: log})

	ctx, cancel := context.WithCancel(context.Background())
	serviceStopped := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Run(ctx, func(ctx context.Context) error {
			<-ctx.Done()
			close(serviceStopped)
			return nil
		})
	}()

	<-tr.started
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean exit, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	<-serviceStopped
	if tr.quit != quitMessage {
		t.Errorf("expected quit message, got %q", tr.quit)
	}
	if !log.closed {
		t.Error("expected activity log to be closed")
	}
}

func TestRunReturnsServiceError(t *testing.T) {
	defer goleak.VerifyNone(t)

	b, _ := newTestBot(t, Components{})
	err := b.Run(context.Background(), func(ctx context.Context) error {
		return errors.New("listen: address in use")
	})
	if err == nil || !strings.Contains(err.Error(), "address in use") {
		t.Errorf("expected service error, got %v", err)
	}
}

func TestHelpOverview(t *testing.T) {
	got := Help("!", "")
	if !strings.Contains(got, "!seen") || !strings.Contains(got, "!eval") {
		t.Errorf("overview missing commands: %q", got)
	}
	if Help("!", "nonsense") != got {
		t.Error("unknown topic should fall back to the overview")
	}
	if !strings.HasPrefix(Help("!", "!uptime"), "!uptime:") {
		t.Errorf("prefixed topic not recognised: %q", Help("!", "!uptime"))
	}
	if !strings.Contains(Help(".", "help"), "Topics: seen, uptime") {
		t.Errorf("unexpected help topic text %q", Help(".", "help"))
	}
}
