//go:build integration

package bot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/user/fancybot/internal/chatlog"
	"github.com/user/fancybot/internal/classify"
	"github.com/user/fancybot/internal/gateway"
	"github.com/user/fancybot/internal/pipeline"
	"github.com/user/fancybot/internal/procrun"
	"github.com/user/fancybot/internal/router"
	"github.com/user/fancybot/internal/sandbox"
	"github.com/user/fancybot/internal/types"
)

func TestEndToEnd(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	runner := procrun.New()

	evaluator, err := sandbox.New(runner, sandbox.Config{
		Command:   `echo "%s"`,
		Blacklist: []string{},
	})
	if err != nil {
		t.Fatal(err)
	}

	pipe := pipeline.New(runner, classify.GNU(), pipeline.Config{
		Dir: dir,
		Commands: pipeline.Commands{
			Clean:   "true",
			Compile: `echo "make[1]: Entering directory '/src'" >&2; echo "error: undefined symbol 'foo'" >&2; exit 1`,
			Test:    "echo 'FAILED: never runs'",
		},
		StepTimeout: 10 * time.Second,
	})

	activity := chatlog.New(chatlog.Config{Dir: filepath.Join(dir, "logs")})
	queue := gateway.NewQueue(1)
	tr := newFakeTransport()

	b := New(Config{
		Router:       router.Config{TriggerSender: "ci-hook", TriggerMarker: "[fancy]"},
		InfoText:     "This is FancyBot",
		ReportTarget: "#fancy",
	}, tr, Components{
		Log:       activity,
		Evaluator: evaluator,
		Builder:   pipe,
		Queue:     queue,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	<-tr.started

	now := time.Now()
	for _, ev := range []types.ChatEvent{
		{Kind: types.KindChannel, Sender: "bob", Channel: "#fancy", Target: "#fancy", Text: "hi all", At: now},
		{Kind: types.KindChannel, Sender: "alice", Channel: "#fancy", Target: "#fancy", Text: "!eval hello", At: now},
		{Kind: types.KindChannel, Sender: "ci-hook", Channel: "#fancy", Target: "#fancy", Text: "[fancy] push http://change/1", At: now},
	} {
		tr.handle(ev)
	}

	if !queue.WaitIdle(15 * time.Second) {
		t.Fatal("queue did not go idle")
	}
	logPath := activity.CurrentPath()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	var texts []string
	for _, s := range tr.sent() {
		texts = append(texts, s.Text)
	}
	joined := strings.Join(texts, "\n")
	for _, want := range []string{"=> hello", "compile failed with 1 error(s):", "error: undefined symbol 'foo'"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing reply %q in:\n%s", want, joined)
		}
	}
	if strings.Contains(joined, "Entering directory") || strings.Contains(joined, "never runs") {
		t.Errorf("unexpected reply in:\n%s", joined)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "bob: hi all") || !strings.Contains(string(data), "fancybot: => hello") {
		t.Errorf("activity log missing entries:\n%s", data)
	}
}
