// Package router turns inbound chat events into typed commands.
//
// The router is a static table of rules checked in declaration order.
// Every rule that matches contributes a command, so one message can yield
// several (recording activity for !seen and answering a !seen query are
// independent). Routing has no side effects.
package router

import (
	"regexp"
	"slices"
	"strings"

	"github.com/user/fancybot/internal/types"
)

// CommandKind tags a Command.
type CommandKind string

const (
	CmdLog        CommandKind = "log"
	CmdRecordSeen CommandKind = "record-seen"
	CmdSeen       CommandKind = "seen"
	CmdShorten    CommandKind = "shorten"
	CmdUptime     CommandKind = "uptime"
	CmdInfo       CommandKind = "info"
	CmdHelp       CommandKind = "help"
	CmdEval       CommandKind = "eval"
	CmdBuild      CommandKind = "build"
)

// Command is one handler invocation. Arg holds the parsed argument: the
// nick for CmdSeen, the raw text for CmdShorten, the topic for CmdHelp,
// the code for CmdEval and the change URL for CmdBuild.
type Command struct {
	Kind  CommandKind
	Arg   string
	Event types.ChatEvent
}

// Rule is one entry of the dispatch table. A rule matches an event of one
// of its Kinds when Exact equals the text, Pattern matches it (capture
// group 1 becomes the argument), or Match accepts it. A rule with none of
// the three matches every event of its kinds.
//
// When RequiresPrefix is set the text must start with Prefix, and Exact
// and Pattern are matched against the text after it.
type Rule struct {
	Name           string
	Kinds          []types.EventKind
	Prefix         string
	RequiresPrefix bool
	Exact          string
	Pattern        *regexp.Regexp
	Match          func(ev types.ChatEvent) (string, bool)
	Command        CommandKind
}

func (r Rule) apply(ev types.ChatEvent) (Command, bool) {
	if !slices.Contains(r.Kinds, ev.Kind) {
		return Command{}, false
	}
	text := ev.Text
	if r.RequiresPrefix {
		rest, ok := strings.CutPrefix(text, r.Prefix)
		if !ok {
			return Command{}, false
		}
		text = rest
	}
	cmd := Command{Kind: r.Command, Event: ev}
	switch {
	case r.Exact != "":
		return cmd, strings.TrimSpace(text) == r.Exact
	case r.Pattern != nil:
		m := r.Pattern.FindStringSubmatch(text)
		if m == nil {
			return Command{}, false
		}
		if len(m) > 1 {
			cmd.Arg = strings.TrimSpace(m[1])
		}
		return cmd, true
	case r.Match != nil:
		arg, ok := r.Match(ev)
		cmd.Arg = arg
		return cmd, ok
	}
	return cmd, true
}

// Config parameterises the rule table.
type Config struct {
	// Prefix starts every user command. Defaults to "!".
	Prefix string
	// TriggerSender is the only identity whose notifications start a build.
	// Builds from chat are disabled when empty.
	TriggerSender string
	// TriggerMarker must appear in the notification text.
	TriggerMarker string
}

var (
	channelOnly = []types.EventKind{types.KindChannel}
	anyMessage  = []types.EventKind{types.KindChannel, types.KindDirect}
	loggable    = []types.EventKind{types.KindChannel, types.KindJoin, types.KindPart, types.KindQuit, types.KindSelf}
	urlPattern  = regexp.MustCompile(`https?://\S+`)
)

// Router holds the compiled rule table.
type Router struct {
	rules []Rule
}

// New compiles the rule table for cfg.
func New(cfg Config) *Router {
	p := cfg.Prefix
	if p == "" {
		p = "!"
	}
	command := func(r Rule) Rule {
		r.Prefix = p
		r.RequiresPrefix = true
		return r
	}

	rules := []Rule{
		{Name: "log", Kinds: loggable, Command: CmdLog},
		{Name: "record-seen", Kinds: channelOnly, Command: CmdRecordSeen},
		command(Rule{Name: "seen", Kinds: channelOnly, Pattern: regexp.MustCompile(`^seen (.+)`), Command: CmdSeen}),
		command(Rule{Name: "shorten", Kinds: channelOnly, Pattern: regexp.MustCompile(`^shorten (.+)$`), Command: CmdShorten}),
		command(Rule{Name: "uptime", Kinds: anyMessage, Exact: "uptime", Command: CmdUptime}),
		command(Rule{Name: "info", Kinds: anyMessage, Exact: "info", Command: CmdInfo}),
		command(Rule{Name: "help", Kinds: anyMessage, Pattern: regexp.MustCompile(`^help(?:\s+(\S+))?\s*$`), Command: CmdHelp}),
		// (?s) keeps multi-line snippets whole.
		command(Rule{Name: "eval", Kinds: anyMessage, Pattern: regexp.MustCompile(`(?s)^eval (.+)$`), Command: CmdEval}),
	}
	if cfg.TriggerSender != "" {
		rules = append(rules, Rule{
			Name:    "build",
			Kinds:   anyMessage,
			Match:   buildTrigger(cfg.TriggerSender, cfg.TriggerMarker),
			Command: CmdBuild,
		})
	}
	return &Router{rules: rules}
}

func buildTrigger(sender, marker string) func(types.ChatEvent) (string, bool) {
	return func(ev types.ChatEvent) (string, bool) {
		if ev.Sender != sender || !strings.Contains(ev.Text, marker) {
			return "", false
		}
		url := urlPattern.FindString(ev.Text)
		return url, url != ""
	}
}

// Rules returns the table in match order.
func (r *Router) Rules() []Rule {
	return slices.Clone(r.rules)
}

// Route returns the commands ev triggers, in rule order.
func (r *Router) Route(ev types.ChatEvent) []Command {
	var out []Command
	for _, rule := range r.rules {
		if cmd, ok := rule.apply(ev); ok {
			out = append(out, cmd)
		}
	}
	return out
}
