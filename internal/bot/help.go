package bot

import (
	"fmt"
	"strings"
)

var helpTopics = map[string]string{
	"seen":    "%[1]sseen <nick>: when and where I last saw <nick> talking in a channel.",
	"uptime":  "%[1]suptime: how long I've been running.",
	"shorten": "%[1]sshorten <url> [<url> ...]: shortened versions of the given URLs.",
	"info":    "%[1]sinfo: who I am and where I'm running.",
	"help":    "%[1]shelp [topic]: this help. Topics: %[2]s.",
	"eval":    "%[1]seval <code>: runs <code> in a sandbox for at most 5 seconds and shows the output.",
}

// HelpTopics lists the topics !help knows about, in display order.
var HelpTopics = []string{"seen", "uptime", "shorten", "info", "help", "eval"}

// Help returns the !help reply for topic. An empty or unknown topic gets
// the overview.
func Help(prefix, topic string) string {
	topic = strings.TrimPrefix(strings.ToLower(topic), prefix)
	text, ok := helpTopics[topic]
	if !ok {
		cmds := make([]string, len(HelpTopics))
		for i, t := range HelpTopics {
			cmds[i] = prefix + t
		}
		return fmt.Sprintf("Commands: %s. Try %shelp <topic> for details.", strings.Join(cmds, ", "), prefix)
	}
	return fmt.Sprintf(text, prefix, strings.Join(HelpTopics, ", "))
}
