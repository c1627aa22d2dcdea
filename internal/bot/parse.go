package bot

import (
	"regexp"
	"strings"

	"whistleblower/internal/subscription"
)

// CommandKind identifies what an app-directed message asks for.
type CommandKind string

// Supported command kinds.
const (
	CommandHelp      CommandKind = "help"
	CommandSubscribe CommandKind = "subscribe"
	CommandPurge     CommandKind = "purge"
	CommandGetConfig CommandKind = "get_config"
)

const (
	phrasesMarker  = "listen for phrases"
	channelsMarker = "in channels"
	channelPrefix  = "<#C"
)

var mentionRe = regexp.MustCompile(`(?s)^\s*<@([WU][^>]*)>(.*)$`)

// Command is a parsed app-directed message.
type Command struct {
	Kind     CommandKind
	Phrases  []string
	Channels []string
}

// ParseCommand parses the text of a message addressed to the bot.
// Keywords are matched case-insensitively. Anything it does not recognise
// is a help request.
//
// A subscribe request looks like:
//
//	listen for phrases:
//	&gt; foo bar
//	&gt; foozah
//	in channels: <#C1|ops> <#C2|dev>
func ParseCommand(text string) Command {
	text = StripMention(text)

	if phrases, channels := splitSubscribe(text); len(phrases) > 0 && len(channels) > 0 {
		return Command{Kind: CommandSubscribe, Phrases: phrases, Channels: channels}
	}

	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "purge config"):
		return Command{Kind: CommandPurge}
	case strings.Contains(lower, "get config"):
		return Command{Kind: CommandGetConfig}
	default:
		return Command{Kind: CommandHelp}
	}
}

// StripMention removes a leading user mention token such as "<@U123>".
func StripMention(text string) string {
	if m := mentionRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[2])
	}
	return strings.TrimSpace(text)
}

// splitSubscribe splits at the last channels marker after the phrases marker,
// so quoted phrases may themselves contain "in channels".
func splitSubscribe(text string) (phrases, channels []string) {
	lower := strings.ToLower(text)
	start := strings.Index(lower, phrasesMarker)
	if start < 0 {
		return nil, nil
	}
	start += len(phrasesMarker)
	i := strings.LastIndex(lower[start:], channelsMarker)
	if i < 0 {
		return nil, nil
	}
	i += start

	for _, line := range strings.Split(text[start:i], "\n") {
		line = strings.TrimLeft(line, " \t")
		if strings.HasPrefix(line, subscription.QuotePrefix) {
			phrases = append(phrases, line)
		}
	}
	for _, tok := range strings.Fields(text[i+len(channelsMarker):]) {
		if strings.HasPrefix(tok, channelPrefix) {
			channels = append(channels, tok)
		}
	}
	return phrases, channels
}
