// Package mention detects and strips mentions addressed to the bot.
package mention

import (
	"fmt"
	"regexp"
)

// Filter removes mentions of a single bot identity from message text.
// It is safe for concurrent use.
type Filter struct {
	botID   string
	pattern *regexp.Regexp
}

// New compiles a filter for the given bot user ID.
// Both the plain (<@id>) and legacy nickname (<@!id>) forms are matched,
// together with any whitespace that follows, including U+3000.
func New(botID string) (*Filter, error) {
	if botID == "" {
		return nil, fmt.Errorf("bot id is required")
	}

	pattern, err := regexp.Compile(`<@!?` + regexp.QuoteMeta(botID) + `>[\s\x{3000}]*`)
	if err != nil {
		return nil, fmt.Errorf("failed to compile mention pattern: %w", err)
	}

	return &Filter{
		botID:   botID,
		pattern: pattern,
	}, nil
}

// BotID returns the identity the filter was built for.
func (f *Filter) BotID() string {
	return f.botID
}

// Strip removes every mention of the bot, not only a leading one. Removal
// repeats until none is left, so a mention split around another one
// ("<@<@id>id>") does not survive.
func (f *Filter) Strip(text string) string {
	for f.pattern.MatchString(text) {
		text = f.pattern.ReplaceAllLiteralString(text, "")
	}
	return text
}

// Mentions reports whether text addresses the bot.
func (f *Filter) Mentions(text string) bool {
	return f.pattern.MatchString(text)
}
