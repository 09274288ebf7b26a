package pipeline

import "strings"

// Mode selects where transcripts and replies are routed.
type Mode string

// ModeChat sends every transcript to the chat stage and every reply to
// synthesis.
const ModeChat Mode = "chat"

// ParseMode maps a configured mode name to a Mode. "conversational" and the
// empty string are aliases of chat. Unknown names fall back to chat and ok is
// false so the caller can warn.
func ParseMode(s string) (m Mode, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "chat", "conversational":
		return ModeChat, true
	default:
		return ModeChat, false
	}
}
