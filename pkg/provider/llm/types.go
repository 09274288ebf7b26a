package llm

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single message in a chat request.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// UserText builds the single-turn request the voice pipeline sends for one
// transcribed utterance.
func UserText(systemPrompt, text string) Request {
	return Request{
		SystemPrompt: systemPrompt,
		Messages:     []Message{{Role: RoleUser, Content: text}},
	}
}
