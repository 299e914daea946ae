package chat

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultCategory is used when a request names no health category.
	DefaultCategory = "General Health"

	// DefaultMaxMessageLen is the longest accepted user message, in
	// characters.
	DefaultMaxMessageLen = 5000

	// DefaultHistoryWindow is the number of turns kept in context.
	DefaultHistoryWindow = 10
)

const persona = `You are MedAssist, a knowledgeable and empathetic AI health assistant.
You help people understand symptoms, conditions, medications and healthy habits.
You never claim to diagnose, and you always encourage professional care when symptoms are severe, persistent or unclear.
If the user describes an emergency (chest pain, difficulty breathing, stroke signs, severe bleeding), tell them to contact emergency services immediately.`

const formatInstructions = `Formatting requirements:
- Use lightweight markup: short paragraphs, ## headings for sections, **bold** for key terms and "-" bullet lists.
- Include a short disclaimer stating that this is general information and not medical advice.
- End your reply with a section headed exactly "Follow-up Questions:" containing 3-4 bullet lines, each a short question the user might ask next.`

// PromptInput is everything the composer needs for one request.
type PromptInput struct {
	Message       string
	Category      string
	History       []ChatTurn
	MaxHistory    int
	MaxMessageLen int
}

// ValidateMessage checks that msg is non-blank and at most maxLen
// characters. A maxLen of zero means DefaultMaxMessageLen.
func ValidateMessage(msg string, maxLen int) error {
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLen
	}
	if strings.TrimSpace(msg) == "" {
		return &ValidationError{Field: "message", Message: "message is required"}
	}
	if utf8.RuneCountInString(msg) > maxLen {
		return &ValidationError{Field: "message", Message: "message is too long"}
	}
	return nil
}

// ComposePrompt renders the full instruction text sent to the generation
// backend: persona, category, the last MaxHistory turns, the current
// message and the formatting requirements.
func ComposePrompt(in PromptInput) (string, error) {
	if err := ValidateMessage(in.Message, in.MaxMessageLen); err != nil {
		return "", err
	}

	category := strings.TrimSpace(in.Category)
	if category == "" {
		category = DefaultCategory
	}
	maxHistory := in.MaxHistory
	if maxHistory <= 0 {
		maxHistory = DefaultHistoryWindow
	}

	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\nHealth category: ")
	b.WriteString(category)
	b.WriteString("\n\n")

	if turns := Window(in.History, maxHistory); len(turns) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, t := range turns {
			b.WriteString(t.Role.Label())
			b.WriteString(": ")
			b.WriteString(t.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("User: ")
	b.WriteString(in.Message)
	b.WriteString("\n\n")
	b.WriteString(formatInstructions)
	return b.String(), nil
}
