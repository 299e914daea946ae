package chat

// Window returns the last n turns of turns, or all of them when there are
// fewer than n.
func Window(turns []ChatTurn, n int) []ChatTurn {
	if n <= 0 || len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

// History is a sliding window over the most recent conversation turns.
// It is not safe for concurrent use; Session serializes access.
type History struct {
	window int
	turns  []ChatTurn
}

// NewHistory creates a History retaining at most window turns.
func NewHistory(window int) *History {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &History{window: window}
}

// Append adds a turn, dropping the oldest when the window is full.
func (h *History) Append(t ChatTurn) {
	h.turns = append(h.turns, t)
	if len(h.turns) > h.window {
		h.turns = append([]ChatTurn(nil), h.turns[len(h.turns)-h.window:]...)
	}
}

// Load replaces the history with previously saved turns, keeping only the
// most recent window of them.
func (h *History) Load(turns []ChatTurn) {
	h.turns = append([]ChatTurn(nil), Window(turns, h.window)...)
}

// Turns returns a copy of the retained turns, oldest first.
func (h *History) Turns() []ChatTurn {
	return append([]ChatTurn(nil), h.turns...)
}

// Len returns the number of retained turns.
func (h *History) Len() int { return len(h.turns) }

// Last returns the newest turn.
func (h *History) Last() (ChatTurn, bool) {
	if len(h.turns) == 0 {
		return ChatTurn{}, false
	}
	return h.turns[len(h.turns)-1], true
}
