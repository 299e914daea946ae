package chat

import (
	"fmt"
	"testing"
)

func TestHistory_KeepsLastWindow(t *testing.T) {
	h := NewHistory(10)
	for i := 0; i < 15; i++ {
		h.Append(ChatTurn{Role: RoleUser, Content: fmt.Sprintf("m%d", i)})
	}
	turns := h.Turns()
	if len(turns) != 10 {
		t.Fatalf("expected 10 turns, got %d", len(turns))
	}
	if turns[0].Content != "m5" || turns[9].Content != "m14" {
		t.Errorf("expected m5..m14, got %s..%s", turns[0].Content, turns[9].Content)
	}
}

func TestHistory_DefaultWindow(t *testing.T) {
	h := NewHistory(0)
	for i := 0; i < DefaultHistoryWindow+3; i++ {
		h.Append(ChatTurn{Role: RoleAssistant, Content: "x"})
	}
	if h.Len() != DefaultHistoryWindow {
		t.Errorf("expected %d, got %d", DefaultHistoryWindow, h.Len())
	}
}

func TestHistory_LoadTruncates(t *testing.T) {
	var saved []ChatTurn
	for i := 0; i < 12; i++ {
		saved = append(saved, ChatTurn{Role: RoleUser, Content: fmt.Sprintf("s%d", i)})
	}
	h := NewHistory(10)
	h.Load(saved)
	if h.Len() != 10 {
		t.Fatalf("expected 10 turns after load, got %d", h.Len())
	}
	last, ok := h.Last()
	if !ok || last.Content != "s11" {
		t.Errorf("expected newest turn s11, got %+v", last)
	}

	saved[11].Content = "mutated"
	if last, _ := h.Last(); last.Content != "s11" {
		t.Error("history must not alias the loaded slice")
	}
}

func TestHistory_TurnsIsCopy(t *testing.T) {
	h := NewHistory(3)
	h.Append(ChatTurn{Role: RoleUser, Content: "a"})
	turns := h.Turns()
	turns[0].Content = "b"
	if got := h.Turns()[0].Content; got != "a" {
		t.Errorf("expected a, got %s", got)
	}
}

func TestWindow(t *testing.T) {
	turns := []ChatTurn{{Content: "1"}, {Content: "2"}, {Content: "3"}}
	if got := Window(turns, 2); len(got) != 2 || got[0].Content != "2" {
		t.Errorf("unexpected window %v", got)
	}
	if got := Window(turns, 5); len(got) != 3 {
		t.Errorf("expected all turns, got %v", got)
	}
}
