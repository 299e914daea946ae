package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/medassist/medassist/internal/domain/chat"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	infoColor    = color.New(color.FgCyan)
	boldColor    = color.New(color.Bold)
	userColor    = color.New(color.FgBlue, color.Bold)
)

func printError(w io.Writer, format string, args ...interface{}) {
	errorColor.Fprintf(w, "✗ %s\n", fmt.Sprintf(format, args...))
}

func printWarning(w io.Writer, format string, args ...interface{}) {
	warningColor.Fprintf(w, "⚠ %s\n", fmt.Sprintf(format, args...))
}

func printInfo(w io.Writer, format string, args ...interface{}) {
	infoColor.Fprintf(w, "ℹ %s\n", fmt.Sprintf(format, args...))
}

// streamPrinter writes the growing assistant message to the terminal,
// printing only what was not printed before.
type streamPrinter struct {
	w       io.Writer
	printed string
}

func (p *streamPrinter) reset() {
	p.printed = ""
}

func (p *streamPrinter) update(msg chat.StreamedMessage) {
	if msg.Failed {
		return
	}
	content := msg.Content
	if !strings.HasPrefix(content, p.printed) {
		// The final content can drop framing whitespace already shown.
		if strings.HasPrefix(p.printed, content) {
			return
		}
		fmt.Fprint(p.w, "\n")
		p.printed = ""
	}
	if p.printed == "" && content != "" {
		boldColor.Fprint(p.w, "MedAssist: ")
	}
	fmt.Fprint(p.w, content[len(p.printed):])
	p.printed = content
}

func printSuggestions(w io.Writer, suggestions []string) {
	if len(suggestions) == 0 {
		return
	}
	infoColor.Fprintln(w, "\nSuggested follow-ups:")
	for i, s := range suggestions {
		fmt.Fprintf(w, "  %s %s\n", infoColor.Sprintf("[%d]", i+1), s)
	}
}

func confidenceString(level int) string {
	s := fmt.Sprintf("%d%%", level)
	switch {
	case level >= 70:
		return color.GreenString(s)
	case level >= 40:
		return color.YellowString(s)
	case level > 0:
		return color.RedString(s)
	}
	return color.HiBlackString("unknown")
}
