package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medassist/medassist/internal/domain/chat"
	"github.com/medassist/medassist/internal/domain/diagnosis"
)

const defaultServer = "http://localhost:8000"

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a running MedAssist server",
		RunE: func(cmd *cobra.Command, args []string) error {
			server, _ := cmd.Flags().GetString("server")
			category, _ := cmd.Flags().GetString("category")

			ctx, stop := context.WithCancel(cmd.Context())
			defer stop()
			return runChat(ctx, stop, server, category, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().String("server", defaultServer, "MedAssist server base URL")
	cmd.Flags().String("category", chat.DefaultCategory, "Health category for the conversation")
	return cmd
}

// runChat reads user lines from in until EOF or /quit. Ctrl-C cancels the
// reply in flight; pressed while idle it ends the session.
func runChat(ctx context.Context, stop context.CancelFunc, server, category string, in io.Reader, out io.Writer) error {
	printer := &streamPrinter{w: out}
	session := chat.NewSession(chat.NewClient(server, &http.Client{}), chat.SessionOptions{
		Category:      category,
		HistoryWindow: chat.DefaultHistoryWindow,
		MaxMessageLen: chat.DefaultMaxMessageLen,
		OnUpdate:      printer.update,
		Logger:        zerolog.Nop(),
	})

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT)
	defer signal.Stop(sigs)
	go func() {
		for {
			select {
			case <-sigs:
				if !session.Cancel() {
					stop()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	boldColor.Fprintf(out, "MedAssist chat (%s)\n", category)
	printInfo(out, "Type a question. /retry resends the last one, /quit exits, a number picks a suggestion.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	var suggestions []string
	for {
		userColor.Fprint(out, "\nYou: ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		var (
			msg chat.StreamedMessage
			err error
		)
		printer.reset()
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/retry":
			msg, err = session.Retry(ctx)
		default:
			if n, convErr := strconv.Atoi(line); convErr == nil && n >= 1 && n <= len(suggestions) {
				line = suggestions[n-1]
				userColor.Fprintf(out, "You: %s\n", line)
			}
			msg, err = session.Submit(ctx, line)
		}
		fmt.Fprintln(out)

		var vErr *chat.ValidationError
		switch {
		case err == nil:
			suggestions = msg.Suggestions
			printSuggestions(out, suggestions)
		case errors.Is(err, chat.ErrStreamCancelled):
			printWarning(out, "reply cancelled")
		case errors.Is(err, chat.ErrNothingToRetry):
			printWarning(out, "nothing to retry")
		case errors.As(err, &vErr):
			printError(out, "%s", vErr.Message)
		default:
			printError(out, "%s", chat.UserMessage(err))
		}
	}
}

func diagnoseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Submit symptoms for a preliminary AI analysis",
		RunE: func(cmd *cobra.Command, args []string) error {
			server, _ := cmd.Flags().GetString("server")
			symptoms, _ := cmd.Flags().GetString("symptoms")
			age, _ := cmd.Flags().GetInt("age")
			duration, _ := cmd.Flags().GetString("duration")
			category, _ := cmd.Flags().GetString("category")

			req := diagnosis.SubmitRequest{Symptoms: symptoms}
			if cmd.Flags().Changed("age") {
				req.Age = &age
			}
			if duration != "" {
				req.Duration = &duration
			}
			if category != "" {
				req.Category = &category
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			rec, err := submitDiagnosis(ctx, &http.Client{}, server, req)
			if err != nil {
				printError(os.Stderr, "%v", err)
				return err
			}
			printDiagnosis(os.Stdout, rec)
			return nil
		},
	}
	cmd.Flags().String("server", defaultServer, "MedAssist server base URL")
	cmd.Flags().String("symptoms", "", "Description of the symptoms")
	cmd.Flags().Int("age", 0, "Patient age in years")
	cmd.Flags().String("duration", "", "How long the symptoms have lasted")
	cmd.Flags().String("category", "", "Health category")
	_ = cmd.MarkFlagRequired("symptoms")
	return cmd
}

func submitDiagnosis(ctx context.Context, hc *http.Client, server string, req diagnosis.SubmitRequest) (*diagnosis.Record, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(server, "/")+"/api/v1/diagnoses", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post diagnosis: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var payload struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, payload.Message)
	}

	var rec diagnosis.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode diagnosis: %w", err)
	}
	return &rec, nil
}

func printDiagnosis(w io.Writer, rec *diagnosis.Record) {
	successColor.Fprintf(w, "✓ Diagnosis %s recorded (%s)\n\n", rec.ID, rec.Status)

	primary := rec.PrimaryDiagnosis
	if primary == "" {
		primary = "not identified"
	}
	fmt.Fprintf(w, "%s %s\n", boldColor.Sprint("Primary diagnosis:"), primary)
	fmt.Fprintf(w, "%s %s\n", boldColor.Sprint("Confidence:"), confidenceString(rec.ConfidenceLevel))

	if len(rec.Recommendations) > 0 {
		boldColor.Fprintln(w, "\nRecommendations:")
		for _, r := range rec.Recommendations {
			fmt.Fprintf(w, "  • %s\n", r)
		}
	}
	printSuggestions(w, rec.Suggestions)
	printWarning(w, "This is a preliminary AI analysis, not medical advice. A doctor must review it.")
}
