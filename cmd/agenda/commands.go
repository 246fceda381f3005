package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/agenda/internal/calendar"
	"github.com/scrypster/agenda/internal/ingest"
	"github.com/scrypster/agenda/internal/mcptools"
	"github.com/scrypster/agenda/internal/server"
	"github.com/scrypster/agenda/pkg/types"
)

func newSubmitCmd(opts *rootOptions) *cobra.Command {
	var (
		docID   string
		file    string
		subject string
		html    bool
	)

	cmd := &cobra.Command{
		Use:       "submit {syllabus|email|chat}",
		Short:     "Extract events and tasks from a document and store them as proposals",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"syllabus", "email", "chat"},
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := opts.requireOwner()
			if err != nil {
				return err
			}
			text, err := readInput(cmd, file)
			if err != nil {
				return err
			}

			var req types.ExtractionRequest
			switch args[0] {
			case "syllabus":
				req = ingest.SyllabusRequest(owner, docID, text)
			case "email":
				msg := ingest.EmailMessage{ID: docID, Subject: subject}
				if html {
					msg.HTMLBody = text
				} else {
					msg.TextBody = text
				}
				req = ingest.EmailRequest(owner, msg)
			case "chat":
				req = ingest.ChatRequest(owner, docID, parseTurns(text))
			default:
				return fmt.Errorf("unknown source kind %q", args[0])
			}

			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.pipeline.SubmitExtraction(cmd.Context(), req)
			if res == nil {
				return err
			}
			if encErr := writeJSON(cmd.OutOrStdout(), res); encErr != nil {
				return encErr
			}
			// Per-candidate failures: the rest of the batch was committed.
			return err
		},
	}
	cmd.Flags().StringVar(&docID, "doc-id", "", "source document, message or conversation id (required)")
	cmd.Flags().StringVarP(&file, "file", "f", "-", "input file, - for stdin")
	cmd.Flags().StringVar(&subject, "subject", "", "email subject")
	cmd.Flags().BoolVar(&html, "html", false, "treat the email body as HTML")
	_ = cmd.MarkFlagRequired("doc-id")
	return cmd
}

func newProposalsCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "proposals",
		Short: "List events and tasks awaiting review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := opts.requireOwner()
			if err != nil {
				return err
			}
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.Close()

			proposals, err := a.pipeline.ListProposals(cmd.Context(), owner, limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tID\tWHEN\tTITLE\tSOURCE")
			for _, p := range proposals {
				when := "-"
				if at := p.Anchor(); !at.IsZero() {
					when = at.Format(time.RFC3339)
				}
				title, source := proposalSummary(p)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.Kind, p.ID(), when, title, source)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of proposals")
	return cmd
}

func proposalSummary(p types.Proposal) (title, source string) {
	if p.Event != nil {
		return p.Event.Title, p.Event.SourceDocumentID
	}
	if p.Task != nil {
		return p.Task.Title, p.Task.SourceDocumentID
	}
	return "", ""
}

func newStatusCmd(opts *rootOptions, use, short string, status types.Status) *cobra.Command {
	return &cobra.Command{
		Use:   use + " {event|task} ID",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := opts.requireOwner()
			if err != nil {
				return err
			}
			kind := types.EntityKind(args[0])
			if !kind.IsValid() {
				return fmt.Errorf("kind must be event or task, got %q", args[0])
			}

			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.Close()

			prop, err := a.pipeline.SetStatus(cmd.Context(), owner, kind, args[1], status)
			if err != nil {
				return err
			}
			title, _ := proposalSummary(*prop)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %q is now %s\n", kind, args[1], title, status)
			return nil
		},
	}
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var from, to, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write proposed and confirmed entries as an iCalendar file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := opts.requireOwner()
			if err != nil {
				return err
			}
			start, err := parseWhen(from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			end, err := parseWhen(to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}

			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.Close()

			cal, err := a.pipeline.ListCalendar(cmd.Context(), owner, start, end)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return calendar.Export(w, cal.Events, cal.Tasks, time.Now())
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "window start, YYYY-MM-DD or RFC 3339 (required)")
	cmd.Flags().StringVar(&to, "to", "", "window end, YYYY-MM-DD or RFC 3339 (required)")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newRunsCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent ingestion runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := opts.requireOwner()
			if err != nil {
				return err
			}
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.pipeline.ListRuns(cmd.Context(), owner, limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			scheduler, err := a.newScheduler()
			if err != nil {
				return err
			}
			if err := scheduler.Start(ctx); err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := scheduler.Shutdown(shutdownCtx); err != nil {
					log.Printf("Scheduler shutdown error: %v", err)
				}
			}()

			addr, err := server.Start(ctx, a.cfg, server.NewHandler(a.cfg, a.pipeline, scheduler))
			if err != nil {
				return err
			}
			log.Printf("Agenda listening on http://%s", addr)

			<-ctx.Done()
			log.Println("Shutting down...")
			return nil
		},
	}
}

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP tools on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Anything but protocol frames on stdout corrupts the session.
			log.SetOutput(os.Stderr)
			log.SetPrefix("agenda-mcp: ")

			owner, err := opts.requireOwner()
			if err != nil {
				return err
			}
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Printf("ready, serving MCP for owner %s", owner)
			if err := mcptools.ServeStdio(ctx, mcptools.NewServer(a.pipeline, owner, version)); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}

func readInput(cmd *cobra.Command, path string) (string, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(b), nil
}

// parseTurns reads "role: content" lines. Lines without a known role
// prefix are user turns.
func parseTurns(text string) []ingest.ChatTurn {
	var turns []ingest.ChatTurn
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		turn := ingest.ChatTurn{Role: "user", Content: line}
		if role, content, ok := strings.Cut(line, ":"); ok {
			switch strings.ToLower(strings.TrimSpace(role)) {
			case "user", "assistant":
				turn = ingest.ChatTurn{Role: strings.ToLower(strings.TrimSpace(role)), Content: strings.TrimSpace(content)}
			}
		}
		turns = append(turns, turn)
	}
	return turns
}

// parseWhen accepts a date (midnight UTC) or an RFC 3339 instant.
func parseWhen(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD or RFC 3339, got %q", s)
	}
	return t.UTC(), nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
