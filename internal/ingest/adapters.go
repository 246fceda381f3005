package ingest

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/scrypster/agenda/pkg/types"
)

// EmailMessage is a message as handed over by the mail fetcher.
type EmailMessage struct {
	ID       string `json:"id"`
	Subject  string `json:"subject"`
	TextBody string `json:"text_body,omitempty"`
	HTMLBody string `json:"html_body,omitempty"`
}

// EmailRequest builds the extraction request for a message. The plain-text
// body is preferred; otherwise the HTML body is reduced to text.
func EmailRequest(ownerID string, msg EmailMessage) types.ExtractionRequest {
	body := strings.TrimSpace(msg.TextBody)
	if body == "" && msg.HTMLBody != "" {
		body = StripHTML(msg.HTMLBody)
	}
	return types.ExtractionRequest{
		SourceKind:       types.SourceKindEmail,
		SourceDocumentID: msg.ID,
		RawText:          "Subject: " + strings.TrimSpace(msg.Subject) + "\n\n" + body,
		OwnerID:          ownerID,
	}
}

// SyllabusRequest builds the extraction request for syllabus text that the
// PDF converter already produced.
func SyllabusRequest(ownerID, documentID, text string) types.ExtractionRequest {
	return types.ExtractionRequest{
		SourceKind:       types.SourceKindSyllabus,
		SourceDocumentID: documentID,
		RawText:          text,
		OwnerID:          ownerID,
	}
}

// ChatTurn is one message of a conversation.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest builds the extraction request for a conversation. The
// conversation id is the source document id.
func ChatRequest(ownerID, conversationID string, turns []ChatTurn) types.ExtractionRequest {
	var b strings.Builder
	for _, t := range turns {
		role := t.Role
		if role == "" {
			role = "user"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, strings.TrimSpace(t.Content))
	}
	return types.ExtractionRequest{
		SourceKind:       types.SourceKindChat,
		SourceDocumentID: conversationID,
		RawText:          strings.TrimSpace(b.String()),
		OwnerID:          ownerID,
	}
}

// StripHTML returns the visible text of an HTML document. Script and style
// content is dropped and block elements become line breaks.
func StripHTML(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or malformed input: keep what was read
			return collapseLines(b.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if isHidden(a) && tt == html.StartTagToken {
				skip++
			}
			if isBlock(a) {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if isHidden(a) && skip > 0 {
				skip--
			}
			if isBlock(a) {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isHidden(a atom.Atom) bool {
	return a == atom.Script || a == atom.Style || a == atom.Head
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.Br, atom.P, atom.Div, atom.Li, atom.Tr, atom.H1, atom.H2, atom.H3,
		atom.H4, atom.H5, atom.H6, atom.Table, atom.Ul, atom.Ol, atom.Blockquote:
		return true
	}
	return false
}

// collapseLines trims every line, squeezes inner whitespace and drops
// empty lines.
func collapseLines(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// buildPrompt renders the user prompt for a request.
func buildPrompt(req types.ExtractionRequest, loc *time.Location, now time.Time) string {
	zone := loc.String()
	switch req.SourceKind {
	case types.SourceKindSyllabus:
		return fmt.Sprintf(`Extract course information, events, and tasks from this syllabus text:

%s

Return a JSON object with:
- courses: array of courses, each with name, code (optional), term (optional), events, and tasks (optional)
- events: class sessions with title, description, startTime, endTime, location, and an optional recurring pattern
  (frequency "weekly" or "daily", daysOfWeek, until, count, interval); startTime and endTime describe the first session
- tasks: assignments and exams with title, description, and dueDate
- confidence: your confidence score (0-1)

All times should be in ISO 8601 format. Assume timezone is %s.`, req.RawText, zone)

	case types.SourceKindEmail:
		return fmt.Sprintf(`Extract calendar events and tasks from this email:

%s

Return a JSON object with:
- events: array of events with title, description, startTime, endTime, location
- tasks: array of tasks with title, description, dueDate
- confidence: your confidence score (0-1)

All times should be in ISO 8601 format. Assume timezone is %s.`, req.RawText, zone)

	default:
		return fmt.Sprintf(`You are a calendar assistant chatting with a student. Today is %s.
When they ask to add events or tasks, include them in your JSON response; otherwise return empty arrays.

Conversation:
%s

Return a JSON object with:
- reply: your message to the user
- events: array of events with title, startTime, endTime (optional), description, location
- tasks: array of tasks with title, dueDate, description
- confidence: your confidence score (0-1)

Timezone is %s. When the user says "Tuesday 3pm" or "next week", use that timezone. Use ISO 8601 for all times.`,
			now.In(loc).Format("Monday, 2006-01-02"), req.RawText, zone)
	}
}
