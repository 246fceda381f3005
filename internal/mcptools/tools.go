// Package mcptools exposes the pipeline to chat agents as MCP tools.
//
// The server acts for a single owner fixed at startup. All logging must go
// to stderr when serving over stdio.
package mcptools

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/scrypster/agenda/internal/ingest"
	"github.com/scrypster/agenda/pkg/types"
)

// MetadataSubmitExtraction describes the submit_extraction tool.
var MetadataSubmitExtraction = &mcp.Tool{
	Name: "submit_extraction",
	Description: "Extract calendar events and tasks from syllabus, email or chat text and store " +
		"them as proposals for review. Re-submitting the same document is safe: entities that " +
		"were already proposed or confirmed are reported as duplicates, not created again.",
}

// InputSubmitExtraction is the input for the submit_extraction tool.
type InputSubmitExtraction struct {
	SourceKind string `json:"source_kind" jsonschema:"one of syllabus, email, chat"`
	DocumentID string `json:"document_id" jsonschema:"stable id of the source document, message or conversation"`
	Text       string `json:"text" jsonschema:"the document text"`
}

// OutputSubmitExtraction is the output for the submit_extraction tool.
type OutputSubmitExtraction struct {
	Result *ingest.Result `json:"result"`
	// Errors lists per-candidate storage failures.
	Errors []string `json:"errors,omitempty"`
}

// MetadataListProposals describes the list_proposals tool.
var MetadataListProposals = &mcp.Tool{
	Name:        "list_proposals",
	Description: "List events and tasks awaiting review, earliest first, each with the source excerpt it was extracted from.",
}

// InputListProposals is the input for the list_proposals tool.
type InputListProposals struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of proposals, default 50"`
}

// OutputListProposals is the output for the list_proposals tool.
type OutputListProposals struct {
	Proposals []types.Proposal `json:"proposals"`
}

// MetadataSetStatus describes the set_status tool.
var MetadataSetStatus = &mcp.Tool{
	Name:        "set_status",
	Description: "Confirm or dismiss a proposed event or task. Confirmed and dismissed entities cannot change status again.",
}

// InputSetStatus is the input for the set_status tool.
type InputSetStatus struct {
	Kind   string `json:"kind" jsonschema:"event or task"`
	ID     string `json:"id"`
	Status string `json:"status" jsonschema:"confirmed or dismissed"`
}

// OutputSetStatus is the output for the set_status tool.
type OutputSetStatus struct {
	Proposal *types.Proposal `json:"proposal"`
}

// MetadataListCalendar describes the list_calendar tool.
var MetadataListCalendar = &mcp.Tool{
	Name:        "list_calendar",
	Description: "List proposed and confirmed events and tasks between two RFC 3339 instants.",
}

// InputListCalendar is the input for the list_calendar tool.
type InputListCalendar struct {
	From string `json:"from" jsonschema:"window start, RFC 3339"`
	To   string `json:"to" jsonschema:"window end, RFC 3339"`
}

// Tools binds the tool handlers to a pipeline and an owner.
type Tools struct {
	pipeline *ingest.Pipeline
	owner    string
}

// NewTools creates the tool handlers.
func NewTools(p *ingest.Pipeline, owner string) *Tools {
	return &Tools{pipeline: p, owner: owner}
}

// SubmitExtraction runs the pipeline on the given text.
func (t *Tools) SubmitExtraction(ctx context.Context, _ *mcp.CallToolRequest, input InputSubmitExtraction) (*mcp.CallToolResult, OutputSubmitExtraction, error) {
	req := types.ExtractionRequest{
		SourceKind:       types.SourceKind(input.SourceKind),
		SourceDocumentID: input.DocumentID,
		RawText:          input.Text,
		OwnerID:          t.owner,
	}
	res, err := t.pipeline.SubmitExtraction(ctx, req)
	if res == nil {
		return nil, OutputSubmitExtraction{}, err
	}

	out := OutputSubmitExtraction{Result: res}
	for _, f := range res.Batch.Failures() {
		out.Errors = append(out.Errors, f.Error())
	}
	return nil, out, nil
}

// ListProposals returns the owner's pending proposals.
func (t *Tools) ListProposals(ctx context.Context, _ *mcp.CallToolRequest, input InputListProposals) (*mcp.CallToolResult, OutputListProposals, error) {
	proposals, err := t.pipeline.ListProposals(ctx, t.owner, input.Limit)
	if err != nil {
		return nil, OutputListProposals{}, err
	}
	if proposals == nil {
		proposals = []types.Proposal{}
	}
	return nil, OutputListProposals{Proposals: proposals}, nil
}

// SetStatus confirms or dismisses a proposal.
func (t *Tools) SetStatus(ctx context.Context, _ *mcp.CallToolRequest, input InputSetStatus) (*mcp.CallToolResult, OutputSetStatus, error) {
	kind := types.EntityKind(input.Kind)
	if !kind.IsValid() {
		return nil, OutputSetStatus{}, fmt.Errorf("kind must be event or task, got %q", input.Kind)
	}
	prop, err := t.pipeline.SetStatus(ctx, t.owner, kind, input.ID, types.Status(input.Status))
	if err != nil {
		return nil, OutputSetStatus{}, err
	}
	return nil, OutputSetStatus{Proposal: prop}, nil
}

// ListCalendar returns the owner's agenda for a window.
func (t *Tools) ListCalendar(ctx context.Context, _ *mcp.CallToolRequest, input InputListCalendar) (*mcp.CallToolResult, ingest.Calendar, error) {
	from, err := time.Parse(time.RFC3339, input.From)
	if err != nil {
		return nil, ingest.Calendar{}, fmt.Errorf("invalid from: %w", err)
	}
	to, err := time.Parse(time.RFC3339, input.To)
	if err != nil {
		return nil, ingest.Calendar{}, fmt.Errorf("invalid to: %w", err)
	}
	cal, err := t.pipeline.ListCalendar(ctx, t.owner, from.UTC(), to.UTC())
	if err != nil {
		return nil, ingest.Calendar{}, err
	}
	return nil, *cal, nil
}

// NewServer creates an MCP server with every tool registered.
func NewServer(p *ingest.Pipeline, owner, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "agenda", Version: version}, nil)

	tools := NewTools(p, owner)
	mcp.AddTool(server, MetadataSubmitExtraction, untyped(tools.SubmitExtraction))
	mcp.AddTool(server, MetadataListProposals, untyped(tools.ListProposals))
	mcp.AddTool(server, MetadataSetStatus, untyped(tools.SetStatus))
	mcp.AddTool(server, MetadataListCalendar, untyped(tools.ListCalendar))
	return server
}

// untyped drops the output type so no output schema is inferred. Entities
// carry raw extraction JSON that a generated schema would misdescribe.
func untyped[In, Out any](h mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		res, out, err := h(ctx, req, in)
		if err != nil {
			return nil, nil, err
		}
		return res, out, nil
	}
}

// ServeStdio serves the tools on stdin/stdout until ctx is cancelled or the
// client disconnects.
func ServeStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}
