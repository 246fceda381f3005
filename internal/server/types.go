package server

import (
	"time"

	"github.com/scrypster/agenda/internal/ingest"
	"github.com/scrypster/agenda/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SyllabusRequest is the body of POST /api/syllabi.
type SyllabusRequest struct {
	DocumentID string `json:"document_id"`
	Text       string `json:"text"`
}

// ChatRequest is the body of POST /api/chats.
type ChatRequest struct {
	ConversationID string            `json:"conversation_id"`
	Turns          []ingest.ChatTurn `json:"turns"`
}

// SubmitResponse wraps a pipeline result. Errors lists per-candidate
// storage failures; everything else in Result was committed.
type SubmitResponse struct {
	Result *ingest.Result `json:"result"`
	Errors []string       `json:"errors,omitempty"`
}

// EmailBatchRequest is the body of POST /api/emails/batch.
type EmailBatchRequest struct {
	Messages []ingest.EmailMessage `json:"messages"`
}

// EmailBatchItem is the outcome for one message of a batch. Error is set
// when the whole message failed.
type EmailBatchItem struct {
	MessageID string         `json:"message_id"`
	Result    *ingest.Result `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Errors    []string       `json:"errors,omitempty"`
}

// EmailBatchResponse is the response format for POST /api/emails/batch.
type EmailBatchResponse struct {
	Items  []EmailBatchItem `json:"items"`
	Failed int              `json:"failed"`
}

// EnqueuedResponse is returned for asynchronous submissions.
type EnqueuedResponse struct {
	JobID string `json:"job_id"`
}

// StatusRequest is the body of POST /api/{events,tasks}/{id}/status.
type StatusRequest struct {
	Status types.Status `json:"status"`
}

// CompletedRequest is the body of POST /api/tasks/{id}/completed.
type CompletedRequest struct {
	Completed bool `json:"completed"`
}

// EventRequest is the body of POST /api/events.
type EventRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	CourseID    string    `json:"course_id,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time,omitempty"`
}

// TaskRequest is the body of POST /api/tasks.
type TaskRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	CourseID    string     `json:"course_id,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// ProposalsResponse is the response format for GET /api/proposals.
type ProposalsResponse struct {
	Proposals []types.Proposal `json:"proposals"`
	Total     int              `json:"total"`
}
