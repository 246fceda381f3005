package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/scrypster/agenda/internal/calendar"
	"github.com/scrypster/agenda/internal/engine"
	"github.com/scrypster/agenda/internal/extraction"
	"github.com/scrypster/agenda/internal/ingest"
	"github.com/scrypster/agenda/internal/storage"
	"github.com/scrypster/agenda/pkg/types"
)

// maxBodyBytes bounds request bodies; syllabi are the largest inputs.
const maxBodyBytes = 2 << 20

// maxBatchMessages bounds POST /api/emails/batch.
const maxBatchMessages = 50

// Handlers contains the HTTP handlers for the REST API.
type Handlers struct {
	pipeline  *ingest.Pipeline
	scheduler *engine.Scheduler // optional; enables ?async=true
}

// NewHandlers creates the API handlers. scheduler may be nil.
func NewHandlers(p *ingest.Pipeline, scheduler *engine.Scheduler) *Handlers {
	return &Handlers{pipeline: p, scheduler: scheduler}
}

// SubmitSyllabus handles POST /api/syllabi.
func (h *Handlers) SubmitSyllabus(w http.ResponseWriter, r *http.Request) {
	var req SyllabusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.submit(w, r, ingest.SyllabusRequest(ownerFrom(r.Context()), req.DocumentID, req.Text))
}

// SubmitEmail handles POST /api/emails.
func (h *Handlers) SubmitEmail(w http.ResponseWriter, r *http.Request) {
	var msg ingest.EmailMessage
	if !decodeBody(w, r, &msg) {
		return
	}
	h.submit(w, r, ingest.EmailRequest(ownerFrom(r.Context()), msg))
}

// SubmitEmailBatch handles POST /api/emails/batch. Messages are processed
// concurrently and each reports its own outcome, so the response is 200
// even when some messages fail.
func (h *Handlers) SubmitEmailBatch(w http.ResponseWriter, r *http.Request) {
	var req EmailBatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 || len(req.Messages) > maxBatchMessages {
		respondError(w, http.StatusBadRequest, "messages must hold 1 to "+strconv.Itoa(maxBatchMessages)+" emails", nil)
		return
	}

	owner := ownerFrom(r.Context())
	reqs := make([]types.ExtractionRequest, len(req.Messages))
	for i, msg := range req.Messages {
		reqs[i] = ingest.EmailRequest(owner, msg)
	}

	resp := EmailBatchResponse{Items: make([]EmailBatchItem, len(reqs))}
	for i, item := range h.pipeline.SubmitBatch(r.Context(), reqs, ingest.DefaultBatchConcurrency) {
		out := EmailBatchItem{MessageID: item.Request.SourceDocumentID, Result: item.Result}
		if item.Result == nil {
			out.Error = item.Err.Error()
			resp.Failed++
		} else {
			for _, f := range item.Result.Batch.Failures() {
				out.Errors = append(out.Errors, f.Error())
			}
		}
		resp.Items[i] = out
	}
	respondJSON(w, http.StatusOK, resp)
}

// SubmitChat handles POST /api/chats.
func (h *Handlers) SubmitChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.submit(w, r, ingest.ChatRequest(ownerFrom(r.Context()), req.ConversationID, req.Turns))
}

func (h *Handlers) submit(w http.ResponseWriter, r *http.Request, req types.ExtractionRequest) {
	if r.URL.Query().Get("async") == "true" {
		h.enqueue(w, req)
		return
	}

	res, err := h.pipeline.SubmitExtraction(r.Context(), req)
	if res == nil {
		respondPipelineError(w, err)
		return
	}

	resp := SubmitResponse{Result: res}
	for _, f := range res.Batch.Failures() {
		resp.Errors = append(resp.Errors, f.Error())
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) enqueue(w http.ResponseWriter, req types.ExtractionRequest) {
	if h.scheduler == nil {
		respondError(w, http.StatusServiceUnavailable, "async submission is not enabled", nil)
		return
	}
	id, err := h.scheduler.Enqueue(engine.StepSubmitExtraction, req)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to queue extraction", err)
		return
	}
	respondJSON(w, http.StatusAccepted, EnqueuedResponse{JobID: id})
}

// ListProposals handles GET /api/proposals.
func (h *Handlers) ListProposals(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 0)
	proposals, err := h.pipeline.ListProposals(r.Context(), ownerFrom(r.Context()), limit)
	if err != nil {
		respondPipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ProposalsResponse{Proposals: proposals, Total: len(proposals)})
}

// GetEntity handles GET /api/events/{id} and GET /api/tasks/{id}.
func (h *Handlers) GetEntity(kind types.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prop, err := h.pipeline.Get(r.Context(), ownerFrom(r.Context()), kind, r.PathValue("id"))
		if err != nil {
			respondPipelineError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, prop)
	}
}

// SetStatus handles POST /api/events/{id}/status and POST /api/tasks/{id}/status.
func (h *Handlers) SetStatus(kind types.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StatusRequest
		if !decodeBody(w, r, &req) {
			return
		}
		prop, err := h.pipeline.SetStatus(r.Context(), ownerFrom(r.Context()), kind, r.PathValue("id"), req.Status)
		if err != nil {
			respondPipelineError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, prop)
	}
}

// CreateEvent handles POST /api/events.
func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ev := &types.Event{
		OwnerID:     ownerFrom(r.Context()),
		CourseID:    req.CourseID,
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		StartTime:   req.StartTime.UTC(),
		EndTime:     req.EndTime.UTC(),
	}
	if err := h.pipeline.CreateManualEvent(r.Context(), ev); err != nil {
		respondPipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, ev)
}

// CreateTask handles POST /api/tasks.
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	t := &types.Task{
		OwnerID:     ownerFrom(r.Context()),
		CourseID:    req.CourseID,
		Title:       req.Title,
		Description: req.Description,
	}
	if req.DueDate != nil {
		due := req.DueDate.UTC()
		t.DueDate = &due
	}
	if err := h.pipeline.CreateManualTask(r.Context(), t); err != nil {
		respondPipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, t)
}

// SetCompleted handles POST /api/tasks/{id}/completed.
func (h *Handlers) SetCompleted(w http.ResponseWriter, r *http.Request) {
	var req CompletedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	t, err := h.pipeline.SetTaskCompleted(r.Context(), ownerFrom(r.Context()), r.PathValue("id"), req.Completed)
	if err != nil {
		respondPipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// GetCalendar handles GET /api/calendar?from=&to= (RFC 3339).
func (h *Handlers) GetCalendar(w http.ResponseWriter, r *http.Request) {
	cal, ok := h.calendar(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, cal)
}

// ExportCalendar handles GET /api/calendar.ics?from=&to=.
func (h *Handlers) ExportCalendar(w http.ResponseWriter, r *http.Request) {
	cal, ok := h.calendar(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := calendar.Export(w, cal.Events, cal.Tasks, time.Now()); err != nil {
		log.Printf("failed to write calendar export: %v", err)
	}
}

func (h *Handlers) calendar(w http.ResponseWriter, r *http.Request) (*ingest.Calendar, bool) {
	from, err := parseTime(r.URL.Query().Get("from"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid from", err)
		return nil, false
	}
	to, err := parseTime(r.URL.Query().Get("to"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid to", err)
		return nil, false
	}
	cal, err := h.pipeline.ListCalendar(r.Context(), ownerFrom(r.Context()), from, to)
	if err != nil {
		respondPipelineError(w, err)
		return nil, false
	}
	return cal, true
}

// ListRuns handles GET /api/runs.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.pipeline.ListRuns(r.Context(), ownerFrom(r.Context()), parseInt(r.URL.Query().Get("limit"), 0))
	if err != nil {
		respondPipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

// ListCourses handles GET /api/courses.
func (h *Handlers) ListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.pipeline.ListCourses(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		respondPipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, courses)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return false
	}
	return true
}

// parseInt parses an integer query value, returning defaultValue when
// absent or malformed.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("missing time")
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// respondPipelineError maps pipeline and store errors to status codes.
func respondPipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrInvalidRequest), errors.Is(err, storage.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "invalid request", err)
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found", err)
	case errors.Is(err, storage.ErrInvalidTransition):
		respondError(w, http.StatusConflict, "invalid status transition", err)
	case errors.Is(err, extraction.ErrExtractionFailed):
		respondError(w, http.StatusBadGateway, "extraction failed", err)
	default:
		respondError(w, http.StatusInternalServerError, "internal error", err)
	}
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent.
		log.Printf("failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}
	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}
	respondJSON(w, statusCode, errResp)
}
