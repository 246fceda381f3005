package types

import (
	"encoding/json"
	"time"
)

// EvidenceRecord is the immutable audit trail for one created entity.
// It is written exactly once, right after the entity it describes.
type EvidenceRecord struct {
	ID               string          `json:"id"`
	EntityID         string          `json:"entity_id"`
	EntityKind       EntityKind      `json:"entity_kind"`
	SourceKind       SourceKind      `json:"source_kind"`
	SourceDocumentID string          `json:"source_document_id"`
	Excerpt          string          `json:"excerpt"`
	RawExtraction    json.RawMessage `json:"raw_extraction,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ExtractionRequest is one ingestion call. Immutable once built.
type ExtractionRequest struct {
	SourceKind       SourceKind `json:"source_kind"`
	SourceDocumentID string     `json:"source_document_id"`
	RawText          string     `json:"raw_text"`
	OwnerID          string     `json:"owner_id"`
}

// IngestionRun records the outcome of one SubmitExtraction call.
type IngestionRun struct {
	ID               string     `json:"id"`
	OwnerID          string     `json:"owner_id"`
	SourceKind       SourceKind `json:"source_kind"`
	SourceDocumentID string     `json:"source_document_id"`
	ModelUsed        string     `json:"model_used,omitempty"`
	Confidence       float64    `json:"confidence"`
	Escalated        bool       `json:"escalated"`
	Created          int        `json:"created"`
	Skipped          int        `json:"skipped"`
	Dropped          int        `json:"dropped"`
	Failed           int        `json:"failed"`
	Error            string     `json:"error,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       time.Time  `json:"finished_at"`
}
