package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/scrypster/agenda/internal/ingest"
	"github.com/scrypster/agenda/pkg/types"
)

// StepSubmitExtraction runs Pipeline.SubmitExtraction on a queued
// types.ExtractionRequest payload.
const StepSubmitExtraction = "submit-extraction"

// RegisterIngestSteps binds the pipeline's background steps to s.
//
// Invalid requests fail permanently. Extraction failures and per-candidate
// storage failures are retried. A rerun creates only the candidates that
// failed; those already committed reconcile as duplicates.
func RegisterIngestSteps(s *Scheduler, p *ingest.Pipeline) {
	s.Register(StepSubmitExtraction, func(ctx context.Context, payload json.RawMessage) error {
		var req types.ExtractionRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return Permanent(fmt.Errorf("decode extraction request: %w", err))
		}

		res, err := p.SubmitExtraction(ctx, req)
		switch {
		case errors.Is(err, ingest.ErrInvalidRequest):
			return Permanent(err)
		case res == nil && err != nil:
			return err
		case err != nil:
			log.Printf("Scheduler: run %s created %d events, %d tasks before candidate failures: %v",
				res.RunID, len(res.CreatedEventIDs), len(res.CreatedTaskIDs), err)
			return err
		}
		log.Printf("Scheduler: run %s created %d events, %d tasks",
			res.RunID, len(res.CreatedEventIDs), len(res.CreatedTaskIDs))
		return nil
	})
}
