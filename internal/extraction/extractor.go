// Package extraction turns free text into schema-validated payloads using a
// two-tier model policy: a cheap primary model first, and a single call to a
// stronger escalation model when the primary output is invalid or its
// confidence is below the threshold.
package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/scrypster/agenda/internal/llm"
)

// ErrExtractionFailed matches any *ExtractionFailure via errors.Is.
var ErrExtractionFailed = errors.New("extraction failed")

// ExtractionFailure is returned when neither tier produced valid output.
// Primary is nil when the primary tier was skipped or merely low-confidence.
type ExtractionFailure struct {
	Primary    error
	Escalation error
}

func (e *ExtractionFailure) Error() string {
	if e.Primary == nil {
		return fmt.Sprintf("extraction failed: escalation: %v", e.Escalation)
	}
	return fmt.Sprintf("extraction failed: primary: %v; escalation: %v", e.Primary, e.Escalation)
}

func (e *ExtractionFailure) Is(target error) bool { return target == ErrExtractionFailed }

func (e *ExtractionFailure) Unwrap() []error {
	var errs []error
	if e.Primary != nil {
		errs = append(errs, e.Primary)
	}
	if e.Escalation != nil {
		errs = append(errs, e.Escalation)
	}
	return errs
}

// DefaultSystemPrompt is prepended to every extraction call, followed by
// the target schema.
const DefaultSystemPrompt = `You extract structured calendar information from text.
Respond with one JSON object that matches the target schema exactly; do not add fields the schema does not define.
Be precise. Include a "confidence" number between 0 and 1 describing how sure you are of the extraction.`

// Config holds the named extraction constants.
type Config struct {
	PrimaryModel    string
	EscalationModel string

	// ConfidenceThreshold is the minimum primary confidence accepted
	// without escalation. Default: 0.65
	ConfidenceThreshold float64

	PrimaryTemperature    float64 // default 0.3
	EscalationTemperature float64 // default 0.2

	// Confidence assumed when the model omits the field.
	PrimaryDefaultConfidence    float64 // default 0.5
	EscalationDefaultConfidence float64 // default 0.7

	MaxTokens int
}

// DefaultConfig returns the production extraction settings.
func DefaultConfig() Config {
	return Config{
		PrimaryModel:                "gpt-4o-mini",
		EscalationModel:             "gpt-4o",
		ConfidenceThreshold:         0.65,
		PrimaryTemperature:          0.3,
		EscalationTemperature:       0.2,
		PrimaryDefaultConfidence:    0.5,
		EscalationDefaultConfidence: 0.7,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.PrimaryModel == "" || c.EscalationModel == "" {
		return fmt.Errorf("primary and escalation models are required")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in [0,1], got %v", c.ConfidenceThreshold)
	}
	for _, d := range []float64{c.PrimaryDefaultConfidence, c.EscalationDefaultConfidence} {
		if d < 0 || d > 1 {
			return fmt.Errorf("default confidence must be in [0,1], got %v", d)
		}
	}
	if c.PrimaryTemperature < 0 || c.EscalationTemperature < 0 {
		return fmt.Errorf("temperatures must not be negative")
	}
	return nil
}

// Result is one extraction outcome. Never mutated after Extract returns.
type Result struct {
	Payload    Payload
	Confidence float64
	ModelUsed  string
	Escalated  bool

	// RawResponse is the JSON object the payload was decoded from.
	RawResponse json.RawMessage
}

// Option customizes one Extract call.
type Option func(*callOptions)

type callOptions struct {
	temperature     *float64
	forceEscalation bool
	systemPrompt    string
}

// WithTemperature overrides the temperature of both tiers.
func WithTemperature(t float64) Option {
	return func(o *callOptions) { o.temperature = &t }
}

// ForceEscalation skips the primary tier.
func ForceEscalation() Option {
	return func(o *callOptions) { o.forceEscalation = true }
}

// WithSystemPrompt replaces DefaultSystemPrompt for one call.
func WithSystemPrompt(s string) Option {
	return func(o *callOptions) { o.systemPrompt = s }
}

// Extractor runs the two-tier extraction policy.
type Extractor struct {
	primary    llm.Completer
	escalation llm.Completer
	cfg        Config
}

// NewExtractor creates an Extractor. A nil escalation backend reuses the
// primary backend with the escalation model name.
func NewExtractor(primary, escalation llm.Completer, cfg Config) (*Extractor, error) {
	if primary == nil {
		return nil, fmt.Errorf("extraction: primary backend is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("extraction: %w", err)
	}
	if escalation == nil {
		escalation = primary
	}
	return &Extractor{primary: primary, escalation: escalation, cfg: cfg}, nil
}

// Config returns the extractor's settings.
func (e *Extractor) Config() Config { return e.cfg }

// Extract sends prompt to the primary model and validates the output against
// schema. Invalid output, backend errors and confidence below the threshold
// all lead to exactly one escalation call whose result is returned as-is.
// ExtractionFailure is returned only when the escalation call fails too.
func (e *Extractor) Extract(ctx context.Context, prompt string, schema *Schema, opts ...Option) (*Result, error) {
	if schema == nil {
		return nil, fmt.Errorf("extraction: schema is required")
	}

	o := callOptions{systemPrompt: DefaultSystemPrompt}
	for _, opt := range opts {
		opt(&o)
	}
	system := o.systemPrompt + "\n\n" + schema.Describe()

	var primaryErr error
	if !o.forceEscalation {
		temp := e.cfg.PrimaryTemperature
		if o.temperature != nil {
			temp = *o.temperature
		}

		res, err := e.attempt(ctx, e.primary, e.cfg.PrimaryModel, temp, system, prompt, schema, e.cfg.PrimaryDefaultConfidence)
		switch {
		case err != nil:
			primaryErr = err
			log.Printf("Extractor: primary %s failed for %s, escalating to %s: %v",
				e.cfg.PrimaryModel, schema.Name(), e.cfg.EscalationModel, err)
		case res.Confidence >= e.cfg.ConfidenceThreshold:
			return res, nil
		default:
			log.Printf("Extractor: low confidence %.2f (< %.2f) for %s, escalating to %s",
				res.Confidence, e.cfg.ConfidenceThreshold, schema.Name(), e.cfg.EscalationModel)
		}
	}

	temp := e.cfg.EscalationTemperature
	if o.temperature != nil {
		temp = *o.temperature
	}
	res, err := e.attempt(ctx, e.escalation, e.cfg.EscalationModel, temp, system, prompt, schema, e.cfg.EscalationDefaultConfidence)
	if err != nil {
		log.Printf("Extractor: escalation %s failed for %s: %v", e.cfg.EscalationModel, schema.Name(), err)
		return nil, &ExtractionFailure{Primary: primaryErr, Escalation: err}
	}
	res.Escalated = true
	return res, nil
}

func (e *Extractor) attempt(ctx context.Context, backend llm.Completer, model string, temperature float64,
	system, prompt string, schema *Schema, defaultConfidence float64) (*Result, error) {

	text, err := backend.Complete(ctx, llm.Request{
		Model:       model,
		System:      system,
		Prompt:      prompt,
		Temperature: temperature,
		JSON:        true,
		MaxTokens:   e.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", model, err)
	}

	raw := []byte(llm.ExtractJSON(text))
	payload, err := schema.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", model, err)
	}

	confidence, ok := payload.StatedConfidence()
	if !ok {
		confidence = defaultConfidence
	}

	return &Result{
		Payload:     payload,
		Confidence:  confidence,
		ModelUsed:   model,
		RawResponse: json.RawMessage(raw),
	}, nil
}
