package extraction

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cuejson "cuelang.org/go/encoding/json"

	"github.com/scrypster/agenda/pkg/types"
)

// schemaSource holds the closed target shapes the model must produce.
// Definitions are closed, so unknown fields fail validation instead of
// being silently dropped.
const schemaSource = `
#Confidence: number & >=0 & <=1

#Text: string | null

// At least one non-space character.
#Title: string & =~"\\S"

#Recurring: {
	frequency:   "weekly" | "daily"
	until?:      #Text
	count?:      int & >=1 | null
	interval?:   int & >=1 | null
	daysOfWeek?: [...(string & =~"^(?i)(mo|tu|we|th|fr|sa|su)")] | null
}

#SyllabusEvent: {
	title:        #Title
	description?: #Text
	startTime:    string & !=""
	endTime:      string & !=""
	location?:    #Text
	recurring?:   #Recurring | null
}

#Event: {
	title:        #Title
	description?: #Text
	startTime?:   #Text
	endTime?:     #Text
	location?:    #Text
}

#Task: {
	title:        #Title
	description?: #Text
	dueDate?:     #Text
}

#ChatEvent: {
	title:        #Title
	description?: #Text
	startTime:    string & !=""
	endTime?:     #Text
	location?:    #Text
}

#ChatTask: {
	title:        #Title
	description?: #Text
	dueDate:      string & !=""
}

#Syllabus: {
	courses: [...{
		name:   #Title
		code?:  #Text
		term?:  #Text
		events: [...#SyllabusEvent]
		tasks?: [...#Task] | null
	}]
	confidence?: #Confidence
}

#Email: {
	events?:     [...#Event] | null
	tasks?:      [...#Task] | null
	confidence?: #Confidence
}

#Chat: {
	reply:       string
	events?:     [...#ChatEvent] | null
	tasks?:      [...#ChatTask] | null
	confidence?: #Confidence
}
`

// ValidationError reports model output that does not conform to the
// target schema.
type ValidationError struct {
	Schema string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("output does not match %s: %v", e.Schema, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Schema is a target shape for one source kind. It validates raw model
// output and decodes it into the matching payload variant.
type Schema struct {
	kind       types.SourceKind
	definition string
	reg        *registry
	value      cue.Value
	newPayload func() Payload
}

// registry owns the cue context. cue values are not safe for concurrent
// use, so every operation holds mu.
type registry struct {
	mu      sync.Mutex
	ctx     *cue.Context
	schemas map[types.SourceKind]*Schema
}

var (
	defaultRegistry     *registry
	defaultRegistryErr  error
	defaultRegistryOnce sync.Once
)

func loadRegistry() (*registry, error) {
	defaultRegistryOnce.Do(func() {
		defaultRegistry, defaultRegistryErr = newRegistry()
	})
	return defaultRegistry, defaultRegistryErr
}

func newRegistry() (*registry, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(schemaSource, cue.Filename("schemas.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile schemas: %w", err)
	}

	reg := &registry{ctx: ctx, schemas: make(map[types.SourceKind]*Schema)}
	defs := []struct {
		kind       types.SourceKind
		definition string
		newPayload func() Payload
	}{
		{types.SourceKindSyllabus, "#Syllabus", func() Payload { return &CoursesPayload{} }},
		{types.SourceKindEmail, "#Email", func() Payload { return &EmailPayload{} }},
		{types.SourceKindChat, "#Chat", func() Payload { return &ChatPayload{} }},
	}
	for _, d := range defs {
		v := root.LookupPath(cue.ParsePath(d.definition))
		if !v.Exists() {
			return nil, fmt.Errorf("schema %s not found", d.definition)
		}
		if err := v.Err(); err != nil {
			return nil, fmt.Errorf("schema %s: %w", d.definition, err)
		}
		reg.schemas[d.kind] = &Schema{
			kind:       d.kind,
			definition: d.definition,
			reg:        reg,
			value:      v,
			newPayload: d.newPayload,
		}
	}
	return reg, nil
}

// SchemaFor returns the target schema for a source kind.
func SchemaFor(kind types.SourceKind) (*Schema, error) {
	reg, err := loadRegistry()
	if err != nil {
		return nil, err
	}
	s, ok := reg.schemas[kind]
	if !ok {
		return nil, fmt.Errorf("no schema for source kind %q", kind)
	}
	return s, nil
}

// Kind returns the source kind this schema serves.
func (s *Schema) Kind() types.SourceKind { return s.kind }

// Name returns the definition name, e.g. "#Email".
func (s *Schema) Name() string { return s.definition }

// Describe returns the schema text given to the model.
func (s *Schema) Describe() string {
	var sb strings.Builder
	sb.WriteString("Target definition: ")
	sb.WriteString(s.definition)
	sb.WriteString(" (CUE syntax, optional fields end in ?, definitions are closed)\n")
	sb.WriteString(strings.TrimSpace(schemaSource))
	return sb.String()
}

// Validate checks raw JSON against the schema.
func (s *Schema) Validate(raw []byte) error {
	expr, err := cuejson.Extract(s.definition, raw)
	if err != nil {
		return &ValidationError{Schema: s.definition, Err: fmt.Errorf("invalid JSON: %w", err)}
	}

	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()

	data := s.reg.ctx.BuildExpr(expr)
	if err := data.Err(); err != nil {
		return &ValidationError{Schema: s.definition, Err: err}
	}
	if err := s.value.Unify(data).Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Schema: s.definition, Err: err}
	}
	return nil
}

// Decode validates raw JSON and decodes it into the schema's payload variant.
func (s *Schema) Decode(raw []byte) (Payload, error) {
	if err := s.Validate(raw); err != nil {
		return nil, err
	}
	p := s.newPayload()
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, &ValidationError{Schema: s.definition, Err: err}
	}
	return p, nil
}
