package extraction

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/agenda/pkg/types"
)

func mustSchema(t *testing.T, kind types.SourceKind) *Schema {
	t.Helper()
	s, err := SchemaFor(kind)
	require.NoError(t, err)
	return s
}

func TestSchemaFor(t *testing.T) {
	for _, kind := range types.ValidSourceKinds {
		s := mustSchema(t, kind)
		assert.Equal(t, kind, s.Kind())
		assert.Contains(t, s.Describe(), s.Name())
	}

	_, err := SchemaFor("fax")
	assert.Error(t, err)
}

func TestSchema_Syllabus(t *testing.T) {
	s := mustSchema(t, types.SourceKindSyllabus)

	tests := []struct {
		name  string
		input string
		valid bool
	}{
		{
			name: "full course",
			input: `{"courses":[{"name":"CS 101","code":"CS101","term":"Spring 2025",
				"events":[{"title":"Lecture","startTime":"2025-01-06T10:00:00","endTime":"2025-01-06T10:50:00",
					"location":"Room 4","recurring":{"frequency":"weekly","until":"2025-05-02","daysOfWeek":["Monday"]}}],
				"tasks":[{"title":"HW1","dueDate":"2025-01-13T23:59:00"}]}],"confidence":0.9}`,
			valid: true,
		},
		{
			name:  "nulls for optional fields",
			input: `{"courses":[{"name":"Bio","code":null,"events":[{"title":"Lab","startTime":"2025-01-07T09:00","endTime":"2025-01-07T11:00","location":null,"recurring":null}],"tasks":null}]}`,
			valid: true,
		},
		{
			name:  "unknown field is rejected",
			input: `{"courses":[],"confidence":0.9,"notes":"extra"}`,
			valid: false,
		},
		{
			name:  "unknown nested field is rejected",
			input: `{"courses":[{"name":"CS","events":[],"instructor":"Ada"}]}`,
			valid: false,
		},
		{
			name:  "missing courses",
			input: `{"confidence":0.9}`,
			valid: false,
		},
		{
			name:  "event missing endTime",
			input: `{"courses":[{"name":"CS","events":[{"title":"Lecture","startTime":"2025-01-06T10:00"}]}]}`,
			valid: false,
		},
		{
			name:  "confidence out of range",
			input: `{"courses":[],"confidence":1.5}`,
			valid: false,
		},
		{
			name:  "bad recurrence frequency",
			input: `{"courses":[{"name":"CS","events":[{"title":"L","startTime":"a","endTime":"b","recurring":{"frequency":"monthly"}}]}]}`,
			valid: false,
		},
		{
			name:  "blank course name",
			input: `{"courses":[{"name":"  ","events":[]}]}`,
			valid: false,
		},
		{
			name:  "blank event title",
			input: `{"courses":[{"name":"CS","events":[{"title":" ","startTime":"a","endTime":"b"}]}]}`,
			valid: false,
		},
		{
			name:  "not json",
			input: `courses: none`,
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Validate([]byte(tt.input))
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var ve *ValidationError
			assert.True(t, errors.As(err, &ve))
		})
	}
}

func TestSchema_EmailAndChat(t *testing.T) {
	email := mustSchema(t, types.SourceKindEmail)
	chat := mustSchema(t, types.SourceKindChat)

	assert.NoError(t, email.Validate([]byte(`{}`)))
	assert.NoError(t, email.Validate([]byte(`{"events":[{"title":"Standup"}],"tasks":[{"title":"Reply"}]}`)))
	assert.Error(t, email.Validate([]byte(`{"events":[{"title":""}]}`)))
	assert.Error(t, email.Validate([]byte(`{"events":[{"title":"   "}]}`)), "blank titles are rejected")
	assert.Error(t, email.Validate([]byte(`{"tasks":[{"title":"\t\n"}]}`)))
	assert.NoError(t, email.Validate([]byte(`{"tasks":[{"title":" Reply "}]}`)))
	assert.Error(t, email.Validate([]byte(`{"reply":"hi"}`)))

	assert.NoError(t, chat.Validate([]byte(`{"reply":"Added it.","events":[{"title":"Dentist","startTime":"2025-02-04T15:00:00-06:00"}]}`)))
	assert.Error(t, chat.Validate([]byte(`{"events":[]}`)), "reply is required")
	assert.Error(t, chat.Validate([]byte(`{"reply":"ok","tasks":[{"title":"Pay rent"}]}`)), "chat tasks need a due date")
}

func TestSchema_Decode(t *testing.T) {
	s := mustSchema(t, types.SourceKindChat)

	p, err := s.Decode([]byte(`{"reply":"Done","events":[{"title":"Gym","startTime":"2025-02-04T07:00"}],"tasks":[{"title":"Pay rent","dueDate":"2025-02-01"}],"confidence":0.8}`))
	require.NoError(t, err)

	chat, ok := p.(*ChatPayload)
	require.True(t, ok)
	assert.Equal(t, "Done", chat.Reply)
	require.Len(t, chat.Events, 1)
	assert.Equal(t, "Gym", chat.Events[0].Title)
	require.Len(t, chat.Tasks, 1)
	assert.Equal(t, "2025-02-01", chat.Tasks[0].DueDate)

	c, ok := p.StatedConfidence()
	assert.True(t, ok)
	assert.InDelta(t, 0.8, c, 1e-9)
	assert.Equal(t, 2, CandidateCount(p))
}
