package llm

import "testing"

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantJSON string
	}{
		{
			name:     "plain object",
			input:    `{"events": []}`,
			wantJSON: `{"events": []}`,
		},
		{
			name:     "markdown fence",
			input:    "```json\n{\"confidence\": 0.8}\n```",
			wantJSON: `{"confidence": 0.8}`,
		},
		{
			name:     "prose around object",
			input:    "Sure! Here you go:\n{\"tasks\": []}\nLet me know.",
			wantJSON: `{"tasks": []}`,
		},
		{
			name:     "nested objects",
			input:    `{"courses": [{"name": "CS 101", "events": [{"title": "Lecture"}]}]} trailing`,
			wantJSON: `{"courses": [{"name": "CS 101", "events": [{"title": "Lecture"}]}]}`,
		},
		{
			name:     "braces inside strings",
			input:    `{"title": "Set {A} and \"B}\""}`,
			wantJSON: `{"title": "Set {A} and \"B}\""}`,
		},
		{
			name:     "no object",
			input:    "I could not find anything",
			wantJSON: "I could not find anything",
		},
		{
			name:     "unbalanced",
			input:    `note {"a": {"b": 1}`,
			wantJSON: `{"a": {"b": 1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSON(tt.input); got != tt.wantJSON {
				t.Errorf("ExtractJSON() = %q, want %q", got, tt.wantJSON)
			}
		})
	}
}
