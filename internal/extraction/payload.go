package extraction

import "github.com/scrypster/agenda/pkg/types"

// Payload is the closed set of decoded model outputs: *CoursesPayload,
// *EmailPayload and *ChatPayload.
type Payload interface {
	SourceKind() types.SourceKind

	// StatedConfidence returns the confidence the model reported, if any.
	StatedConfidence() (float64, bool)
}

// Recurrence describes a repeating syllabus session.
type Recurrence struct {
	Frequency  string   `json:"frequency"`
	Until      string   `json:"until,omitempty"`
	Count      int      `json:"count,omitempty"`
	Interval   int      `json:"interval,omitempty"`
	DaysOfWeek []string `json:"daysOfWeek,omitempty"`
}

// CandidateEvent is an event as extracted, before time normalization.
type CandidateEvent struct {
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	StartTime   string      `json:"startTime,omitempty"`
	EndTime     string      `json:"endTime,omitempty"`
	Location    string      `json:"location,omitempty"`
	Recurring   *Recurrence `json:"recurring,omitempty"`
}

// CandidateTask is a task as extracted. DueDate may be empty.
type CandidateTask struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	DueDate     string `json:"dueDate,omitempty"`
}

// CandidateCourse is one course from a syllabus with its nested entries.
type CandidateCourse struct {
	Name   string           `json:"name"`
	Code   string           `json:"code,omitempty"`
	Term   string           `json:"term,omitempty"`
	Events []CandidateEvent `json:"events"`
	Tasks  []CandidateTask  `json:"tasks,omitempty"`
}

// EventsPayload is the flat events list shared by email and chat output.
type EventsPayload struct {
	Events []CandidateEvent `json:"events,omitempty"`
}

// TasksPayload is the flat tasks list shared by email and chat output.
type TasksPayload struct {
	Tasks []CandidateTask `json:"tasks,omitempty"`
}

// CoursesPayload is syllabus output.
type CoursesPayload struct {
	Courses    []CandidateCourse `json:"courses"`
	Confidence *float64          `json:"confidence,omitempty"`
}

// EmailPayload is email output.
type EmailPayload struct {
	EventsPayload
	TasksPayload
	Confidence *float64 `json:"confidence,omitempty"`
}

// ChatPayload is chat output; Reply is shown to the user.
type ChatPayload struct {
	Reply string `json:"reply"`
	EventsPayload
	TasksPayload
	Confidence *float64 `json:"confidence,omitempty"`
}

func (p *CoursesPayload) SourceKind() types.SourceKind { return types.SourceKindSyllabus }
func (p *EmailPayload) SourceKind() types.SourceKind   { return types.SourceKindEmail }
func (p *ChatPayload) SourceKind() types.SourceKind    { return types.SourceKindChat }

func (p *CoursesPayload) StatedConfidence() (float64, bool) { return deref(p.Confidence) }
func (p *EmailPayload) StatedConfidence() (float64, bool)   { return deref(p.Confidence) }
func (p *ChatPayload) StatedConfidence() (float64, bool)    { return deref(p.Confidence) }

func deref(f *float64) (float64, bool) {
	if f == nil {
		return 0, false
	}
	return *f, true
}

// CandidateCount returns the number of events and tasks in a payload,
// counting syllabus entries before recurrence expansion.
func CandidateCount(p Payload) int {
	switch v := p.(type) {
	case *CoursesPayload:
		n := 0
		for _, c := range v.Courses {
			n += len(c.Events) + len(c.Tasks)
		}
		return n
	case *EmailPayload:
		return len(v.Events) + len(v.Tasks)
	case *ChatPayload:
		return len(v.Events) + len(v.Tasks)
	}
	return 0
}
