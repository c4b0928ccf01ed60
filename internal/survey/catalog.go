// Package survey implements the daily self-report survey: the question catalog,
// answer validation, and the consent and question/answer state machine.
package survey

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValueType is the kind of answer a question accepts.
type ValueType string

// Supported value types.
const (
	TypeInt      ValueType = "int"
	TypeFloat    ValueType = "float"
	TypeTime     ValueType = "time"
	TypeCategory ValueType = "category"
	TypeText     ValueType = "text"
)

// IsValid reports whether t is a supported value type.
func (t ValueType) IsValid() bool {
	switch t {
	case TypeInt, TypeFloat, TypeTime, TypeCategory, TypeText:
		return true
	}
	return false
}

// ErrInvalidCatalog is wrapped by every catalog construction failure.
var ErrInvalidCatalog = errors.New("invalid question catalog")

// Question is one immutable survey question. Min and Max bound int and float answers.
type Question struct {
	Prompt   string
	Field    string
	Type     ValueType
	Min      float64
	Max      float64
	Options  []string
	Optional bool
}

// Catalog is the ordered, validated list of questions. Its order is the traversal order.
type Catalog struct {
	questions []Question
}

type catalogFile struct {
	Questions []questionSpec `yaml:"questions"`
}

// questionSpec is a question as written in a catalog file. Bounds are pointers so a
// missing bound can be told apart from zero.
type questionSpec struct {
	Prompt   string    `yaml:"prompt"`
	Field    string    `yaml:"field"`
	Type     ValueType `yaml:"type"`
	Min      *float64  `yaml:"min"`
	Max      *float64  `yaml:"max"`
	Options  []string  `yaml:"options"`
	Optional bool      `yaml:"optional"`
}

func (s questionSpec) question(i int) (Question, error) {
	q := Question{
		Prompt:   s.Prompt,
		Field:    s.Field,
		Type:     s.Type,
		Options:  s.Options,
		Optional: s.Optional,
	}
	switch ValueType(strings.ToLower(string(s.Type))) {
	case TypeInt, TypeFloat:
		if s.Min == nil || s.Max == nil {
			return q, fmt.Errorf("%w: numeric question %d (%q) needs both min and max", ErrInvalidCatalog, i+1, s.Field)
		}
		q.Min, q.Max = *s.Min, *s.Max
	}
	return q, nil
}

// NewCatalog validates questions and returns a catalog holding a private copy of them.
func NewCatalog(questions []Question) (*Catalog, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: no questions", ErrInvalidCatalog)
	}
	seen := make(map[string]struct{}, len(questions))
	out := make([]Question, len(questions))
	for i, q := range questions {
		q.Field = strings.TrimSpace(q.Field)
		q.Type = ValueType(strings.ToLower(string(q.Type)))
		if q.Field == "" {
			return nil, fmt.Errorf("%w: question %d has no field name", ErrInvalidCatalog, i+1)
		}
		if _, dup := seen[q.Field]; dup {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrInvalidCatalog, q.Field)
		}
		seen[q.Field] = struct{}{}
		if strings.TrimSpace(q.Prompt) == "" {
			return nil, fmt.Errorf("%w: field %q has no prompt", ErrInvalidCatalog, q.Field)
		}
		if !q.Type.IsValid() {
			return nil, fmt.Errorf("%w: field %q has unknown type %q", ErrInvalidCatalog, q.Field, q.Type)
		}
		switch q.Type {
		case TypeInt, TypeFloat:
			if q.Min > q.Max {
				return nil, fmt.Errorf("%w: field %q has min %v greater than max %v", ErrInvalidCatalog, q.Field, q.Min, q.Max)
			}
			if q.Min == q.Max {
				return nil, fmt.Errorf("%w: field %q has an empty range [%v, %v]", ErrInvalidCatalog, q.Field, q.Min, q.Max)
			}
		case TypeCategory:
			if len(q.Options) == 0 {
				return nil, fmt.Errorf("%w: category field %q has no options", ErrInvalidCatalog, q.Field)
			}
		}
		q.Options = append([]string(nil), q.Options...)
		out[i] = q
	}
	return &Catalog{questions: out}, nil
}

// LoadCatalog reads a YAML catalog file of the form:
//
//	questions:
//	  - prompt: How many steps did you take today?
//	    field: steps
//	    type: int
//	    min: 0
//	    max: 50000
//
// int and float questions must set both min and max.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file %s: %w", path, err)
	}
	questions := make([]Question, len(f.Questions))
	for i, spec := range f.Questions {
		q, err := spec.question(i)
		if err != nil {
			return nil, err
		}
		questions[i] = q
	}
	c, err := NewCatalog(questions)
	if err != nil {
		return nil, err
	}
	slog.Info("Catalog loaded", "path", path, "questions", c.Len())
	return c, nil
}

// Len returns the number of questions.
func (c *Catalog) Len() int { return len(c.questions) }

// Question returns the question at index i.
func (c *Catalog) Question(i int) (Question, bool) {
	if i < 0 || i >= len(c.questions) {
		return Question{}, false
	}
	return c.questions[i], true
}

// Questions returns a copy of all questions in order.
func (c *Catalog) Questions() []Question {
	out := make([]Question, len(c.questions))
	copy(out, c.questions)
	return out
}

// Fields returns the field names in catalog order.
func (c *Catalog) Fields() []string {
	fields := make([]string, len(c.questions))
	for i, q := range c.questions {
		fields[i] = q.Field
	}
	return fields
}

// Prompt renders question i as it is sent to a participant.
func (c *Catalog) Prompt(i int) string {
	q, ok := c.Question(i)
	if !ok {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "(%d/%d) %s", i+1, len(c.questions), q.Prompt)
	if q.Type == TypeCategory {
		b.WriteString("\n")
		for _, opt := range q.Options {
			b.WriteString("\n• ")
			b.WriteString(opt)
		}
	}
	return b.String()
}

// Field names of the default catalog, used by the report generator.
const (
	FieldSteps          = "steps"
	FieldActivity       = "activity_minutes"
	FieldPulse          = "average_pulse"
	FieldSleepHours     = "sleep_hours"
	FieldSleepQuality   = "sleep_quality"
	FieldFallAsleepTime = "fall_asleep_time"
	FieldWakeUpTime     = "wake_up_time"
	FieldMood           = "mood"
	FieldStress         = "stress"
	FieldAge            = "age"
	FieldGender         = "gender"
	FieldLessons        = "lessons"
)

// SleepQualityOptions are the sleep quality answers, best first.
var SleepQualityOptions = []string{"Excellent", "Good", "Fair", "Poor"}

var defaultQuestions = []Question{
	{Prompt: "How many steps did you take today?", Field: FieldSteps, Type: TypeInt, Min: 0, Max: 50000},
	{Prompt: "How much time did you spend on physical activity? (in minutes)", Field: FieldActivity, Type: TypeInt, Min: 0, Max: 1440},
	{Prompt: "If you wear a smartwatch, what was your average pulse today?", Field: FieldPulse, Type: TypeInt, Min: 40, Max: 200, Optional: true},
	{Prompt: "How many hours did you sleep last night?", Field: FieldSleepHours, Type: TypeFloat, Min: 0, Max: 24},
	{Prompt: "How would you rate the quality of your sleep?", Field: FieldSleepQuality, Type: TypeCategory, Options: SleepQualityOptions},
	{Prompt: "What time did you fall asleep last night? (HH:MM)", Field: FieldFallAsleepTime, Type: TypeTime},
	{Prompt: "What time did you wake up today? (HH:MM)", Field: FieldWakeUpTime, Type: TypeTime},
	{Prompt: "Rate your mood from 1 to 10", Field: FieldMood, Type: TypeInt, Min: 1, Max: 10},
	{Prompt: "Were there any stressful events today? If so, describe them", Field: FieldStress, Type: TypeText},
	{Prompt: "How old are you?", Field: FieldAge, Type: TypeInt, Min: 7, Max: 25},
	{Prompt: "What is your gender?", Field: FieldGender, Type: TypeCategory, Options: []string{"Male", "Female"}},
	{Prompt: "Tough day? How many lessons did you have?", Field: FieldLessons, Type: TypeInt, Min: 0, Max: 12},
}

// DefaultCatalog returns the built-in daily wellbeing catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultQuestions)
	if err != nil {
		panic(fmt.Sprintf("survey: default catalog is invalid: %v", err))
	}
	return c
}
