package survey

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// ErrInvalidAnswer is wrapped by every ValidationError.
var ErrInvalidAnswer = errors.New("invalid answer")

// ValidationError describes why an answer was rejected.
type ValidationError struct {
	Field  string
	Type   ValueType
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s answer for %s: %s", e.Type, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidAnswer }

var (
	timeOfDayRegex = regexp.MustCompile(`^(\d{1,2})[:.](\d{2})$`)
	digitsRegex    = regexp.MustCompile(`^[0-9]+$`)
)

// ParseTimeOfDay parses "H:MM" or "H.MM" into minutes since midnight.
func ParseTimeOfDay(s string) (int, error) {
	m := timeOfDayRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("expected H:MM, got %q", s)
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return hour*60 + minute, nil
}

// Validate checks raw against the question and returns the trimmed text to store.
// Optional questions are validated the same way; there is no skip answer.
func (q Question) Validate(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	fail := func(reason string) (string, error) {
		return "", &ValidationError{Field: q.Field, Type: q.Type, Reason: reason}
	}

	switch q.Type {
	case TypeInt:
		if !digitsRegex.MatchString(text) {
			return fail("not a whole number")
		}
		v, err := strconv.Atoi(text)
		if err != nil {
			return fail("not a whole number")
		}
		if float64(v) < q.Min || float64(v) > q.Max {
			return fail(fmt.Sprintf("%d outside [%g, %g]", v, q.Min, q.Max))
		}
	case TypeFloat:
		v, err := strconv.ParseFloat(text, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return fail("not a number")
		}
		if v < q.Min || v > q.Max {
			return fail(fmt.Sprintf("%g outside [%g, %g]", v, q.Min, q.Max))
		}
	case TypeTime:
		if _, err := ParseTimeOfDay(text); err != nil {
			return fail(err.Error())
		}
	case TypeCategory:
		if !slices.Contains(q.Options, text) {
			return fail("not one of the options")
		}
	case TypeText:
	default:
		return fail("unsupported question type")
	}
	return text, nil
}

// Hint is a short description of what the question expects.
func (q Question) Hint() string {
	switch q.Type {
	case TypeInt:
		return fmt.Sprintf("Please enter a whole number from %g to %g.", q.Min, q.Max)
	case TypeFloat:
		return fmt.Sprintf("Please enter a number from %g to %g.", q.Min, q.Max)
	case TypeTime:
		return "Please enter a time as HH:MM, for example 22:30."
	case TypeCategory:
		return "Please reply with one of: " + strings.Join(q.Options, ", ") + "."
	default:
		return ""
	}
}
