package survey

import (
	"errors"
	"testing"
)

func TestQuestionValidate(t *testing.T) {
	intQ := Question{Field: "steps", Type: TypeInt, Min: 0, Max: 50000}
	floatQ := Question{Field: "sleep_hours", Type: TypeFloat, Min: 0, Max: 24}
	timeQ := Question{Field: "wake_up_time", Type: TypeTime}
	catQ := Question{Field: "mood", Type: TypeCategory, Options: []string{"Good", "Bad"}}
	textQ := Question{Field: "stress", Type: TypeText}
	optQ := Question{Field: "average_pulse", Type: TypeInt, Min: 40, Max: 200, Optional: true}

	tests := []struct {
		name   string
		q      Question
		input  string
		want   string
		reject bool
	}{
		{"int in range", intQ, "500", "500", false},
		{"int trimmed", intQ, "  500\n", "500", false},
		{"int lower bound", intQ, "0", "0", false},
		{"int upper bound", intQ, "50000", "50000", false},
		{"int above max", intQ, "70000", "", true},
		{"int negative", intQ, "-1", "", true},
		{"int not a number", intQ, "many", "", true},
		{"int decimal", intQ, "5.5", "", true},
		{"int plus sign", intQ, "+5", "", true},
		{"int negative zero", intQ, "-0", "", true},
		{"int inner space", intQ, "5 00", "", true},
		{"int overflow", intQ, "99999999999999999999", "", true},
		{"float in range", floatQ, "7.5", "7.5", false},
		{"float integer text", floatQ, "8", "8", false},
		{"float above max", floatQ, "25", "", true},
		{"float NaN", floatQ, "NaN", "", true},
		{"float Inf", floatQ, "Inf", "", true},
		{"float garbage", floatQ, "seven", "", true},
		{"time colon", timeQ, "7:05", "7:05", false},
		{"time dot", timeQ, "23.59", "23.59", false},
		{"time hour out of range", timeQ, "24:00", "", true},
		{"time minute out of range", timeQ, "12:60", "", true},
		{"time one digit minute", timeQ, "12:5", "", true},
		{"time garbage", timeQ, "noon", "", true},
		{"category exact", catQ, "Good", "Good", false},
		{"category wrong case", catQ, "good", "", true},
		{"category unknown", catQ, "Great", "", true},
		{"text anything", textQ, "a bad exam", "a bad exam", false},
		{"text empty", textQ, "", "", false},
		{"optional still validated", optQ, "skip", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.q.Validate(tt.input)
			if tt.reject {
				if !errors.Is(err, ErrInvalidAnswer) {
					t.Fatalf("Validate(%q) error = %v, want ErrInvalidAnswer", tt.input, err)
				}
				var ve *ValidationError
				if !errors.As(err, &ve) || ve.Field != tt.q.Field {
					t.Errorf("expected *ValidationError for field %s, got %v", tt.q.Field, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Validate(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tests := map[string]int{
		"0:00":  0,
		"7:05":  425,
		"07.30": 450,
		"23:59": 1439,
	}
	for in, want := range tests {
		got, err := ParseTimeOfDay(in)
		if err != nil {
			t.Errorf("ParseTimeOfDay(%q) error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseTimeOfDay(%q) = %d, want %d", in, got, want)
		}
	}
	if _, err := ParseTimeOfDay("25:00"); err == nil {
		t.Error("expected error for 25:00")
	}
}

func TestHint(t *testing.T) {
	q := Question{Type: TypeCategory, Options: []string{"Male", "Female"}}
	if got := q.Hint(); got != "Please reply with one of: Male, Female." {
		t.Errorf("Hint = %q", got)
	}
	if got := (Question{Type: TypeText}).Hint(); got != "" {
		t.Errorf("text Hint = %q, want empty", got)
	}
}
