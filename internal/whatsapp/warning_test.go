package whatsapp

import "testing"

func TestHasForeignKeys(t *testing.T) {
	tests := []struct {
		dsn  string
		want bool
	}{
		{"/tmp/test.db", false},
		{"file:/tmp/test.db?_foreign_keys=on", true},
		{"/tmp/test.db?foreign_keys=on", true},
	}
	for _, tt := range tests {
		if got := hasForeignKeys(tt.dsn); got != tt.want {
			t.Errorf("hasForeignKeys(%q) = %v, want %v", tt.dsn, got, tt.want)
		}
	}
}
