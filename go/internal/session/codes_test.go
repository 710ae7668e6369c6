package session

import "testing"

func TestNewRoomCode(t *testing.T) {
	for i := 0; i < 100; i++ {
		if code := NewRoomCode(); !ValidRoomCode(code) {
			t.Fatalf("Expected valid code, got %q", code)
		}
	}
}

func TestValidRoomCode(t *testing.T) {
	tests := []struct {
		code  string
		valid bool
	}{
		{"ABCDEF", true},
		{"abcdef", false},
		{"ABCDE", false},
		{"ABCDEFG", false},
		{"ABC1EF", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := ValidRoomCode(tt.code); got != tt.valid {
				t.Errorf("Expected %v, got %v", tt.valid, got)
			}
		})
	}

	if got := NormalizeRoomCode("  qwErty "); got != "QWERTY" {
		t.Errorf("Expected QWERTY, got %q", got)
	}
}
