package gateway

import "testing"

func TestExtractRoomCodeFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/rooms/ABCDEF/state", "ABCDEF"},
		{"/api/rooms/abcdef/state", "abcdef"},
		{"/api/rooms//state", ""},
		{"/api/rooms/ABCDEF", ""},
		{"/api/other/ABCDEF/state", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := extractRoomCodeFromPath(tt.path); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
