package main

import (
	"net/http/httptest"
	"testing"
)

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{name: "wildcard", allowed: []string{"*"}, origin: "https://evil.example", want: true},
		{name: "listed", allowed: []string{"https://poker.example.com"}, origin: "https://poker.example.com", want: true},
		{name: "trailing slash", allowed: []string{"https://poker.example.com/"}, origin: "https://poker.example.com", want: true},
		{name: "not listed", allowed: []string{"https://poker.example.com"}, origin: "https://evil.example", want: false},
		{name: "no origin header", allowed: []string{"https://poker.example.com"}, origin: "", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws/room", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := originChecker(tt.allowed)(r); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
