package server

import (
	"net/http/httptest"
	"testing"
)

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		host   string
		want   bool
	}{
		{"same-origin request without header", "", "example.com", true},
		{"localhost", "http://localhost:8090", "example.com", true},
		{"loopback v4", "http://127.0.0.1:8090", "example.com", true},
		{"loopback v6", "http://[::1]:8090", "example.com", true},
		{"matching request host", "http://agent.internal:8090", "agent.internal:8090", true},
		{"private network", "http://192.168.1.50", "example.com", true},
		{"public origin", "http://evil.example.org", "agent.internal:8090", false},
		{"malformed origin", "://bad", "example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := checkOrigin(r); got != tt.want {
				t.Errorf("checkOrigin(origin=%q host=%q) = %v, want %v", tt.origin, tt.host, got, tt.want)
			}
		})
	}
}
