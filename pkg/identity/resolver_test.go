package identity

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromRequest(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "203.0.113.7:52114",
			want:       "203.0.113.7",
		},
		{
			name:       "x-forwarded-for single hop",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.4"},
			want:       "198.51.100.4",
		},
		{
			name:       "x-forwarded-for chain takes first hop",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.4, 10.0.0.2, 10.0.0.3"},
			want:       "198.51.100.4",
		},
		{
			name:       "x-real-ip fallback",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Real-IP": "198.51.100.9"},
			want:       "198.51.100.9",
		},
		{
			name:       "forwarded-for wins over real-ip",
			remoteAddr: "10.0.0.1:80",
			headers: map[string]string{
				"X-Forwarded-For": "198.51.100.4",
				"X-Real-IP":       "198.51.100.9",
			},
			want: "198.51.100.4",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "203.0.113.7",
			want:       "203.0.113.7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, FromRequest(r))
		})
	}
}
