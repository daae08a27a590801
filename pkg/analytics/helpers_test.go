package analytics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		expected   string
	}{
		{"forwarded for takes first hop", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "10.0.0.2:443", "203.0.113.9"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.2:443", "198.51.100.4"},
		{"remote addr without port", nil, "192.0.2.7:51234", "192.0.2.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/visits", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, GetClientIP(req))
		})
	}
}

func TestRemoteIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/visits", nil)
	req.RemoteAddr = "192.0.2.7:51234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "192.0.2.7", RemoteIP(req), "proxy headers are ignored")

	req.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", RemoteIP(req))

	req.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", RemoteIP(req))
}

func TestGetCountry(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	assert.Empty(t, GetCountry(req))

	req.Header.Set(HeaderCountry, "ng")
	assert.Equal(t, "NG", GetCountry(req))

	req.Header.Set(HeaderCountry, "XX")
	assert.Empty(t, GetCountry(req))
}

func TestEnrichVisit(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/visits", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set(HeaderCountry, "GH")
	req.Header.Set(HeaderCity, "Accra")

	visit := VisitRecord{SessionID: "s1", PagePath: "/"}
	EnrichVisit(req, &visit)

	assert.Equal(t, "Mozilla/5.0", visit.UserAgent)
	assert.Equal(t, "GH", *visit.Country)
	assert.Equal(t, "Accra", *visit.City)

	// client values win
	visit = VisitRecord{SessionID: "s1", PagePath: "/", UserAgent: "custom", Country: StringPtr("KE")}
	EnrichVisit(req, &visit)
	assert.Equal(t, "custom", visit.UserAgent)
	assert.Equal(t, "KE", *visit.Country)
	assert.Equal(t, "Accra", *visit.City)
}

func TestEnrichVisit_NoHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/visits", nil)
	req.Header.Del("User-Agent")

	visit := VisitRecord{SessionID: "s1", PagePath: "/"}
	EnrichVisit(req, &visit)

	assert.Nil(t, visit.Country)
	assert.Nil(t, visit.City)
}
