package analytics

import (
	"net"
	"net/http"
	"strings"
)

// Geo headers set by the edge proxy
const (
	HeaderCountry = "CF-IPCountry"
	HeaderCity    = "CF-IPCity"
)

// GetClientIP extracts client IP address from request
func GetClientIP(r *http.Request) string {
	// Try X-Forwarded-For header first (proxy/load balancer)
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		// Take the first IP if multiple
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}

	realIP := r.Header.Get("X-Real-IP")
	if realIP != "" {
		return realIP
	}

	// RemoteAddr includes port, strip it
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// RemoteIP returns the address of the connected peer, ignoring proxy headers
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// GetUserAgent extracts user agent from request
func GetUserAgent(r *http.Request) string {
	return r.UserAgent()
}

// GetReferrer extracts referrer from request
func GetReferrer(r *http.Request) string {
	return r.Header.Get("Referer")
}

// GetCountry returns the edge-provided country code. "XX" and "T1" mean unknown or Tor.
func GetCountry(r *http.Request) string {
	country := strings.ToUpper(strings.TrimSpace(r.Header.Get(HeaderCountry)))
	if country == "XX" || country == "T1" {
		return ""
	}
	return country
}

// GetCity returns the edge-provided city
func GetCity(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderCity))
}

// EnrichVisit fills fields the client left empty from the ingest request
func EnrichVisit(r *http.Request, visit *VisitRecord) {
	if visit.UserAgent == "" {
		visit.UserAgent = GetUserAgent(r)
	}
	if visit.Country == nil {
		visit.Country = StringPtr(GetCountry(r))
	}
	if visit.City == nil {
		visit.City = StringPtr(GetCity(r))
	}
}
