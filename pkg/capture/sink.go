package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/beacon/pkg/analytics"
)

// Ingest API paths
const (
	VisitsPath = "/api/v1/visits"
	EventsPath = "/api/v1/events"
)

// HTTPSink posts captured rows to a Beacon ingest API
type HTTPSink struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NewHTTPSink creates a sink posting to baseURL. A nil client gets a traced
// client with a 10s timeout.
func NewHTTPSink(baseURL string, client *http.Client) *HTTPSink {
	if client == nil {
		client = &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &HTTPSink{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: "beacon-capture/1",
		client:    client,
	}
}

func (s *HTTPSink) RecordVisit(ctx context.Context, visit analytics.VisitRecord) error {
	return s.post(ctx, VisitsPath, visit)
}

func (s *HTTPSink) RecordInteraction(ctx context.Context, event analytics.InteractionEvent) error {
	return s.post(ctx, EventsPath, event)
}

func (s *HTTPSink) post(ctx context.Context, path string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Error != "" {
			return fmt.Errorf("ingest returned %d: %s", resp.StatusCode, body.Error)
		}
		return fmt.Errorf("ingest returned non-2xx status: %d", resp.StatusCode)
	}
	return nil
}
