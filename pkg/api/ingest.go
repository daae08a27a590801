package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/platinummonkey/beacon/pkg/analytics"
	"github.com/platinummonkey/beacon/pkg/capture"
	"github.com/platinummonkey/beacon/pkg/httputil"
	"github.com/platinummonkey/beacon/pkg/observability"
)

// MaxBatchSize bounds POST /api/v1/events/batch
const MaxBatchSize = 200

// BatchRequest is the body of POST /api/v1/events/batch
type BatchRequest struct {
	Events []analytics.InteractionEvent `json:"events"`
}

// ClickRequest is the body of POST /api/v1/events/click. Target is the raw
// clicked node with its ancestors; the interactive element is resolved
// server side.
type ClickRequest struct {
	SessionID      string        `json:"session_id"`
	PagePath       string        `json:"page_path"`
	Target         *capture.Node `json:"target"`
	ViewportWidth  int           `json:"viewport_width"`
	ViewportHeight int           `json:"viewport_height"`
}

// recordVisit handles POST /api/v1/visits
func (s *Server) recordVisit(w http.ResponseWriter, r *http.Request) {
	var visit analytics.VisitRecord
	if !httputil.ParseJSONOrError(w, r, &visit) {
		return
	}
	visit.ID = 0
	analytics.EnrichVisit(r, &visit)

	s.ingestResult(w, r, analytics.KindVisit, s.opts.Ingest.RecordVisit(r.Context(), visit))
}

// recordEvent handles POST /api/v1/events
func (s *Server) recordEvent(w http.ResponseWriter, r *http.Request) {
	var event analytics.InteractionEvent
	if !httputil.ParseJSONOrError(w, r, &event) {
		return
	}
	event.ID = 0

	s.ingestResult(w, r, analytics.KindInteraction, s.opts.Ingest.RecordInteraction(r.Context(), event))
}

// recordEvents handles POST /api/v1/events/batch
func (s *Server) recordEvents(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.Events) == 0 {
		httputil.WriteBadRequest(w, "events must not be empty")
		return
	}
	if len(req.Events) > MaxBatchSize {
		httputil.WriteBadRequest(w, fmt.Sprintf("at most %d events per batch", MaxBatchSize))
		return
	}
	for i := range req.Events {
		req.Events[i].ID = 0
	}

	s.ingestResult(w, r, analytics.KindInteraction, s.opts.Ingest.RecordInteractions(r.Context(), req.Events))
}

// recordClick handles POST /api/v1/events/click. A click with no
// interactive ancestor is accepted and ignored.
func (s *Server) recordClick(w http.ResponseWriter, r *http.Request) {
	var req ClickRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Target == nil {
		httputil.WriteBadRequest(w, "target is required")
		return
	}

	event, ok := capture.ClickEvent(req.Target)
	if !ok {
		httputil.WriteNoContent(w)
		return
	}
	event.SessionID = req.SessionID
	event.PagePath = req.PagePath
	event.ViewportWidth = req.ViewportWidth
	event.ViewportHeight = req.ViewportHeight

	s.ingestResult(w, r, analytics.KindInteraction, s.opts.Ingest.RecordInteraction(r.Context(), event))
}

func (s *Server) ingestResult(w http.ResponseWriter, r *http.Request, kind string, err error) {
	switch {
	case err == nil:
		httputil.WriteNoContent(w)
	case errors.Is(err, analytics.ErrInvalidEvent):
		httputil.WriteBadRequest(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).WithField("kind", kind).Warn("Failed to record event")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "failed to record "+kind)
	}
}
