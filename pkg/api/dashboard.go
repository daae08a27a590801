package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/beacon/pkg/analytics"
	"github.com/platinummonkey/beacon/pkg/httputil"
	"github.com/platinummonkey/beacon/pkg/observability"
)

// MaxWindowDays bounds the days query parameter
const MaxWindowDays = 365

// Presence scopes
const (
	ScopeLocal   = "local"
	ScopeCluster = "cluster"
)

// visitorSummary handles GET /api/v1/analytics/visitors?days=30
func (s *Server) visitorSummary(w http.ResponseWriter, r *http.Request) {
	days, err := httputil.ParseQueryIntInRange(r, "days", s.opts.VisitorDays, 1, MaxWindowDays)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	summary, err := s.opts.Summaries.VisitorSummary(r.Context(), days)
	if err != nil {
		s.summaryError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, summary)
}

// interactionSummary handles GET /api/v1/analytics/interactions?days=7
func (s *Server) interactionSummary(w http.ResponseWriter, r *http.Request) {
	days, err := httputil.ParseQueryIntInRange(r, "days", s.opts.InteractionDays, 1, MaxWindowDays)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	summary, err := s.opts.Summaries.InteractionSummary(r.Context(), days)
	if err != nil {
		s.summaryError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, summary)
}

func (s *Server) summaryError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, analytics.ErrInvalidWindow) {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	observability.FromContext(r.Context()).WithError(err).Error("Failed to build summary")
	httputil.WriteInternalError(w, err)
}

// activePresence handles GET /api/v1/presence/active[?scope=cluster]
func (s *Server) activePresence(w http.ResponseWriter, r *http.Request) {
	switch scope := httputil.ParseQueryString(r, "scope", ScopeLocal); scope {
	case ScopeLocal:
		if s.opts.Observer == nil {
			httputil.WriteServiceUnavailable(w, "presence observer is not running")
			return
		}
		httputil.WriteSuccess(w, s.opts.Observer.Active())

	case ScopeCluster:
		if s.opts.Cluster == nil {
			httputil.WriteBadRequest(w, "cluster presence is not configured")
			return
		}
		active, err := s.opts.Cluster.LoadActive(r.Context(), s.opts.ObserverKey)
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Error("Failed to load cluster presence")
			httputil.WriteInternalError(w, err)
			return
		}
		httputil.WriteSuccess(w, active)

	default:
		httputil.WriteBadRequest(w, "scope must be local or cluster")
	}
}
