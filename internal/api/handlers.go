package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	types "github.com/sebas/softphone/api/types/v1"
	"github.com/sebas/softphone/internal/session"
)

// --- Health & Stats ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	ready := s.ctl.Status().Ready
	status := "ok"
	if !ready {
		status = "degraded"
	}
	s.writeJSON(w, http.StatusOK, types.HealthResponse{
		Status: status,
		Ready:  ready,
		Uptime: int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	cfg := s.ctl.Config()
	s.writeJSON(w, http.StatusOK, statusResponse(s.ctl.Status(), cfg.SIP.Server, cfg.SIP.AOR))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	st := s.ctl.Status()
	s.writeJSON(w, http.StatusOK, types.StatsResponse{
		ActiveSessions:  st.Sessions.Active,
		InboundSessions: st.Sessions.Inbound,
		SessionLimit:    st.Sessions.Limit,
		TotalCalls:      st.History.Total,
		AnsweredCalls:   st.History.Answered,
		MissedCalls:     st.History.Missed,
		InboundCalls:    st.History.Inbound,
		OutboundCalls:   st.History.Outbound,
		TalkTimeSeconds: int64(st.History.TalkTime.Seconds()),
	})
}

// --- Sessions ---

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, sessionList(s.ctl.Sessions(), s.now()))
}

// handleSessionByID serves GET /api/v1/sessions/inbound and
// DELETE /api/v1/sessions/{id}. DELETE declines an inbound offer that is
// still ringing through the engine, as ?action=reject does for any session,
// and ends everything else as a local hangup. Both answer with the history
// record.
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "/api/v1/sessions/")
	if !ok {
		return
	}

	if id == "inbound" {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		s.writeJSON(w, http.StatusOK, sessionList(s.ctl.InboundQueue(), s.now()))
		return
	}

	if !allowMethod(w, r, http.MethodDelete) {
		return
	}

	current, ok := s.ctl.Session(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}

	offering := current.Direction == session.DirectionInbound && current.State.IsOffering()
	if r.URL.Query().Get("action") == "reject" || offering {
		if err := s.ctl.RejectSession(r.Context(), id); err != nil {
			slog.Warn("[API] Reject failed", "session_id", id, "error", err)
			s.writeCommandError(w, err)
			return
		}
		rec, ok := s.ctl.HistoryRecord(id)
		if !ok {
			s.writeJSON(w, http.StatusOK, types.MessageResponse{Message: "Session rejected"})
			return
		}
		s.writeJSON(w, http.StatusOK, historyRecord(rec))
		return
	}

	rec, ok := s.ctl.EndSession(id, session.CauseLocalHangup)
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.writeJSON(w, http.StatusOK, historyRecord(rec))
}

// --- History ---

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, http.MethodDelete) {
		return
	}

	q := r.URL.Query()
	filter, err := ParseFilter(q)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if r.Method == http.MethodDelete {
		var removed int
		if len(q) == 0 {
			removed = s.ctl.Status().History.Total
			s.ctl.ClearHistory()
		} else {
			removed = s.ctl.ClearHistoryMatching(filter)
		}
		slog.Info("[API] History cleared", "removed", removed)
		s.writeJSON(w, http.StatusOK, types.ClearResponse{Removed: removed})
		return
	}

	res := s.ctl.SearchHistory(filter)
	out := types.HistoryResponse{
		Records:    make([]types.HistoryRecord, 0, len(res.Records)),
		TotalCount: res.TotalCount,
		HasMore:    res.HasMore,
	}
	for _, rec := range res.Records {
		out.Records = append(out.Records, historyRecord(rec))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistoryByID(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodDelete) {
		return
	}
	id, ok := pathID(w, r, "/api/v1/history/")
	if !ok {
		return
	}
	if !s.ctl.DeleteHistory(id) {
		s.writeError(w, http.StatusNotFound, "record not found")
		return
	}
	s.writeJSON(w, http.StatusOK, types.ClearResponse{Removed: 1})
}

// --- Commands ---

func (s *Server) command(name string, fn func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		if err := fn(r.Context()); err != nil {
			s.writeCommandError(w, err)
			return
		}
		slog.Info("[API] Command accepted", "command", name)
		s.writeJSON(w, http.StatusAccepted, types.MessageResponse{Message: name + " accepted"})
	}
}

// pathID extracts and unescapes the trailing path segment.
func pathID(w http.ResponseWriter, r *http.Request, prefix string) (string, bool) {
	raw := strings.TrimPrefix(r.URL.EscapedPath(), prefix)
	if raw == "" || strings.Contains(raw, "/") {
		http.Error(w, "ID required", http.StatusBadRequest)
		return "", false
	}
	id, err := url.PathUnescape(raw)
	if err != nil {
		http.Error(w, "Invalid ID encoding", http.StatusBadRequest)
		return "", false
	}
	return id, true
}
