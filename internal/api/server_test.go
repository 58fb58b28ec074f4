package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/sebas/softphone/api/types/v1"
	"github.com/sebas/softphone/internal/config"
	"github.com/sebas/softphone/internal/events"
	"github.com/sebas/softphone/internal/history"
	"github.com/sebas/softphone/internal/lifecycle"
	"github.com/sebas/softphone/internal/session"
)

func newTestController(t *testing.T) *lifecycle.Orchestrator {
	t.Helper()
	cfg := config.Defaults()
	cfg.SIP.Server = "sip:pbx.example.com"
	cfg.SIP.AOR = "sip:alice@example.com"
	cfg.Client.AutoConnect = false
	o, err := lifecycle.New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close(context.Background()) })
	return o
}

// stubEngine accepts every command and records declined offers.
type stubEngine struct {
	mu       sync.Mutex
	rejected []string
}

func (e *stubEngine) Start(context.Context) error      { return nil }
func (e *stubEngine) Stop(context.Context) error       { return nil }
func (e *stubEngine) Register(context.Context) error   { return nil }
func (e *stubEngine) Unregister(context.Context) error { return nil }

func (e *stubEngine) Reject(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rejected = append(e.rejected, id)
	return nil
}

func (e *stubEngine) rejectedIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.rejected...)
}

func newEngineController(t *testing.T) (*lifecycle.Orchestrator, *stubEngine) {
	t.Helper()
	cfg := config.Defaults()
	cfg.SIP.Server = "sip:pbx.example.com"
	cfg.SIP.AOR = "sip:alice@example.com"
	cfg.Client.AutoConnect = false
	eng := &stubEngine{}
	o, err := lifecycle.New(cfg, func(config.Config, events.Publisher) (lifecycle.Engine, error) {
		return eng, nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close(context.Background()) })
	return o, eng
}

func inbound(id, remote string, start time.Time) session.Session {
	return session.Session{
		ID:        id,
		Direction: session.DirectionInbound,
		State:     session.StateRinging,
		RemoteURI: remote,
		StartTime: start,
	}
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	s := NewServer("127.0.0.1:0", newTestController(t))

	rec := do(t, s.Handler(), http.MethodGet, "/api/v1/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decode[types.HealthResponse](t, rec)
	assert.Equal(t, "degraded", resp.Status)
	assert.False(t, resp.Ready)

	rec = do(t, s.Handler(), http.MethodPost, "/api/v1/health")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatus(t *testing.T) {
	s := NewServer("127.0.0.1:0", newTestController(t))

	rec := do(t, s.Handler(), http.MethodGet, "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	st := decode[types.StatusResponse](t, rec)
	assert.Equal(t, "Disconnected", st.Connection)
	assert.False(t, st.HasEngine)
	assert.Equal(t, "sip:pbx.example.com", st.Server)
	assert.Equal(t, "sip:alice@example.com", st.AOR)
	assert.Equal(t, "Unregistered", st.Registration.State)
	assert.Equal(t, 2, st.Sessions.Limit)
}

func TestSessionsAndInboundQueue(t *testing.T) {
	o := newTestController(t)
	now := time.Now()
	require.True(t, o.AdmitSession(inbound("a", "sip:bob@example.org", now)))
	require.True(t, o.AdmitSession(session.Session{
		ID:         "b",
		Direction:  session.DirectionOutbound,
		State:      session.StateActive,
		RemoteURI:  "sip:carol@example.org",
		StartTime:  now.Add(-time.Minute),
		AnswerTime: now.Add(-30 * time.Second),
	}))
	s := NewServer("127.0.0.1:0", o)

	rec := do(t, s.Handler(), http.MethodGet, "/api/v1/sessions")
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[[]types.Session](t, rec)
	assert.Len(t, all, 2)

	rec = do(t, s.Handler(), http.MethodGet, "/api/v1/sessions/inbound")
	require.Equal(t, http.StatusOK, rec.Code)
	queue := decode[[]types.Session](t, rec)
	require.Len(t, queue, 1)
	assert.Equal(t, "a", queue[0].ID)
	assert.Equal(t, "inbound", queue[0].Direction)

	rec = do(t, s.Handler(), http.MethodGet, "/api/v1/stats")
	stats := decode[types.StatsResponse](t, rec)
	assert.Equal(t, 2, stats.ActiveSessions)
	assert.Equal(t, 1, stats.InboundSessions)
}

func TestDeleteSession_EndsAsLocalHangup(t *testing.T) {
	o := newTestController(t)
	now := time.Now()
	require.True(t, o.AdmitSession(session.Session{
		ID:         "call/1",
		Direction:  session.DirectionOutbound,
		State:      session.StateActive,
		RemoteURI:  "sip:carol@example.org",
		StartTime:  now.Add(-time.Minute),
		AnswerTime: now.Add(-30 * time.Second),
	}))
	s := NewServer("127.0.0.1:0", o)

	rec := do(t, s.Handler(), http.MethodDelete, "/api/v1/sessions/"+url.PathEscape("call/1"))
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[types.HistoryRecord](t, rec)
	assert.Equal(t, "call/1", got.ID)
	assert.Equal(t, session.CauseLocalHangup.String(), got.Cause)
	assert.Empty(t, o.Sessions())

	rec = do(t, s.Handler(), http.MethodDelete, "/api/v1/sessions/"+url.PathEscape("call/1"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteSession_RingingOfferIsDeclined(t *testing.T) {
	o, eng := newEngineController(t)
	require.True(t, o.AdmitSession(inbound("a", "sip:bob@example.org", time.Now())))
	s := NewServer("127.0.0.1:0", o)

	rec := do(t, s.Handler(), http.MethodDelete, "/api/v1/sessions/a")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[types.HistoryRecord](t, rec)
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, session.CauseRejected.String(), got.Cause)
	assert.Equal(t, []string{"a"}, eng.rejectedIDs(), "the caller is answered through the engine")
	assert.Empty(t, o.Sessions())
}

func TestRejectWithoutEngine(t *testing.T) {
	o := newTestController(t)
	require.True(t, o.AdmitSession(inbound("a", "sip:bob@example.org", time.Now())))
	s := NewServer("127.0.0.1:0", o)

	rec := do(t, s.Handler(), http.MethodDelete, "/api/v1/sessions/a?action=reject")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Len(t, o.Sessions(), 1)

	rec = do(t, s.Handler(), http.MethodDelete, "/api/v1/sessions/a")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "a ringing offer is never dropped silently")
	assert.Len(t, o.Sessions(), 1)

	rec = do(t, s.Handler(), http.MethodDelete, "/api/v1/sessions/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCommandsWithoutEngine(t *testing.T) {
	s := NewServer("127.0.0.1:0", newTestController(t))

	rec := do(t, s.Handler(), http.MethodPost, "/api/v1/disconnect")
	assert.Equal(t, http.StatusAccepted, rec.Code, "disconnect without an engine is a no-op")

	for _, path := range []string{"/api/v1/connect", "/api/v1/register", "/api/v1/unregister"} {
		t.Run(path, func(t *testing.T) {
			rec := do(t, s.Handler(), http.MethodPost, path)
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
			resp := decode[types.ErrorResponse](t, rec)
			assert.Contains(t, resp.Error, "no signaling engine")

			rec = do(t, s.Handler(), http.MethodGet, path)
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		})
	}
}

func seedHistory(t *testing.T, o *lifecycle.Orchestrator) {
	t.Helper()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.True(t, o.AdmitSession(inbound("missed", "sip:bob@example.org", base)))
	o.EndSession("missed", session.CauseNoAnswer)

	require.True(t, o.AdmitSession(session.Session{
		ID:         "answered",
		Direction:  session.DirectionOutbound,
		State:      session.StateActive,
		RemoteURI:  "sip:carol@example.org",
		StartTime:  base.Add(time.Hour),
		AnswerTime: base.Add(time.Hour + 5*time.Second),
		Tags:       []string{"work"},
	}))
	o.EndSession("answered", session.CauseLocalHangup)
}

func TestHistory_Filters(t *testing.T) {
	o := newTestController(t)
	seedHistory(t, o)
	s := NewServer("127.0.0.1:0", o)

	rec := do(t, s.Handler(), http.MethodGet, "/api/v1/history")
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[types.HistoryResponse](t, rec)
	assert.Equal(t, 2, all.TotalCount)
	assert.False(t, all.HasMore)

	rec = do(t, s.Handler(), http.MethodGet, "/api/v1/history?missed=true")
	missed := decode[types.HistoryResponse](t, rec)
	require.Len(t, missed.Records, 1)
	assert.Equal(t, "missed", missed.Records[0].ID)
	assert.True(t, missed.Records[0].Missed)

	rec = do(t, s.Handler(), http.MethodGet, "/api/v1/history?tag=work&direction=outbound")
	tagged := decode[types.HistoryResponse](t, rec)
	require.Len(t, tagged.Records, 1)
	assert.Equal(t, "answered", tagged.Records[0].ID)

	rec = do(t, s.Handler(), http.MethodGet, "/api/v1/history?limit=1&sort=time&order=asc")
	page := decode[types.HistoryResponse](t, rec)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "missed", page.Records[0].ID)
	assert.True(t, page.HasMore)
	assert.Equal(t, 2, page.TotalCount)

	rec = do(t, s.Handler(), http.MethodGet, "/api/v1/history?answered=maybe")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistory_Delete(t *testing.T) {
	o := newTestController(t)
	seedHistory(t, o)
	s := NewServer("127.0.0.1:0", o)

	rec := do(t, s.Handler(), http.MethodDelete, "/api/v1/history/missed")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[types.ClearResponse](t, rec).Removed)

	rec = do(t, s.Handler(), http.MethodDelete, "/api/v1/history/missed")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s.Handler(), http.MethodDelete, "/api/v1/history?direction=inbound")
	assert.Equal(t, 0, decode[types.ClearResponse](t, rec).Removed)

	rec = do(t, s.Handler(), http.MethodDelete, "/api/v1/history")
	assert.Equal(t, 1, decode[types.ClearResponse](t, rec).Removed)
	assert.Empty(t, o.QueryHistory(history.Filter{}))
}

func TestParseFilter(t *testing.T) {
	q := url.Values{}
	q.Set("direction", "inbound")
	q.Set("video", "false")
	q.Set("from", "2026-03-01T00:00:00Z")
	q.Add("tag", "work,family")
	q.Add("tag", "vip")
	q.Set("sort", "duration")
	q.Set("order", "desc")
	q.Set("offset", "5")

	f, err := ParseFilter(q)
	require.NoError(t, err)
	require.NotNil(t, f.Direction)
	assert.Equal(t, session.DirectionInbound, *f.Direction)
	require.NotNil(t, f.Video)
	assert.False(t, *f.Video)
	assert.Nil(t, f.Answered)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), f.From)
	assert.Equal(t, []string{"work", "family", "vip"}, f.Tags)
	assert.Equal(t, history.SortByDuration, f.SortBy)
	assert.Equal(t, history.Descending, f.Order)
	assert.Equal(t, 5, f.Offset)

	bad := []url.Values{
		{"direction": {"sideways"}},
		{"from": {"yesterday"}},
		{"sort": {"color"}},
		{"order": {"up"}},
		{"limit": {"-1"}},
	}
	for _, q := range bad {
		_, err := ParseFilter(q)
		assert.Error(t, err, q.Encode())
	}
}

func TestStartStop(t *testing.T) {
	s := NewServer("127.0.0.1:0", newTestController(t))
	require.NoError(t, s.Start())

	resp, err := http.Get("http://" + s.Addr() + "/api/v1/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
