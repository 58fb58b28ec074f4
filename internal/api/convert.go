package api

import (
	"slices"
	"time"

	types "github.com/sebas/softphone/api/types/v1"
	"github.com/sebas/softphone/internal/history"
	"github.com/sebas/softphone/internal/lifecycle"
	"github.com/sebas/softphone/internal/session"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func sessionDTO(s session.Session, now time.Time) types.Session {
	return types.Session{
		ID:                s.ID,
		Direction:         s.Direction.String(),
		State:             s.State.String(),
		LocalURI:          s.LocalURI,
		RemoteURI:         s.RemoteURI,
		RemoteDisplayName: s.RemoteDisplayName,
		StartTime:         formatTime(s.StartTime),
		AnswerTime:        formatTime(s.AnswerTime),
		Duration:          int(s.DurationAt(now).Seconds()),
		OnHold:            s.OnHold,
		Muted:             s.Muted,
		Video:             s.Video,
		Tags:              slices.Clone(s.Tags),
	}
}

func sessionList(list []session.Session, now time.Time) []types.Session {
	out := make([]types.Session, 0, len(list))
	for _, s := range list {
		out = append(out, sessionDTO(s, now))
	}
	return out
}

func historyRecord(r history.Record) types.HistoryRecord {
	return types.HistoryRecord{
		ID:                r.ID,
		Direction:         r.Direction.String(),
		FinalState:        r.FinalState.String(),
		RemoteURI:         r.RemoteURI,
		RemoteDisplayName: r.RemoteDisplayName,
		StartTime:         formatTime(r.StartTime),
		AnswerTime:        formatTime(r.AnswerTime),
		EndTime:           formatTime(r.EndTime),
		Duration:          int(r.Duration.Seconds()),
		Cause:             r.Cause.String(),
		Video:             r.Video,
		Answered:          r.WasAnswered,
		Missed:            r.WasMissed,
		Tags:              slices.Clone(r.Tags),
	}
}

func statusResponse(st lifecycle.Status, server, aor string) types.StatusResponse {
	reg := st.Registration
	return types.StatusResponse{
		Connection: st.Connection.String(),
		Ready:      st.Ready,
		LastError:  st.LastError,
		HasEngine:  st.HasEngine,
		Server:     server,
		AOR:        aor,
		Registration: types.Registration{
			State:              reg.State.String(),
			Address:            reg.Address,
			ExpirySeconds:      reg.ExpirySeconds,
			ExpiresAt:          formatTime(reg.ExpiresAt),
			SecondsUntilExpiry: st.SecondsUntilExpiry,
			ExpiringSoon:       st.ExpiringSoon,
			LastRegistration:   formatTime(reg.LastRegistration),
			RetryCount:         reg.RetryCount,
			LastError:          reg.LastError,
		},
		Sessions: types.SessionCounts{
			Active:     st.Sessions.Active,
			Inbound:    st.Sessions.Inbound,
			Limit:      st.Sessions.Limit,
			AtCapacity: st.Sessions.AtCapacity,
		},
	}
}
