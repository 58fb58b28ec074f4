// Package types defines the JSON types served by the softphone HTTP API and
// consumed by the CLI.
package types

// HealthResponse is the response from /api/v1/health
type HealthResponse struct {
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
	Uptime int64  `json:"uptime"`
}

// Registration describes the registrar binding.
type Registration struct {
	State              string `json:"state"`
	Address            string `json:"address,omitempty"`
	ExpirySeconds      int    `json:"expiry_seconds"`
	ExpiresAt          string `json:"expires_at,omitempty"`
	SecondsUntilExpiry int    `json:"seconds_until_expiry"`
	ExpiringSoon       bool   `json:"expiring_soon"`
	LastRegistration   string `json:"last_registration,omitempty"`
	RetryCount         int    `json:"retry_count"`
	LastError          string `json:"last_error,omitempty"`
}

// SessionCounts summarizes the live registry.
type SessionCounts struct {
	Active     int  `json:"active"`
	Inbound    int  `json:"inbound"`
	Limit      int  `json:"limit"`
	AtCapacity bool `json:"at_capacity"`
}

// StatusResponse is the response from /api/v1/status
type StatusResponse struct {
	Connection   string        `json:"connection"`
	Ready        bool          `json:"ready"`
	LastError    string        `json:"last_error,omitempty"`
	HasEngine    bool          `json:"has_engine"`
	Server       string        `json:"server"`
	AOR          string        `json:"aor"`
	Registration Registration  `json:"registration"`
	Sessions     SessionCounts `json:"sessions"`
}

// StatsResponse is the response from /api/v1/stats
type StatsResponse struct {
	ActiveSessions  int   `json:"active_sessions"`
	InboundSessions int   `json:"inbound_sessions"`
	SessionLimit    int   `json:"session_limit"`
	TotalCalls      int   `json:"total_calls"`
	AnsweredCalls   int   `json:"answered_calls"`
	MissedCalls     int   `json:"missed_calls"`
	InboundCalls    int   `json:"inbound_calls"`
	OutboundCalls   int   `json:"outbound_calls"`
	TalkTimeSeconds int64 `json:"talk_time_seconds"`
}

// Session represents a live call
type Session struct {
	ID                string   `json:"id"`
	Direction         string   `json:"direction"`
	State             string   `json:"state"`
	LocalURI          string   `json:"local_uri,omitempty"`
	RemoteURI         string   `json:"remote_uri"`
	RemoteDisplayName string   `json:"remote_display_name,omitempty"`
	StartTime         string   `json:"start_time,omitempty"`
	AnswerTime        string   `json:"answer_time,omitempty"`
	Duration          int      `json:"duration"`
	OnHold            bool     `json:"on_hold"`
	Muted             bool     `json:"muted"`
	Video             bool     `json:"video"`
	Tags              []string `json:"tags,omitempty"`
}

// HistoryRecord represents a finished call
type HistoryRecord struct {
	ID                string   `json:"id"`
	Direction         string   `json:"direction"`
	FinalState        string   `json:"final_state"`
	RemoteURI         string   `json:"remote_uri"`
	RemoteDisplayName string   `json:"remote_display_name,omitempty"`
	StartTime         string   `json:"start_time,omitempty"`
	AnswerTime        string   `json:"answer_time,omitempty"`
	EndTime           string   `json:"end_time,omitempty"`
	Duration          int      `json:"duration"`
	Cause             string   `json:"cause"`
	Video             bool     `json:"video"`
	Answered          bool     `json:"answered"`
	Missed            bool     `json:"missed"`
	Tags              []string `json:"tags,omitempty"`
}

// HistoryResponse is the response from /api/v1/history
type HistoryResponse struct {
	Records    []HistoryRecord `json:"records"`
	TotalCount int             `json:"total_count"`
	HasMore    bool            `json:"has_more"`
}

// ClearResponse reports how many history records a DELETE removed.
type ClearResponse struct {
	Removed int `json:"removed"`
}

// MessageResponse acknowledges a command.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse carries a failed request's reason.
type ErrorResponse struct {
	Error string `json:"error"`
}
