// Package config holds the softphone configuration and its loader.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every ValidationError.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete client configuration. Replacing it at runtime
// reinitializes the signaling engine.
type Config struct {
	SIP     SIPConfig     `mapstructure:"sip" yaml:"sip"`
	Client  ClientConfig  `mapstructure:"client" yaml:"client"`
	History HistoryConfig `mapstructure:"history" yaml:"history"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	API     APIConfig     `mapstructure:"api" yaml:"api"`
}

// SIPConfig configures the signaling engine.
type SIPConfig struct {
	// Server is the registrar / outbound proxy URI, e.g. sip:pbx.example.com:5060
	Server    string `mapstructure:"server" yaml:"server"`
	Transport string `mapstructure:"transport" yaml:"transport"`
	// AOR is the address of record we register, e.g. sip:alice@example.com
	AOR         string `mapstructure:"aor" yaml:"aor"`
	Username    string `mapstructure:"username" yaml:"username"`
	Password    string `mapstructure:"password" yaml:"password"`
	DisplayName string `mapstructure:"display_name" yaml:"display_name"`
	UserAgent   string `mapstructure:"user_agent" yaml:"user_agent"`
	// BindAddr is the local host:port the user agent listens on
	BindAddr string `mapstructure:"bind_addr" yaml:"bind_addr"`

	RegisterExpiry int     `mapstructure:"register_expiry" yaml:"register_expiry"`
	RefreshRatio   float64 `mapstructure:"refresh_ratio" yaml:"refresh_ratio"`

	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	// InviteTimeout bounds how long an unanswered inbound offer is kept
	InviteTimeout time.Duration `mapstructure:"invite_timeout" yaml:"invite_timeout"`
}

// ClientConfig configures the lifecycle orchestrator.
type ClientConfig struct {
	AutoConnect           bool `mapstructure:"auto_connect" yaml:"auto_connect"`
	AutoRegister          bool `mapstructure:"auto_register" yaml:"auto_register"`
	MaxConcurrentSessions int  `mapstructure:"max_concurrent_sessions" yaml:"max_concurrent_sessions"`
	AutoRejectWhenBusy    bool `mapstructure:"auto_reject_when_busy" yaml:"auto_reject_when_busy"`
}

// HistoryConfig configures the history ledger.
type HistoryConfig struct {
	MaxEntries int `mapstructure:"max_entries" yaml:"max_entries"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	// SIPLevel is the level for the SIP stack's own logs
	SIPLevel string `mapstructure:"sip_level" yaml:"sip_level"`
}

// APIConfig configures the local control surfaces. Empty addresses disable them.
type APIConfig struct {
	HTTPAddr       string `mapstructure:"http_addr" yaml:"http_addr"`
	GRPCHealthAddr string `mapstructure:"grpc_health_addr" yaml:"grpc_health_addr"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		SIP: SIPConfig{
			Transport:      "udp",
			UserAgent:      "softphone/1.0",
			BindAddr:       "0.0.0.0:5070",
			RegisterExpiry: 600,
			RefreshRatio:   0.9,
			CommandTimeout: 10 * time.Second,
			InviteTimeout:  2 * time.Minute,
		},
		Client: ClientConfig{
			AutoConnect:           true,
			AutoRegister:          true,
			MaxConcurrentSessions: 2,
		},
		History: HistoryConfig{MaxEntries: 1000},
		Log:     LogConfig{Level: "info", SIPLevel: "warn"},
		API:     APIConfig{HTTPAddr: "127.0.0.1:8089"},
	}
}

// ValidationError describes one invalid field.
type ValidationError struct {
	Field  string
	Reason string
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Unwrap returns ErrInvalid.
func (e *ValidationError) Unwrap() error {
	return ErrInvalid
}

var (
	validTransports = []string{"udp", "tcp", "tls", "ws", "wss"}
	validLevels     = []string{"debug", "info", "warn", "warning", "error"}
)

// Validate checks the configuration. The returned error joins one
// ValidationError per problem; errors.Is(err, ErrInvalid) holds for it.
func (c Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if !isSIPURI(c.SIP.Server) {
		add("sip.server", "must be a sip: or sips: URI, got %q", c.SIP.Server)
	}
	if !isSIPURI(c.SIP.AOR) {
		add("sip.aor", "must be a sip: or sips: URI, got %q", c.SIP.AOR)
	}
	if !slices.Contains(validTransports, strings.ToLower(c.SIP.Transport)) {
		add("sip.transport", "must be one of %v, got %q", validTransports, c.SIP.Transport)
	}
	if c.SIP.RegisterExpiry <= 0 {
		add("sip.register_expiry", "must be positive, got %d", c.SIP.RegisterExpiry)
	}
	if c.SIP.RefreshRatio <= 0 || c.SIP.RefreshRatio > 1 {
		add("sip.refresh_ratio", "must be in (0, 1], got %v", c.SIP.RefreshRatio)
	}
	if c.SIP.CommandTimeout <= 0 {
		add("sip.command_timeout", "must be positive, got %s", c.SIP.CommandTimeout)
	}
	if c.SIP.InviteTimeout <= 0 {
		add("sip.invite_timeout", "must be positive, got %s", c.SIP.InviteTimeout)
	}
	if c.Client.MaxConcurrentSessions < 0 {
		add("client.max_concurrent_sessions", "must not be negative, got %d", c.Client.MaxConcurrentSessions)
	}
	if c.History.MaxEntries < 0 {
		add("history.max_entries", "must not be negative, got %d", c.History.MaxEntries)
	}
	for field, level := range map[string]string{"log.level": c.Log.Level, "log.sip_level": c.Log.SIPLevel} {
		if level != "" && !slices.Contains(validLevels, strings.ToLower(level)) {
			add(field, "must be one of %v, got %q", validLevels, level)
		}
	}
	return errors.Join(errs...)
}

// YAML renders the configuration with the password masked.
func (c Config) YAML() ([]byte, error) {
	if c.SIP.Password != "" {
		c.SIP.Password = "********"
	}
	return yaml.Marshal(c)
}

func isSIPURI(s string) bool {
	s = strings.ToLower(s)
	return (strings.HasPrefix(s, "sip:") && len(s) > 4) || (strings.HasPrefix(s, "sips:") && len(s) > 5)
}
