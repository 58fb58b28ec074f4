package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SOFTPHONE_SIP_SERVER.
const EnvPrefix = "SOFTPHONE"

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"server":        "sip.server",
	"transport":     "sip.transport",
	"aor":           "sip.aor",
	"username":      "sip.username",
	"password":      "sip.password",
	"bind":          "sip.bind_addr",
	"expiry":        "sip.register_expiry",
	"auto-connect":  "client.auto_connect",
	"auto-register": "client.auto_register",
	"max-sessions":  "client.max_concurrent_sessions",
	"log-level":     "log.level",
	"http-addr":     "api.http_addr",
	"grpc-addr":     "api.grpc_health_addr",
}

// RegisterFlags defines the configuration flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("server", d.SIP.Server, "SIP registrar URI (sip:host[:port])")
	fs.String("transport", d.SIP.Transport, "SIP transport (udp, tcp, tls, ws, wss)")
	fs.String("aor", d.SIP.AOR, "Address of record to register (sip:user@domain)")
	fs.String("username", d.SIP.Username, "Digest auth username")
	fs.String("password", d.SIP.Password, "Digest auth password")
	fs.String("bind", d.SIP.BindAddr, "Local SIP listen address")
	fs.Int("expiry", d.SIP.RegisterExpiry, "Registration lifetime in seconds")
	fs.Bool("auto-connect", d.Client.AutoConnect, "Connect on startup")
	fs.Bool("auto-register", d.Client.AutoRegister, "Register as soon as connected")
	fs.Int("max-sessions", d.Client.MaxConcurrentSessions, "Concurrent session limit (0 = unlimited)")
	fs.String("log-level", d.Log.Level, "Log level (debug, info, warn, error)")
	fs.String("http-addr", d.API.HTTPAddr, "HTTP API listen address (empty to disable)")
	fs.String("grpc-addr", d.API.GRPCHealthAddr, "gRPC health listen address (empty to disable)")
}

// Loader reads the configuration from a YAML file, SOFTPHONE_* environment
// variables and bound flags, in increasing order of precedence.
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader creates a loader for the file at path. An empty path loads
// defaults and overrides only.
func NewLoader(path string) *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Defaults())
	return &Loader{v: v, path: path}
}

// setDefaults registers every key so that env overrides apply on Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("sip.server", d.SIP.Server)
	v.SetDefault("sip.transport", d.SIP.Transport)
	v.SetDefault("sip.aor", d.SIP.AOR)
	v.SetDefault("sip.username", d.SIP.Username)
	v.SetDefault("sip.password", d.SIP.Password)
	v.SetDefault("sip.display_name", d.SIP.DisplayName)
	v.SetDefault("sip.user_agent", d.SIP.UserAgent)
	v.SetDefault("sip.bind_addr", d.SIP.BindAddr)
	v.SetDefault("sip.register_expiry", d.SIP.RegisterExpiry)
	v.SetDefault("sip.refresh_ratio", d.SIP.RefreshRatio)
	v.SetDefault("sip.command_timeout", d.SIP.CommandTimeout)
	v.SetDefault("sip.invite_timeout", d.SIP.InviteTimeout)
	v.SetDefault("client.auto_connect", d.Client.AutoConnect)
	v.SetDefault("client.auto_register", d.Client.AutoRegister)
	v.SetDefault("client.max_concurrent_sessions", d.Client.MaxConcurrentSessions)
	v.SetDefault("client.auto_reject_when_busy", d.Client.AutoRejectWhenBusy)
	v.SetDefault("history.max_entries", d.History.MaxEntries)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.sip_level", d.Log.SIPLevel)
	v.SetDefault("api.http_addr", d.API.HTTPAddr)
	v.SetDefault("api.grpc_health_addr", d.API.GRPCHealthAddr)
}

// BindFlags makes flags registered with RegisterFlags override file and env.
func (l *Loader) BindFlags(fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := l.v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Path returns the configuration file path, if any.
func (l *Loader) Path() string {
	return l.path
}

// Load reads the file (a missing file is not an error) and decodes the
// result. It does not validate.
func (l *Loader) Load() (Config, error) {
	if l.path != "" {
		if err := l.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config %s: %w", l.path, err)
			}
			slog.Warn("[Config] File not found, using defaults", "path", l.path)
		} else {
			slog.Debug("[Config] Loaded", "path", l.v.ConfigFileUsed())
		}
	}
	return l.decode()
}

func (l *Loader) decode() (Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Watch calls fn with every valid configuration written to the file after
// this call. Invalid edits are logged and skipped.
func (l *Loader) Watch(fn func(Config)) {
	if l.path == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			slog.Warn("[Config] Ignoring invalid change", "path", e.Name, "error", err)
			return
		}
		slog.Info("[Config] Reloaded", "path", e.Name, "op", e.Op.String())
		fn(cfg)
	})
	l.v.WatchConfig()
}
