package apteryx

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Codec names accepted by Config.Codec.
const (
	CodecJSON = "json"
	CodecGob  = "gob"
)

const (
	// DefaultSocket is the daemon's well-known listen socket when Socket is
	// left empty.
	DefaultSocket = "/var/run/apteryx/apteryxd.sock"
	// DefaultClientSocketDir is what Validate puts in ClientSocketDir when it
	// is left empty. Clients do not read it: each names its callback socket
	// "apteryx.<pid>.sock" inside its own client.Config.CallbackSocketDir.
	DefaultClientSocketDir = "/var/run/apteryx/clients"
	// DefaultCodec is used when Codec is left empty.
	DefaultCodec = CodecJSON
	// DefaultRPCTimeout bounds every daemon<->client RPC.
	DefaultRPCTimeout = 5 * time.Second
	// DefaultWorkers sizes the worker pool draining inbound RPC jobs on both
	// the daemon and every client callback server.
	DefaultWorkers = 4
	// DefaultConfigFileName is searched for when no explicit config path is
	// given.
	DefaultConfigFileName = "apteryxd.yaml"
)

// Config captures the tunables for an Apteryx daemon.
type Config struct {
	// Socket is the Unix domain socket the daemon listens on.
	Socket string
	// ClientSocketDir is where client callback sockets are expected to
	// live. The daemon does not read it beyond filling in its default,
	// since each client picks its own pid-suffixed path.
	ClientSocketDir string
	// Codec selects the wire encoding ("json" or "gob").
	Codec string
	// RPCTimeout bounds every outbound call the daemon makes back into a
	// watcher or provider, and every call a client makes into the daemon.
	RPCTimeout time.Duration
	// Workers sizes the inbound worker pool.
	Workers int
	// Debug enables verbose logging; apteryxd lowers its log level to debug
	// when it is set. WatchFile reports a changed value, but a running
	// server does not apply it.
	Debug bool

	// OTLPEndpoint, MetricsListen, PprofListen, RuntimeMetrics configure
	// internal/telemetry; see telemetry.Options for field semantics.
	OTLPEndpoint   string
	MetricsListen  string
	PprofListen    string
	RuntimeMetrics bool
}

// Validate applies defaults and rejects impossible combinations.
func (c *Config) Validate() error {
	if c.Socket == "" {
		c.Socket = DefaultSocket
	}
	if c.ClientSocketDir == "" {
		c.ClientSocketDir = DefaultClientSocketDir
	}
	if c.Codec == "" {
		c.Codec = DefaultCodec
	}
	switch c.Codec {
	case CodecJSON, CodecGob:
	default:
		return fmt.Errorf("config: unknown codec %q", c.Codec)
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = DefaultRPCTimeout
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.RuntimeMetrics && strings.TrimSpace(c.MetricsListen) == "" {
		return fmt.Errorf("config: runtime metrics require metrics-listen")
	}
	return nil
}

// Load reads configuration from path (if non-empty and present), then
// layers environment variables prefixed APTERYX_ on top, following the
// precedence viper applies by default: explicit overrides, then env, then
// config file, then the zero Config filled in by Validate.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("apteryx")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	cfg := Config{
		Socket:          v.GetString("socket"),
		ClientSocketDir: v.GetString("client-socket-dir"),
		Codec:           v.GetString("codec"),
		RPCTimeout:      v.GetDuration("rpc-timeout"),
		Workers:         v.GetInt("workers"),
		Debug:           v.GetBool("debug"),
		OTLPEndpoint:    v.GetString("otlp-endpoint"),
		MetricsListen:   v.GetString("metrics-listen"),
		PprofListen:     v.GetString("pprof-listen"),
		RuntimeMetrics:  v.GetBool("runtime-metrics"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfigDir returns the default configuration directory
// ($HOME/.apteryx, or $APTERYX_CONFIG_DIR when set).
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("APTERYX_CONFIG_DIR")); override != "" {
		if filepath.IsAbs(override) {
			return override, nil
		}
		return filepath.Abs(override)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".apteryx"), nil
}

// WatchFile watches path for changes and calls onChange with the subset of
// fields this daemon can safely hot-reload (Debug and RPCTimeout; listen
// sockets never change under a running daemon). It returns a stop function.
func WatchFile(path string, onChange func(debug bool, rpcTimeout time.Duration)) (func() error, error) {
	if path == "" {
		return func() error { return nil }, nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: start watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watch %s: %w", dir, err)
	}

	go func() {
		for event := range watcher.Events {
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				continue
			}
			onChange(cfg.Debug, cfg.RPCTimeout)
		}
	}()

	return watcher.Close, nil
}
