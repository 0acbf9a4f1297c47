package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values (production)
const (
	DefaultDomain         = "sync.roomsync.dev"
	DefaultListenAddr     = ":8080"
	DefaultConnectTimeout = 15 * time.Second
	DefaultCallTimeout    = 10 * time.Second
)

// DefaultSyncKeys are the application state keys mirrored between devices.
var DefaultSyncKeys = []string{"watchlists", "portfolios"}

// Environment variables read by Load.
const (
	EnvServer    = "ROOMSYNC_SERVER"
	EnvShareBase = "ROOMSYNC_SHARE_BASE"
	EnvListen    = "ROOMSYNC_LISTEN"
	EnvSyncKeys  = "ROOMSYNC_SYNC_KEYS"
	EnvConfig    = "ROOMSYNC_CONFIG"
)

// Config holds application configuration
type Config struct {
	// Domain is the broker host
	Domain string

	// BrokerURL is the websocket endpoint, constructed from Domain unless set
	BrokerURL string

	// ShareBaseURL is the page join links point at
	ShareBaseURL string

	// ListenAddr is where `roomsync broker` listens
	ListenAddr string

	// SyncKeys is the allow-list of mirrored state keys
	SyncKeys []string

	// AutoJoin rooms are joined on startup
	AutoJoin []string

	ConnectTimeout time.Duration
	CallTimeout    time.Duration
}

// File is the YAML configuration file layout. Every field is optional.
type File struct {
	Domain         string        `yaml:"domain"`
	BrokerURL      string        `yaml:"broker_url"`
	ShareBaseURL   string        `yaml:"share_base_url"`
	ListenAddr     string        `yaml:"listen_addr"`
	SyncKeys       []string      `yaml:"sync_keys"`
	AutoJoin       []string      `yaml:"auto_join"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
}

// Options for loading config with CLI flag overrides
type Options struct {
	Domain       string
	BrokerURL    string
	ShareBaseURL string
	ListenAddr   string
	SyncKeys     []string
	ConfigFile   string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. YAML config file (--config or ROOMSYNC_CONFIG)
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	path := first(opts.ConfigFile, os.Getenv(EnvConfig))
	var file File
	if path != "" {
		f, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		file = *f
	}

	domain := first(opts.Domain, os.Getenv(EnvServer), file.Domain, DefaultDomain)

	brokerURL := first(opts.BrokerURL, file.BrokerURL)
	if brokerURL == "" {
		brokerURL = websocketURL(domain)
	}

	shareBase := first(opts.ShareBaseURL, os.Getenv(EnvShareBase), file.ShareBaseURL)
	if shareBase == "" {
		shareBase = fmt.Sprintf("https://%s/", domain)
	}

	syncKeys := opts.SyncKeys
	if len(syncKeys) == 0 {
		syncKeys = splitList(os.Getenv(EnvSyncKeys))
	}
	if len(syncKeys) == 0 {
		syncKeys = file.SyncKeys
	}
	if len(syncKeys) == 0 {
		syncKeys = DefaultSyncKeys
	}

	cfg := &Config{
		Domain:         domain,
		BrokerURL:      brokerURL,
		ShareBaseURL:   shareBase,
		ListenAddr:     first(opts.ListenAddr, os.Getenv(EnvListen), file.ListenAddr, DefaultListenAddr),
		SyncKeys:       append([]string(nil), syncKeys...),
		AutoJoin:       append([]string(nil), file.AutoJoin...),
		ConnectTimeout: firstDuration(file.ConnectTimeout, DefaultConnectTimeout),
		CallTimeout:    firstDuration(file.CallTimeout, DefaultCallTimeout),
	}
	return cfg, nil
}

// ReadFile parses a YAML configuration file.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if f.ConnectTimeout < 0 || f.CallTimeout < 0 {
		return nil, fmt.Errorf("parse config %s: %w", path, errors.New("timeouts must not be negative"))
	}
	return &f, nil
}

// websocketURL builds the broker endpoint for domain. Local hosts are reached
// over plain ws.
func websocketURL(domain string) string {
	host := domain
	if i := strings.LastIndex(host, ":"); i > 0 && !strings.HasSuffix(host, "]") {
		host = host[:i]
	}
	host = strings.Trim(host, "[]")
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return fmt.Sprintf("ws://%s/ws", domain)
	}
	return fmt.Sprintf("wss://%s/ws", domain)
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstDuration(values ...time.Duration) time.Duration {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
