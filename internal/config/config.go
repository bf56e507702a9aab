package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	ini "gopkg.in/ini.v1"
)

const (
	DefaultPath       = "mumblecall.ini"
	DefaultMumblePort = 64738
	envPrefix         = "MUMBLECALL"
)

type Server struct {
	Listen string
}

type Mumble struct {
	Host            string
	Port            int
	Username        string
	Password        string
	Tokens          []string
	AllowSelfSigned bool
	OpenChannelID   uint32
	DialTimeout     time.Duration
}

type Calls struct {
	ResolveAttempts int
	ResolveBackoff  time.Duration
	ReportTimeout   time.Duration
	ChannelPrefix   string
}

type Storage struct {
	Driver string
	Path   string
}

type Credentials struct {
	Dir      string
	Password string
}

type Logging struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	Console    bool
}

// Config holds the daemon configuration loaded from an ini file.
type Config struct {
	Server      Server
	Mumble      Mumble
	Calls       Calls
	Storage     Storage
	Credentials Credentials
	Logging     Logging
}

// Load reads path and applies MUMBLECALL_<SECTION>_<KEY> environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	f := ini.Empty()
	if path != "" {
		loaded, err := ini.Load(path)
		switch {
		case err == nil:
			f = loaded
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	applyEnv(f, os.Environ())
	return Parse(f)
}

// Parse extracts and validates the configuration from an ini file.
func Parse(f *ini.File) (*Config, error) {
	c := &Config{}

	sec := f.Section("server")
	c.Server.Listen = sec.Key("listen").MustString(":8080")

	sec = f.Section("mumble")
	c.Mumble.Host = sec.Key("host").String()
	c.Mumble.Port = sec.Key("port").MustInt(DefaultMumblePort)
	c.Mumble.Username = sec.Key("username").String()
	c.Mumble.Password = sec.Key("password").String()
	c.Mumble.Tokens = sec.Key("tokens").Strings(",")
	c.Mumble.AllowSelfSigned = sec.Key("allow_self_signed").MustBool(true)
	c.Mumble.OpenChannelID = uint32(sec.Key("open_channel_id").MustUint(0))
	c.Mumble.DialTimeout = sec.Key("dial_timeout").MustDuration(10 * time.Second)

	sec = f.Section("calls")
	c.Calls.ResolveAttempts = sec.Key("resolve_attempts").MustInt(3)
	c.Calls.ResolveBackoff = sec.Key("resolve_backoff").MustDuration(500 * time.Millisecond)
	c.Calls.ReportTimeout = sec.Key("report_timeout").MustDuration(5 * time.Second)
	c.Calls.ChannelPrefix = sec.Key("channel_prefix").MustString("c-")

	sec = f.Section("storage")
	c.Storage.Driver = sec.Key("driver").In("memory", []string{"memory", "sqlite"})
	c.Storage.Path = sec.Key("path").MustString("mumblecall.db")

	sec = f.Section("credentials")
	c.Credentials.Dir = sec.Key("dir").MustString("certs")
	c.Credentials.Password = sec.Key("password").String()

	sec = f.Section("logging")
	c.Logging.Level = sec.Key("level").MustString("info")
	c.Logging.File = sec.Key("file").String()
	c.Logging.MaxSizeMB = sec.Key("max_size_mb").MustInt(100)
	c.Logging.MaxBackups = sec.Key("max_backups").MustInt(1)
	c.Logging.Console = sec.Key("console").MustBool(true)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var problems []string
	if c.Mumble.Host == "" {
		problems = append(problems, "mumble.host must be set")
	}
	if c.Mumble.Username == "" {
		problems = append(problems, "mumble.username must be set")
	}
	if c.Mumble.Port <= 0 || c.Mumble.Port > 65535 {
		problems = append(problems, fmt.Sprintf("mumble.port %d out of range", c.Mumble.Port))
	}
	if c.Calls.ResolveAttempts < 1 {
		problems = append(problems, "calls.resolve_attempts must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// applyEnv copies MUMBLECALL_<SECTION>_<KEY>=value pairs into f.
func applyEnv(f *ini.File, environ []string) {
	prefix := envPrefix + "_"
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		section, key, ok := strings.Cut(strings.TrimPrefix(name, prefix), "_")
		if !ok || key == "" {
			continue
		}
		f.Section(strings.ToLower(section)).Key(strings.ToLower(key)).SetValue(value)
	}
}
