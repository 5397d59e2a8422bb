// Package config reads server settings from flags, SQUIRE_* environment
// variables and an optional .env file. Flags win over the environment.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/erazemk/squire/internal/model"
	"github.com/erazemk/squire/internal/relay"
)

// Config is the server configuration.
type Config struct {
	DBPath    string
	Addr      string
	AdminUser string
	LogPath   string
	Debug     bool

	// ApprovalRequired and Timeout seed the transfer policy on first run.
	// Game masters change it at runtime through the settings API.
	ApprovalRequired bool
	Timeout          time.Duration

	// RedisAddr enables cross-instance notice fan-out when set.
	RedisAddr string
	// Sweep is the cron schedule of the overdue-transfer sweep.
	Sweep string
	// RelayRequiresGM makes relay moves wait for a connected game master.
	RelayRequiresGM bool
	// RelayTimeout bounds a single relayed move.
	RelayTimeout time.Duration
}

// Usage is printed for -h.
const Usage = `Usage: squire [flags]

Flags:
  -d, -db <path>          SQLite database path (default: squire.sqlite3)
  -a, -addr <host:port>   listen address (default: :8080)
  -u, -user <name>        game master username on first run (default: GM)
  -l, -log <path>         log file path (default: no file, stdout/stderr only)
  -debug                  log debug messages
  -approval               require game master approval for new tables
  -timeout <duration>     transfer timeout for new tables (default: 5m)
  -redis <addr|url>       redis for notice fan-out across instances
  -sweep <schedule>       cron schedule for expiring overdue transfers (default: @every 1m)
  -relay-requires-gm      only relay moves while a game master is connected
  -relay-timeout <dur>    give up on a relayed move after this long (default: 10s)
  -h, -help               show this help and exit

Every flag also reads SQUIRE_<NAME> from the environment or a .env file,
e.g. SQUIRE_DB, SQUIRE_REDIS, SQUIRE_RELAY_REQUIRES_GM.
`

// Load reads .env from the working directory, if present, and parses args.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return Parse(args, os.Getenv, os.Stdout)
}

// Parse parses args with defaults taken from getenv. Usage goes to out on
// -h (returning flag.ErrHelp) and on malformed flags.
func Parse(args []string, getenv func(string) string, out io.Writer) (*Config, error) {
	env := envDefaults{getenv: getenv}
	cfg := &Config{}

	flags := flag.NewFlagSet("squire", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.Usage = func() { fmt.Fprint(out, Usage) }

	dbPath := env.str("SQUIRE_DB", "squire.sqlite3")
	flags.StringVar(&cfg.DBPath, "db", dbPath, "")
	flags.StringVar(&cfg.DBPath, "d", dbPath, "")

	addr := env.str("SQUIRE_ADDR", ":8080")
	flags.StringVar(&cfg.Addr, "addr", addr, "")
	flags.StringVar(&cfg.Addr, "a", addr, "")

	user := env.str("SQUIRE_USER", "GM")
	flags.StringVar(&cfg.AdminUser, "user", user, "")
	flags.StringVar(&cfg.AdminUser, "u", user, "")

	logPath := env.str("SQUIRE_LOG", "")
	flags.StringVar(&cfg.LogPath, "log", logPath, "")
	flags.StringVar(&cfg.LogPath, "l", logPath, "")

	defaultTimeout := time.Duration(model.DefaultTransferSettings.TimeoutSeconds) * time.Second
	flags.BoolVar(&cfg.Debug, "debug", env.boolean("SQUIRE_DEBUG", false), "")
	flags.BoolVar(&cfg.ApprovalRequired, "approval", env.boolean("SQUIRE_APPROVAL", model.DefaultTransferSettings.ApprovalRequired), "")
	flags.DurationVar(&cfg.Timeout, "timeout", env.duration("SQUIRE_TIMEOUT", defaultTimeout), "")
	flags.StringVar(&cfg.RedisAddr, "redis", env.str("SQUIRE_REDIS", ""), "")
	flags.StringVar(&cfg.Sweep, "sweep", env.str("SQUIRE_SWEEP", "@every 1m"), "")
	flags.BoolVar(&cfg.RelayRequiresGM, "relay-requires-gm", env.boolean("SQUIRE_RELAY_REQUIRES_GM", false), "")
	flags.DurationVar(&cfg.RelayTimeout, "relay-timeout", env.duration("SQUIRE_RELAY_TIMEOUT", relay.DefaultTimeout), "")

	if env.err != nil {
		return nil, env.err
	}
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if flags.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", flags.Arg(0))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that flag parsing alone cannot.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("database path required")
	}
	if c.AdminUser == "" {
		return errors.New("game master username required")
	}
	if c.Timeout < time.Second {
		return fmt.Errorf("timeout must be at least 1s, got %s", c.Timeout)
	}
	if c.RelayTimeout <= 0 {
		return fmt.Errorf("relay timeout must be positive, got %s", c.RelayTimeout)
	}
	if _, err := cron.ParseStandard(c.Sweep); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", c.Sweep, err)
	}
	return nil
}

// TransferSettings is the policy seeded into a new database.
func (c *Config) TransferSettings() model.TransferSettings {
	return model.TransferSettings{
		ApprovalRequired: c.ApprovalRequired,
		TimeoutSeconds:   int(c.Timeout / time.Second),
	}
}

// envDefaults turns environment values into flag defaults, keeping the
// first malformed value as an error.
type envDefaults struct {
	getenv func(string) string
	err    error
}

func (e *envDefaults) str(key, fallback string) string {
	if v := e.getenv(key); v != "" {
		return v
	}
	return fallback
}

func (e *envDefaults) boolean(key string, fallback bool) bool {
	v := e.getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(fmt.Errorf("%s: invalid boolean %q", key, v))
		return fallback
	}
	return b
}

func (e *envDefaults) duration(key string, fallback time.Duration) time.Duration {
	v := e.getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Plain numbers are seconds.
		n, nerr := strconv.Atoi(v)
		if nerr != nil {
			e.fail(fmt.Errorf("%s: invalid duration %q", key, v))
			return fallback
		}
		d = time.Duration(n) * time.Second
	}
	return d
}

func (e *envDefaults) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}
