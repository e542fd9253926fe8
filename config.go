package stratumcore

import (
	"fmt"
	"os"
	"path"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/op/go-logging"

	"github.com/kynelabs/stratumcore/stratum"
)

var (
	defaultLogFilename = "stratumcore.log"
	fileLogFormat      = logging.MustStringFormatter(`%{time:2006-01-02 T15:04:05.000} [%{level}] [%{module}] %{message}`)
	stdoutLogFormat    = logging.MustStringFormatter(`%{color:reset}%{color}%{time:15:04:05} [%{level}] [%{module}] %{message}`)
)

// Option configures a Client at construction, following the same
// Option/Defaults/Apply shape the rest of this stack uses for configuration.
type Option func(*Config) error

// Config holds everything New needs beyond the mandatory CoinAddress.
type Config struct {
	LogLevel logging.Level
	LogDir   string

	Timeout time.Duration
	Dialer  stratum.Dialer
}

// Defaults is prepended to every call to New, before the caller's own
// options are applied.
var Defaults = func(cfg *Config) error {
	cfg.LogLevel = logging.INFO
	return nil
}

// Apply runs opts against cfg in order, wrapping the first failure with its
// index.
func (cfg *Config) Apply(opts ...Option) error {
	for i, opt := range opts {
		if err := opt(cfg); err != nil {
			return fmt.Errorf("stratumcore option %d failed: %s", i, err)
		}
	}
	return nil
}

// LogLevel sets the minimum severity logged. Defaults to INFO.
func LogLevel(level logging.Level) Option {
	return func(cfg *Config) error {
		cfg.LogLevel = level
		return nil
	}
}

// LogDir enables rotating file logging in addition to stdout, mirroring how
// the rest of this stack wires github.com/natefinch/lumberjack behind a
// log-directory option. Empty (the default) means stdout only.
func LogDir(dir string) Option {
	return func(cfg *Config) error {
		cfg.LogDir = dir
		return nil
	}
}

// CallTimeout enables a per-call deadline on the underlying transport.
// Zero (the default) disables timeouts.
func CallTimeout(d time.Duration) Option {
	return func(cfg *Config) error {
		cfg.Timeout = d
		return nil
	}
}

// Dialer overrides how the transport opens its socket. Used by tests to
// connect to an in-process listener instead of a real network address.
func Dialer(d stratum.Dialer) Option {
	return func(cfg *Config) error {
		cfg.Dialer = d
		return nil
	}
}

// buildLogger constructs the module's logger the way multiwallet.go wires
// its own: a colorized stdout backend always, plus a rotating file backend
// under cfg.LogDir when one is configured.
func buildLogger(cfg *Config) *logging.Logger {
	logger := logging.MustGetLogger("stratumcore")

	backendStdout := logging.NewLogBackend(os.Stdout, "", 0)
	backendStdoutFormatter := logging.NewBackendFormatter(backendStdout, stdoutLogFormat)

	if cfg.LogDir != "" {
		rotator := &lumberjack.Logger{
			Filename:   path.Join(cfg.LogDir, defaultLogFilename),
			MaxSize:    10, // Megabytes
			MaxBackups: 3,
			MaxAge:     30, // Days
		}
		backendFile := logging.NewLogBackend(rotator, "", 0)
		backendFileFormatter := logging.NewBackendFormatter(backendFile, fileLogFormat)
		leveled := logging.MultiLogger(backendStdoutFormatter, backendFileFormatter)
		leveled.SetLevel(cfg.LogLevel, "")
		logger.SetBackend(leveled)
	} else {
		leveled := logging.AddModuleLevel(backendStdoutFormatter)
		leveled.SetLevel(cfg.LogLevel, "")
		logger.SetBackend(leveled)
	}

	return logger
}
