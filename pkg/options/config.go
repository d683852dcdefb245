package options

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config is the bootstrap-time configuration struct: one field per option
// in spec.md §6's Configuration Options table, plus the ambient-stack
// fields SPEC_FULL.md §3 adds (logging, metrics, history). It is parsed
// via UnmarshalEnv exactly the way pkg/atlas/config.go's Config is, with
// TREECAST_ in place of ATLAS_ prefixed environment variables. This is the
// bootstrap-time representation; once loaded it is converted into a wire
// Pool (see ToPool/FromPool) which is what actually gets shipped to
// spawned agents.
type Config struct {
	// Hosts is the comma-separated list of hostnames/addresses the tree is
	// built over, not including the root itself.
	Hosts []string `env:"TREECAST_HOSTS"`

	// TreeWidth bounds how many direct children any one node may have.
	TreeWidth int `env:"TREECAST_TREE_WIDTH=32"`

	// Fanout is an alias historically used for TreeWidth in some
	// deployments. When non-zero it takes precedence over TreeWidth (see
	// EffectiveTreeWidth).
	Fanout int `env:"TREECAST_FANOUT=0"`

	// TreeSockBacklog is the listen() backlog setting for join-handshake
	// sockets. It is shipped to agents in the option pool, but no listener
	// applies it: pkg/node's net.Listen uses the system default backlog.
	TreeSockBacklog int `env:"TREECAST_TREE_SOCK_BACKLOG=128"`

	// WatchdogTimeout is how long a spawned child may take to join before
	// its build-tree job declares it Dead, given as a Go duration such as
	// "60s". The root also broadcasts a PING every WatchdogTimeout/2.
	WatchdogTimeout time.Duration `env:"TREECAST_WATCHDOG_TIMEOUT=60s"`

	// ExecPlugin is the filesystem path (or, for the supplemental
	// localexec plugin, the literal value "local") used to launch agents.
	ExecPlugin string `env:"TREECAST_EXEC_PLUGIN=local"`

	// TaskPlugin is the filesystem path to the task plugin DSO.
	TaskPlugin string `env:"TREECAST_TASK_PLUGIN"`

	// TaskArgv is the whitespace-tokenized argv passed to the task plugin.
	TaskArgv string `env:"TREECAST_TASK_ARGV"`

	// TaskCompress enables zstd compression of large REQUEST_TASK
	// payloads (SPEC_FULL §4).
	TaskCompress bool `env:"TREECAST_TASK_COMPRESS"`

	// HistoryDB, if set, is a sqlite3 file path where completed jobs are
	// recorded (SPEC_FULL §4).
	HistoryDB string `env:"TREECAST_HISTORY_DB"`

	// MetricsAddr, if set, exposes a VictoriaMetrics-format /metrics
	// endpoint on the root node only.
	MetricsAddr string `env:"TREECAST_METRICS_ADDR"`

	LogLevel        zerolog.Level `env:"TREECAST_LOG_LEVEL=info"`
	LogStdout       bool          `env:"TREECAST_LOG_STDOUT=true"`
	LogStdoutPretty bool          `env:"TREECAST_LOG_STDOUT_PRETTY=true"`
	LogFile         string        `env:"TREECAST_LOG_FILE"`
	LogFileLevel    zerolog.Level `env:"TREECAST_LOG_FILE_LEVEL=info"`

	// ProtocolVersion identifies this build for the join handshake check
	// (SPEC_FULL §6).
	ProtocolVersion string `env:"TREECAST_PROTOCOL_VERSION=v1.0.0"`

	// RunID correlates every participant's log lines and history-db rows
	// back to one launch attempt. The root generates one (a random UUID)
	// when none is configured and ships it to every agent in the option
	// pool, rather than each process picking its own.
	RunID string `env:"TREECAST_RUN_ID"`
}

// UnmarshalEnv fills c from environment-style "KEY=value" entries, the way
// pkg/atlas/config.go's UnmarshalEnv does: reflect.VisibleFields iteration
// over the env struct tag, falling back to the tag's default when
// incremental is false and the key is absent from es, type-switch
// conversion per field type. The sdcreds systemd-credential-expansion
// feature is not carried over: that behavior is specific to services
// managed by systemd (Atlas's deployment target); this launcher assumes no
// such environment, so any field that would have used sdcreds in Atlas's
// Config simply has none here.
func (c *Config) UnmarshalEnv(es []string, incremental bool) error {
	em := map[string]string{}
	for _, e := range es {
		if strings.HasPrefix(e, "TREECAST_") {
			if k, v, ok := strings.Cut(e, "="); ok {
				em[k] = v
			}
		}
	}

	cv := reflect.ValueOf(c).Elem()
	for _, ctf := range reflect.VisibleFields(cv.Type()) {
		env, ok := ctf.Tag.Lookup("env")
		if !ok {
			continue
		}

		var unsettable bool
		key, val, _ := strings.Cut(env, "=")
		if strings.HasSuffix(key, "?") {
			key = strings.TrimSuffix(key, "?")
			unsettable = true
		}

		if v, exists := em[key]; exists {
			if unsettable || v != "" {
				val = v
			}
			delete(em, key)
		} else if incremental {
			continue
		}

		cvf := cv.FieldByName(ctf.Name)
		switch cvf.Interface().(type) {
		case string:
			cvf.SetString(val)
		case int, int8, int16, int32, int64:
			if val == "" {
				cvf.SetInt(0)
			} else if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				cvf.SetInt(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case bool:
			if val == "" {
				cvf.SetBool(false)
			} else if v, err := strconv.ParseBool(val); err == nil {
				cvf.SetBool(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case []string:
			if val == "" {
				cvf.Set(reflect.ValueOf([]string{}))
			} else {
				cvf.Set(reflect.ValueOf(strings.Split(val, ",")))
			}
		case zerolog.Level:
			if v, err := zerolog.ParseLevel(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case time.Duration:
			if val == "" {
				cvf.Set(reflect.ValueOf(time.Duration(0)))
			} else if v, err := time.ParseDuration(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		default:
			return fmt.Errorf("env %s: unsupported field type %s", key, cvf.Type())
		}
	}

	if len(em) != 0 {
		var unknown []string
		for k := range em {
			unknown = append(unknown, k)
		}
		return fmt.Errorf("unknown environment variable(s): %s", strings.Join(unknown, ", "))
	}
	return nil
}

// Logger builds this node's zerolog.Logger from the LogStdout/LogFile
// fields, the same multi-writer-level shape as
// pkg/atlas/server.go's configureLogging, stripped of Atlas's
// SIGHUP-triggered log file reopen and chown/chmod handling — a process
// launcher's log file is not a long-lived service log rotated under it.
func (c *Config) Logger() zerolog.Logger {
	var outputs []zerolog.LevelWriter
	if c.LogStdout {
		if c.LogStdoutPretty {
			outputs = append(outputs, zerologLevelWriter{zerolog.ConsoleWriter{Out: os.Stdout}, zerolog.Disabled})
		} else {
			outputs = append(outputs, zerologLevelWriter{os.Stdout, zerolog.Disabled})
		}
	}
	if c.LogFile != "" {
		if f, err := os.OpenFile(c.LogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644); err == nil {
			outputs = append(outputs, zerologLevelWriter{f, c.LogFileLevel})
		} else {
			fmt.Fprintf(os.Stderr, "warning: failed to open log file %q: %v\n", c.LogFile, err)
		}
	}

	writers := make([]zerolog.LevelWriter, 0, len(outputs))
	for _, o := range outputs {
		writers = append(writers, o)
	}
	return zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(c.LogLevel).With().Timestamp().Logger()
}

// zerologLevelWriter wraps an io.Writer with a minimum level, the same
// "outputs below level are dropped" behavior Atlas's newZerologWriterLevel
// provides, without its swap-writer/reopen machinery.
type zerologLevelWriter struct {
	w     interface{ Write([]byte) (int, error) }
	level zerolog.Level
}

func (z zerologLevelWriter) Write(p []byte) (int, error) { return z.w.Write(p) }

func (z zerologLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if z.level != zerolog.Disabled && level < z.level {
		return len(p), nil
	}
	return z.w.Write(p)
}

// EffectiveTreeWidth resolves the TreeWidth/Fanout alias: Fanout wins if
// set (non-zero), otherwise TreeWidth applies.
func (c *Config) EffectiveTreeWidth() int {
	if c.Fanout > 0 {
		return c.Fanout
	}
	return c.TreeWidth
}

// ToPool converts the bootstrap config into a wire Pool, the runtime
// representation shipped to agents inside RESPONSE_JOIN.
func (c *Config) ToPool() *Pool {
	p := NewPool()
	p.Set("Hosts", strings.Join(c.Hosts, ","))
	p.Set("TreeWidth", strconv.Itoa(c.EffectiveTreeWidth()))
	p.Set("TreeSockBacklog", strconv.Itoa(c.TreeSockBacklog))
	p.Set("WatchdogTimeout", c.WatchdogTimeout.String())
	p.Set("ExecPlugin", c.ExecPlugin)
	p.Set("TaskPlugin", c.TaskPlugin)
	p.Set("TaskArgv", c.TaskArgv)
	p.Set("TaskCompress", strconv.FormatBool(c.TaskCompress))
	p.Set("ProtocolVersion", c.ProtocolVersion)
	p.Set("RunID", c.RunID)
	return p
}

// FromPool populates c's runtime-relevant fields from a wire Pool, used by
// a freshly joined agent after it unpacks the RESPONSE_JOIN option pool.
func FromPool(p *Pool) (*Config, error) {
	c := &Config{}
	if v, ok := p.Find("Hosts"); ok && v != "" {
		c.Hosts = strings.Split(v, ",")
	}
	if v, err := p.FindInt("TreeWidth"); err == nil {
		c.TreeWidth = v
	}
	if v, err := p.FindInt("TreeSockBacklog"); err == nil {
		c.TreeSockBacklog = v
	}
	if v, ok := p.Find("WatchdogTimeout"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("option WatchdogTimeout: %w", err)
		}
		c.WatchdogTimeout = d
	}
	if v, ok := p.Find("ExecPlugin"); ok {
		c.ExecPlugin = v
	}
	if v, ok := p.Find("TaskPlugin"); ok {
		c.TaskPlugin = v
	}
	if v, ok := p.Find("TaskArgv"); ok {
		c.TaskArgv = v
	}
	if v, ok := p.Find("TaskCompress"); ok {
		c.TaskCompress = v == "true"
	}
	if v, ok := p.Find("ProtocolVersion"); ok {
		c.ProtocolVersion = v
	}
	if v, ok := p.Find("RunID"); ok {
		c.RunID = v
	}
	return c, nil
}
