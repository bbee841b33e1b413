// Package config loads server configuration from flags, the environment and
// an optional .env file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds server settings.
type Config struct {
	HTTPAddr   string
	HealthAddr string // gRPC health; empty disables it
	DSN        string
	JWTKey     string
	AccessTTL  time.Duration

	AMQPURL      string // empty selects the logging fallback publisher
	AMQPExchange string

	SendBuffer   int
	ReadLimit    int64
	HistoryLimit int
	CallLog      bool
	Origins      []string
	Dev          bool

	ShutdownTimeout time.Duration
}

const envPrefix = "STUDYDESK_"

// Load reads a .env file if present, then parses args. Flag defaults come from
// STUDYDESK_* variables, so explicit flags win over the environment.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return parse(args, os.LookupEnv)
}

func parse(args []string, lookup func(string) (string, bool)) (*Config, error) {
	env := envReader{lookup: lookup}
	c := &Config{}
	var origins string

	fs := flag.NewFlagSet("studydesk", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&c.HTTPAddr, "addr", env.str("ADDR", ":8080"), "HTTP listen address")
	fs.StringVar(&c.HealthAddr, "health-addr", env.str("HEALTH_ADDR", ":8081"), "gRPC health listen address (empty disables)")
	fs.StringVar(&c.DSN, "dsn", env.str("DSN", ""), "PostgreSQL DSN")
	fs.StringVar(&c.JWTKey, "jwt-key", env.str("JWT_KEY", ""), "HS256 signing key")
	fs.DurationVar(&c.AccessTTL, "access-ttl", env.duration("ACCESS_TTL", 24*time.Hour), "access token TTL")
	fs.StringVar(&c.AMQPURL, "amqp-url", env.str("AMQP_URL", ""), "RabbitMQ URL for domain events")
	fs.StringVar(&c.AMQPExchange, "amqp-exchange", env.str("AMQP_EXCHANGE", "studydesk.events"), "topic exchange for domain events")
	fs.IntVar(&c.SendBuffer, "send-buffer", env.integer("SEND_BUFFER", 256), "per-connection outbound queue")
	fs.Int64Var(&c.ReadLimit, "read-limit", int64(env.integer("READ_LIMIT", 64<<10)), "max inbound frame size in bytes")
	fs.IntVar(&c.HistoryLimit, "history-limit", env.integer("HISTORY_LIMIT", 200), "max history page size")
	fs.BoolVar(&c.CallLog, "call-log", env.boolean("CALL_LOG", true), "append call_log messages after calls")
	fs.StringVar(&origins, "origins", env.str("ORIGINS", ""), "comma-separated websocket origins")
	fs.BoolVar(&c.Dev, "dev", env.boolean("DEV", false), "development logging and gRPC reflection")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", env.duration("SHUTDOWN_TIMEOUT", 10*time.Second), "graceful shutdown limit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if env.err != nil {
		return nil, env.err
	}
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			c.Origins = append(c.Origins, o)
		}
	}
	return c, c.validate()
}

func (c *Config) validate() error {
	var problems []error
	if c.JWTKey == "" {
		problems = append(problems, errors.New("jwt key is required (-jwt-key or STUDYDESK_JWT_KEY)"))
	}
	if c.DSN == "" {
		problems = append(problems, errors.New("dsn is required (-dsn or STUDYDESK_DSN)"))
	}
	if c.AccessTTL <= 0 {
		problems = append(problems, errors.New("access-ttl must be positive"))
	}
	if c.SendBuffer <= 0 || c.ReadLimit <= 0 || c.HistoryLimit <= 0 {
		problems = append(problems, errors.New("send-buffer, read-limit and history-limit must be positive"))
	}
	return errors.Join(problems...)
}

// envReader resolves STUDYDESK_* defaults and remembers the first malformed value.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) raw(key string) (string, bool) {
	v, ok := e.lookup(envPrefix + key)
	return v, ok && v != ""
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
}

func (e *envReader) str(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

func (e *envReader) integer(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func (e *envReader) boolean(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return b
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}
