// Package config reads process settings from the environment (optionally
// seeded from a .env file) and exposes them as command flags.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const (
	DefaultRelayAddr   = ":8080"
	DefaultRelayURL    = "ws://localhost:8080"
	DefaultMetricsAddr = ":9090"
	DefaultAuditTopic  = "vote-updates"
	DefaultTallyGroup  = "vote-tally-group"
)

// LoadEnv seeds the environment from the given .env files. Missing files are
// ignored; variables already set win.
func LoadEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

type Relay struct {
	Addr         string
	MetricsAddr  string
	KafkaBrokers []string
	AuditTopic   string
	SendBuffer   int
	WriteTimeout time.Duration
	LogLevel     string
}

func (c *Relay) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Addr, "addr", env("RELAY_ADDR", DefaultRelayAddr), "relay listen address")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", env("METRICS_ADDR", DefaultMetricsAddr), "prometheus listen address (empty disables)")
	fs.StringSliceVar(&c.KafkaBrokers, "kafka-brokers", envList("KAFKA_BROKERS"), "kafka brokers for the vote audit stream (empty disables)")
	fs.StringVar(&c.AuditTopic, "audit-topic", env("AUDIT_TOPIC", DefaultAuditTopic), "kafka topic for relayed vote updates")
	fs.IntVar(&c.SendBuffer, "send-buffer", envInt("RELAY_SEND_BUFFER", 64), "per-peer outbound queue length")
	fs.DurationVar(&c.WriteTimeout, "write-timeout", envDuration("RELAY_WRITE_TIMEOUT", 10*time.Second), "per-frame write timeout")
	fs.StringVar(&c.LogLevel, "log-level", env("LOG_LEVEL", "info"), "log level")
}

type Client struct {
	URL         string
	BaseDelay   time.Duration
	MaxAttempts int
	LogLevel    string
}

func (c *Client) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.URL, "url", env("RELAY_URL", DefaultRelayURL), "relay websocket address")
	fs.DurationVar(&c.BaseDelay, "reconnect-delay", envDuration("RECONNECT_DELAY", time.Second), "base reconnect delay, multiplied by the attempt number")
	fs.IntVar(&c.MaxAttempts, "reconnect-attempts", envInt("RECONNECT_ATTEMPTS", 5), "reconnect attempts before giving up")
	fs.StringVar(&c.LogLevel, "log-level", env("LOG_LEVEL", "info"), "log level")
}

type Tally struct {
	KafkaBrokers   []string
	AuditTopic     string
	GroupID        string
	RedisURL       string
	MetricsAddr    string
	ReportInterval time.Duration
	LogLevel       string
}

func (c *Tally) BindFlags(fs *pflag.FlagSet) {
	fs.StringSliceVar(&c.KafkaBrokers, "kafka-brokers", envListOr("KAFKA_BROKERS", []string{"localhost:9092"}), "kafka brokers")
	fs.StringVar(&c.AuditTopic, "audit-topic", env("AUDIT_TOPIC", DefaultAuditTopic), "kafka topic to consume")
	fs.StringVar(&c.GroupID, "group", env("TALLY_GROUP", DefaultTallyGroup), "kafka consumer group")
	fs.StringVar(&c.RedisURL, "redis-url", env("REDIS_URL", ""), "redis URL for the vote ledger (empty keeps it in memory)")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", env("METRICS_ADDR", ":9091"), "prometheus listen address (empty disables)")
	fs.DurationVar(&c.ReportInterval, "report-interval", envDuration("REPORT_INTERVAL", 5*time.Second), "results report interval")
	fs.StringVar(&c.LogLevel, "log-level", env("LOG_LEVEL", "info"), "log level")
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envList(key string) []string {
	return envListOr(key, nil)
}

func envListOr(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
