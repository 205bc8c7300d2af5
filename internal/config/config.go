package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/spf13/viper"
)

const envPrefix = "LIVELOOK"

const (
	MemoryBackend   = "memory"
	RedisBackend    = "redis"
	NATSBackend     = "nats"
	PostgresBackend = "postgres"
)

var ErrUnknownBackend = errors.New("unknown store backend")

var DefaultStunServers = []string{
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}

type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Session  SessionConfig  `mapstructure:"session"`
	Playback PlaybackConfig `mapstructure:"playback"`
	RTC      RTCConfig      `mapstructure:"rtc"`
	HTTP     HTTPConfig     `mapstructure:"http"`
}

type StoreConfig struct {
	Backend  string         `mapstructure:"backend"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type NATSConfig struct {
	URL    string `mapstructure:"url"`
	Bucket string `mapstructure:"bucket"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type SessionConfig struct {
	// Grace delays the cleanup of presence and mailbox after leaving.
	Grace             time.Duration `mapstructure:"grace"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	RosterSettle      time.Duration `mapstructure:"roster_settle"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
}

type PlaybackConfig struct {
	FollowThreshold  float64       `mapstructure:"follow_threshold"`
	PublishThreshold float64       `mapstructure:"publish_threshold"`
	TickInterval     time.Duration `mapstructure:"tick_interval"`
}

type RTCConfig struct {
	ICEPortRangeStart uint32      `mapstructure:"ice_port_range_start"`
	ICEPortRangeEnd   uint32      `mapstructure:"ice_port_range_end"`
	STUNServers       []string    `mapstructure:"stun_servers"`
	EnabledCodecs     []CodecSpec `mapstructure:"enabled_codecs"`
}

type CodecSpec struct {
	Mime     string `mapstructure:"mime"`
	FmtpLine string `mapstructure:"fmtp_line"`
}

type HTTPConfig struct {
	Address string `mapstructure:"address"`
}

func NewConfig() *Config {
	conf := &Config{}
	v := viper.New()
	setDefaults(v)
	if err := v.Unmarshal(conf); err != nil {
		panic(err)
	}

	return conf
}

// Load reads defaults, then the optional file at path, then LIVELOOK_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	conf := &Config{}
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return conf, nil
}

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case MemoryBackend, RedisBackend, NATSBackend, PostgresBackend:
	default:
		return fmt.Errorf("%w %q", ErrUnknownBackend, c.Store.Backend)
	}

	if c.RTC.ICEPortRangeStart > c.RTC.ICEPortRangeEnd {
		return fmt.Errorf("ice port range %d-%d is empty", c.RTC.ICEPortRangeStart, c.RTC.ICEPortRangeEnd)
	}

	if c.Session.HeartbeatInterval <= 0 || c.Session.StaleAfter <= 0 || c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session intervals must be positive")
	}

	if c.Playback.PublishThreshold <= 0 || c.Playback.FollowThreshold <= 0 {
		return fmt.Errorf("playback thresholds must be positive")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.backend", MemoryBackend)
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "livelook")
	v.SetDefault("store.nats.url", "nats://localhost:4222")
	v.SetDefault("store.nats.bucket", "livelook")
	v.SetDefault("store.postgres.dsn", "postgres://localhost:5432/livelook?sslmode=disable")

	v.SetDefault("session.grace", "2s")
	v.SetDefault("session.heartbeat_interval", "10s")
	v.SetDefault("session.stale_after", "45s")
	v.SetDefault("session.roster_settle", "250ms")
	v.SetDefault("session.sweep_interval", "15s")

	v.SetDefault("playback.follow_threshold", 1.5)
	v.SetDefault("playback.publish_threshold", 1.0)
	v.SetDefault("playback.tick_interval", "250ms")

	v.SetDefault("rtc.ice_port_range_start", 50000)
	v.SetDefault("rtc.ice_port_range_end", 60000)
	v.SetDefault("rtc.stun_servers", DefaultStunServers)
	v.SetDefault("rtc.enabled_codecs", []map[string]string{{"mime": webrtc.MimeTypeOpus}})

	v.SetDefault("http.address", ":8080")
}
