package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  Server  `mapstructure:"server"`
	Redis   Redis   `mapstructure:"redis"`
	Backend Backend `mapstructure:"backend"`
	Proctor Proctor `mapstructure:"proctor"`
	Media   Media   `mapstructure:"media"`
}

type Server struct {
	Port         string  `mapstructure:"port"`
	JWTSecret    string  `mapstructure:"jwt-secret"`
	MessageRate  float64 `mapstructure:"message-rate"`
	MessageBurst int     `mapstructure:"message-burst"`
}

type Redis struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Backend struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

// Proctor thresholds are tunable: they drive false-positive rates and
// will be revisited as review data accumulates.
type Proctor struct {
	RapidInjectionChars int `mapstructure:"rapid-injection-chars"`
	IdleThresholdSec    int `mapstructure:"idle-threshold-seconds"`
	IdleCheckSec        int `mapstructure:"idle-check-seconds"`
	KeyboardRhythmCap   int `mapstructure:"keyboard-rhythm-cap"`
}

func (p Proctor) IdleThreshold() time.Duration {
	return time.Duration(p.IdleThresholdSec) * time.Second
}

func (p Proctor) IdleCheckInterval() time.Duration {
	return time.Duration(p.IdleCheckSec) * time.Second
}

type Media struct {
	STUNServers []string `mapstructure:"stun-servers"`
}

// Load reads an optional YAML config file plus ROOMKIT_* environment
// overrides on top of defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.jwt-secret", "change-me-in-production")
	v.SetDefault("server.message-rate", 50.0)
	v.SetDefault("server.message-burst", 100)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("proctor.rapid-injection-chars", 50)
	v.SetDefault("proctor.idle-threshold-seconds", 30)
	v.SetDefault("proctor.idle-check-seconds", 5)
	v.SetDefault("proctor.keyboard-rhythm-cap", 200)
	v.SetDefault("media.stun-servers", []string{"stun:stun.l.google.com:19302"})

	v.SetEnvPrefix("roomkit")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
