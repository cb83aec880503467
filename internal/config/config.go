package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`

	WorkerPool int `mapstructure:"worker_pool"`
	RTCMinPort int `mapstructure:"rtc_min_port"`
	RTCMaxPort int `mapstructure:"rtc_max_port"`

	HeartbeatPoll  time.Duration `mapstructure:"heartbeat_poll"`
	HeartbeatStale time.Duration `mapstructure:"heartbeat_stale"`

	ReadLimit   int64   `mapstructure:"read_limit"`
	SendBuffer  int     `mapstructure:"send_buffer"`
	MessageRate float64 `mapstructure:"message_rate"`

	DatabasePath string `mapstructure:"database_path"`
	RedisAddr    string `mapstructure:"redis_addr"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("worker_pool", 2)
	v.SetDefault("rtc_min_port", 10000)
	v.SetDefault("rtc_max_port", 59999)
	v.SetDefault("heartbeat_poll", "5s")
	v.SetDefault("heartbeat_stale", "10s")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("send_buffer", 32)
	v.SetDefault("message_rate", 50)
	v.SetDefault("database_path", "voicegrid.db")
	v.SetDefault("redis_addr", "")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.HeartbeatPoll >= cfg.HeartbeatStale {
		return nil, fmt.Errorf("heartbeat_poll (%s) must be shorter than heartbeat_stale (%s)",
			cfg.HeartbeatPoll, cfg.HeartbeatStale)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Workers: %d\n", cfg.Mode, cfg.Port, cfg.WorkerPool)
	return &cfg, nil
}
