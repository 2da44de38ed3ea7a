package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode              string        `mapstructure:"mode"`
	Port              int           `mapstructure:"port"`
	DatabasePath      string        `mapstructure:"database_path"`
	ReadLimit         int64         `mapstructure:"read_limit"`
	PingPeriod        time.Duration `mapstructure:"ping_period"`
	WriteWait         time.Duration `mapstructure:"write_wait"`
	JoinWindowMinutes int           `mapstructure:"join_window_minutes"`
	JWTSecret         string        `mapstructure:"jwt_secret"`
	MetricsPort       int           `mapstructure:"metrics_port"`
	MetricsPath       string        `mapstructure:"metrics_path"`
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
	v.SetDefault("database_path", "./sessiond.db")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("join_window_minutes", 15)
	v.SetDefault("metrics_port", 9090)
	v.SetDefault("metrics_path", "/metrics")

	v.AutomaticEnv()
	v.SetEnvPrefix("SESSIOND")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.JoinWindowMinutes < 0 {
		return fmt.Errorf("join_window_minutes must not be negative")
	}
	if c.ReadLimit <= 0 {
		return fmt.Errorf("read_limit must be positive")
	}
	return nil
}

// JoinWindow is the interval before scheduled start during which a join
// attempt is permitted.
func (c *Config) JoinWindow() time.Duration {
	return time.Duration(c.JoinWindowMinutes) * time.Minute
}
