package config

import (
	"fmt"
	"time"

	"github.com/caseworks/leximport/internal/db"
	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// ImportConfig holds the pipeline tunables exposed to operators.
type ImportConfig struct {
	BatchSize          int
	Concurrency        int
	RetryAttempts      int
	CheckpointInterval time.Duration
	SnapshotRetention  time.Duration
}

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig
	Database db.Config
	Import   ImportConfig
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Database: db.DefaultConfig(),
		Import: ImportConfig{
			BatchSize:          50,
			Concurrency:        3,
			RetryAttempts:      3,
			CheckpointInterval: 2 * time.Second,
			SnapshotRetention:  time.Hour,
		},
	}
}

// Load reads config.yaml from configPath and overlays LEX_ environment
// variables on top of the defaults.
func Load(configPath string) (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()      // allow environment overrides
	v.SetEnvPrefix("LEX") // map env vars like LEX_DATABASE.HOST

	v.BindEnv("server.addr")
	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("import.batch_size")
	v.BindEnv("import.concurrency")
	v.BindEnv("import.retry_attempts")

	if err := v.ReadInConfig(); err != nil {
		// Config file not found? Just log it, use defaults + env
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("import.batch_size") {
		cfg.Import.BatchSize = v.GetInt("import.batch_size")
	}
	if v.IsSet("import.concurrency") {
		cfg.Import.Concurrency = v.GetInt("import.concurrency")
	}
	if v.IsSet("import.retry_attempts") {
		cfg.Import.RetryAttempts = v.GetInt("import.retry_attempts")
	}
	if v.IsSet("import.checkpoint_interval") {
		cfg.Import.CheckpointInterval = v.GetDuration("import.checkpoint_interval")
	}
	if v.IsSet("import.snapshot_retention") {
		cfg.Import.SnapshotRetention = v.GetDuration("import.snapshot_retention")
	}

	return cfg, nil
}
