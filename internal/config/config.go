package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rpattn/sitepolygons/internal/db"
)

// Config is the full service configuration.
type Config struct {
	Database     db.Config
	Server       ServerConfig
	Ingestion    IngestionConfig
	Tessellation TessellationConfig
	Redis        RedisConfig
	ObjectStore  ObjectStoreConfig
	Log          LogConfig
}

type ServerConfig struct {
	Port           int
	AllowedOrigins []string
	MaxUploadBytes int64
}

type IngestionConfig struct {
	ChunkThreshold int
	ChunkSize      int
	DedupCacheTTL  time.Duration
}

type TessellationConfig struct {
	MarginMeters float64
	ShrinkMeters float64
	QuadSegments int
}

// RedisConfig enables the progress side channel when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// ObjectStoreConfig enables raw upload archiving when Endpoint is set.
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads config.yaml from configPath (optional), a .env file (optional)
// and SITEPOLYGONS_* environment variables, in increasing precedence.
func Load(configPath string) (Config, error) {
	// Missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.SetEnvPrefix("SITEPOLYGONS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := Config{
		Database: db.Config{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.dbname"),
			SSLMode:  v.GetString("database.sslmode"),
			MaxConns: v.GetInt32("database.max_conns"),
			MinConns: v.GetInt32("database.min_conns"),
		},
		Server: ServerConfig{
			Port:           v.GetInt("server.port"),
			AllowedOrigins: v.GetStringSlice("server.allowed_origins"),
			MaxUploadBytes: v.GetInt64("server.max_upload_bytes"),
		},
		Ingestion: IngestionConfig{
			ChunkThreshold: v.GetInt("ingestion.chunk_threshold"),
			ChunkSize:      v.GetInt("ingestion.chunk_size"),
			DedupCacheTTL:  v.GetDuration("ingestion.dedup_cache_ttl"),
		},
		Tessellation: TessellationConfig{
			MarginMeters: v.GetFloat64("tessellation.margin_meters"),
			ShrinkMeters: v.GetFloat64("tessellation.shrink_meters"),
			QuadSegments: v.GetInt("tessellation.quad_segments"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			TTL:      v.GetDuration("redis.ttl"),
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:  v.GetString("objectstore.endpoint"),
			AccessKey: v.GetString("objectstore.access_key"),
			SecretKey: v.GetString("objectstore.secret_key"),
			Bucket:    v.GetString("objectstore.bucket"),
			UseSSL:    v.GetBool("objectstore.use_ssl"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Ingestion.ChunkSize <= 0 {
		return fmt.Errorf("ingestion.chunk_size must be positive, got %d", c.Ingestion.ChunkSize)
	}
	if c.Ingestion.ChunkThreshold < c.Ingestion.ChunkSize {
		return fmt.Errorf("ingestion.chunk_threshold (%d) must be at least chunk_size (%d)",
			c.Ingestion.ChunkThreshold, c.Ingestion.ChunkSize)
	}
	if c.Tessellation.MarginMeters < 0 || c.Tessellation.ShrinkMeters < 0 {
		return fmt.Errorf("tessellation margins must not be negative")
	}
	if c.Tessellation.QuadSegments <= 0 {
		return fmt.Errorf("tessellation.quad_segments must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := db.DefaultConfig()
	v.SetDefault("database.host", d.Host)
	v.SetDefault("database.port", d.Port)
	v.SetDefault("database.user", d.User)
	v.SetDefault("database.password", d.Password)
	v.SetDefault("database.dbname", d.DBName)
	v.SetDefault("database.sslmode", d.SSLMode)
	v.SetDefault("database.max_conns", d.MaxConns)
	v.SetDefault("database.min_conns", d.MinConns)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_upload_bytes", int64(64<<20))

	v.SetDefault("ingestion.chunk_threshold", 1000)
	v.SetDefault("ingestion.chunk_size", 500)
	v.SetDefault("ingestion.dedup_cache_ttl", 5*time.Minute)

	v.SetDefault("tessellation.margin_meters", 0.1)
	v.SetDefault("tessellation.shrink_meters", 0.01)
	v.SetDefault("tessellation.quad_segments", 16)

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("objectstore.bucket", "site-polygon-uploads")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}
