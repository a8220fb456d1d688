package types

import (
	"time"
)

type ConfigManager interface {
	Load() error
	GetConfig() *ServiceConfig
	GetValue(path string, defaultValue interface{}) interface{}
	GetAs(path string, target interface{}) error
}

type ServiceConfig struct {
	Name        string             `yaml:"name" json:"name" validate:"required"`
	Version     string             `yaml:"version" json:"version" validate:"required"`
	Server      *ServerConfig      `yaml:"server" json:"server" validate:"required"`
	Logger      *LoggerConfig      `yaml:"logger" json:"logger" validate:"required" envPrefix:"LOG_"`
	Store       *StoreConfig       `yaml:"store" json:"store" validate:"required"`
	Cache       *CacheConfig       `yaml:"cache" json:"cache" validate:"required"`
	Metrics     *MetricsConfig     `yaml:"metrics" json:"metrics" validate:"required"`
	Middlewares *MiddlewaresConfig `yaml:"middlewares" json:"middlewares"`
	Auth        *AuthConfig        `yaml:"auth" json:"auth" envPrefix:"ADMIN_"`
	Catalog     *CatalogConfig     `yaml:"catalog" json:"catalog"`
	Cron        *CronConfig        `yaml:"cron" json:"cron"`
	Health      *HealthConfig      `yaml:"health" json:"health"`
}

type ServerConfig struct {
	HTTP *HTTPConfig `yaml:"http" json:"http" validate:"required" envPrefix:"HTTP_"`
}

type HTTPConfig struct {
	Host            string        `yaml:"host" json:"host" env:"HOST"`
	Port            int           `yaml:"port" json:"port" env:"PORT" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

type LoggerConfig struct {
	Level  string `yaml:"level" json:"level" env:"LEVEL" validate:"required,oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"oneof=console json"`
	Output string `yaml:"output" json:"output" validate:"oneof=stdout stderr file"`
	File   string `yaml:"file" json:"file" validate:"required_if=Output file"`
}

type StoreConfig struct {
	Type       string        `yaml:"type" json:"type" validate:"required,oneof=redis memory"`
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl" validate:"min=0"`
	Redis      *RedisConfig  `yaml:"redis" json:"redis" envPrefix:"REDIS_"`
}

type RedisConfig struct {
	Host         string        `yaml:"host" json:"host" env:"HOST" validate:"required"`
	Port         int           `yaml:"port" json:"port" env:"PORT" validate:"min=1,max=65535"`
	Password     string        `yaml:"password" json:"-" env:"PASSWORD"`
	DB           int           `yaml:"db" json:"db" validate:"min=0"`
	PoolSize     int           `yaml:"pool_size" json:"pool_size" validate:"min=0"`
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	QueryTimeout time.Duration `yaml:"query_timeout" json:"query_timeout" validate:"min=0"`
	ScanCount    int64         `yaml:"scan_count" json:"scan_count" validate:"min=0"`
}

type CacheConfig struct {
	Enabled        bool                `yaml:"enabled" json:"enabled"`
	Namespace      string              `yaml:"namespace" json:"namespace" validate:"required_if=Enabled true"`
	ExcludedParams []string            `yaml:"excluded_params" json:"excluded_params"`
	DefaultTTL     time.Duration       `yaml:"default_ttl" json:"default_ttl" validate:"min=0"`
	HeavyModels    []string            `yaml:"heavy_models" json:"heavy_models"`
	FanOut         map[string][]string `yaml:"fan_out" json:"fan_out"`
	AccessLog      *AccessLogConfig    `yaml:"access_log" json:"access_log"`
}

type AccessLogConfig struct {
	File   string `yaml:"file" json:"file"`
	Buffer int    `yaml:"buffer" json:"buffer" validate:"min=0"`
}

type MetricsConfig struct {
	Namespace       string            `yaml:"namespace" json:"namespace" validate:"required"`
	SampleRetention time.Duration     `yaml:"sample_retention" json:"sample_retention" validate:"min=0"`
	PruneSchedule   string            `yaml:"prune_schedule" json:"prune_schedule"`
	RecentWindow    time.Duration     `yaml:"recent_window" json:"recent_window" validate:"min=0"`
	MinSamples      int64             `yaml:"min_samples" json:"min_samples" validate:"min=0"`
	TopViews        int               `yaml:"top_views" json:"top_views" validate:"min=0"`
	Prometheus      *PrometheusConfig `yaml:"prometheus" json:"prometheus"`
}

type PrometheusConfig struct {
	Enabled   bool              `yaml:"enabled" json:"enabled"`
	Namespace string            `yaml:"namespace" json:"namespace"`
	Subsystem string            `yaml:"subsystem" json:"subsystem"`
	Path      string            `yaml:"path" json:"path"`
	Buckets   []float64         `yaml:"buckets" json:"buckets"`
	Labels    map[string]string `yaml:"labels" json:"labels"`
	Runtime   bool              `yaml:"runtime" json:"runtime"`
}

type MiddlewaresConfig struct {
	Enabled      bool                  `yaml:"enabled" json:"enabled"`
	Recovery     *MiddlewareItemConfig `yaml:"recovery" json:"recovery"`
	Metadata     *MiddlewareItemConfig `yaml:"metadata" json:"metadata"`
	Logging      *MiddlewareItemConfig `yaml:"logging" json:"logging"`
	Auth         *MiddlewareItemConfig `yaml:"auth" json:"auth"`
	CacheControl *MiddlewareItemConfig `yaml:"cache_control" json:"cache_control"`
	Compression  *MiddlewareItemConfig `yaml:"compression" json:"compression"`
	Cache        *MiddlewareItemConfig `yaml:"cache" json:"cache"`
}

type MiddlewareItemConfig struct {
	Enabled bool                   `yaml:"enabled" json:"enabled"`
	Weight  int                    `yaml:"weight" json:"weight" validate:"min=0"`
	Params  map[string]interface{} `yaml:"params" json:"params"`
}

type AuthConfig struct {
	AdminTokenHash string `yaml:"admin_token_hash" json:"-" env:"TOKEN_HASH"`
	AdminHeader    string `yaml:"admin_header" json:"admin_header"`
	UserHeader     string `yaml:"user_header" json:"user_header"`
}

type CatalogConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path" validate:"required_if=Enabled true"`
}

type CronConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Timezone string `yaml:"timezone" json:"timezone" validate:"required_if=Enabled true"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

type VersionInfo struct {
	Version   string `json:"version"`
	BuildInfo string `json:"build_info"`
}
