package config

import (
	"context"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Khoshtrip/backend/types"
)

const EnvPrefix = "TRIPCACHE_"

type Loader struct {
	validator *validator.Validate
	environ   map[string]string
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// WithEnvironment replaces the process environment, used by tests.
func (l *Loader) WithEnvironment(environ map[string]string) *Loader {
	l.environ = environ
	return l
}

// LoadFromFile reads the YAML file over the defaults, applies TRIPCACHE_*
// overrides and validates the result. An empty path loads defaults only.
func (l *Loader) LoadFromFile(ctx context.Context, configPath string) (*types.ServiceConfig, error) {
	config := l.Defaults()

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, types.Errorf(types.ErrConfigNotFound, "file not found: %s", configPath)
		}

		data, err := l.ReadFileWithTimeout(ctx, configPath)
		if err != nil {
			return nil, types.WrapError(err, "failed to read config file")
		}

		if err = yaml.Unmarshal(data, config); err != nil {
			return nil, types.Errorf(types.ErrConfigParseFailed, "yaml: %v", err)
		}
	}

	return l.finish(config)
}

func (l *Loader) LoadFromBytes(data []byte) (*types.ServiceConfig, error) {
	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, types.Errorf(types.ErrConfigParseFailed, "yaml: %v", err)
	}

	return l.finish(config)
}

func (l *Loader) finish(config *types.ServiceConfig) (*types.ServiceConfig, error) {
	opts := env.Options{Prefix: EnvPrefix}
	if l.environ != nil {
		opts.Environment = l.environ
	}

	if err := env.ParseWithOptions(config, opts); err != nil {
		return nil, types.Errorf(types.ErrConfigParseFailed, "environment: %v", err)
	}

	if err := l.validator.Struct(config); err != nil {
		return nil, types.Errorf(types.ErrConfigValidateFailed, "%v", err)
	}

	return config, nil
}

func (l *Loader) ReadFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Name:    "khoshtrip-backend",
		Version: "dev",
		Server: &types.ServerConfig{
			HTTP: &types.HTTPConfig{
				Host:            "0.0.0.0",
				Port:            8080,
				ReadTimeout:     30 * time.Second,
				WriteTimeout:    30 * time.Second,
				IdleTimeout:     120 * time.Second,
				ShutdownTimeout: 10 * time.Second,
			},
		},
		Logger: &types.LoggerConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Store: &types.StoreConfig{
			Type:       "redis",
			DefaultTTL: 5 * time.Minute,
			Redis: &types.RedisConfig{
				Host:         "127.0.0.1",
				Port:         6379,
				DB:           1,
				PoolSize:     20,
				DialTimeout:  5 * time.Second,
				QueryTimeout: 5 * time.Second,
				ScanCount:    100,
			},
		},
		Cache: &types.CacheConfig{
			Enabled:        true,
			Namespace:      "view_cache",
			ExcludedParams: []string{"page", "per_page"},
			DefaultTTL:     5 * time.Minute,
			HeavyModels:    []string{"product", "package", "transaction", "purchasehistory"},
			FanOut: map[string][]string{
				"product": {"product_list", "product_detail", "all_products_list", "package_list", "package_detail"},
				"package": {"package_list", "package_detail", "user_purchase_history"},
				"image":   {},
			},
			AccessLog: &types.AccessLogConfig{
				Buffer: 1000,
			},
		},
		Metrics: &types.MetricsConfig{
			Namespace:       "cache_metrics",
			SampleRetention: 24 * time.Hour,
			PruneSchedule:   "@every 10m",
			RecentWindow:    5 * time.Minute,
			MinSamples:      10,
			TopViews:        5,
			Prometheus: &types.PrometheusConfig{
				Enabled:   true,
				Namespace: "khoshtrip",
				Path:      "/metrics",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
		},
		Middlewares: &types.MiddlewaresConfig{
			Enabled: true,
			Recovery: &types.MiddlewareItemConfig{
				Enabled: true,
				Weight:  10,
				Params: map[string]interface{}{
					"stack_trace": true,
				},
			},
			Metadata: &types.MiddlewareItemConfig{
				Enabled: true,
				Weight:  20,
				Params: map[string]interface{}{
					"generate_request_id": true,
				},
			},
			Logging: &types.MiddlewareItemConfig{
				Enabled: true,
				Weight:  30,
				Params: map[string]interface{}{
					"log_level":   "info",
					"log_headers": false,
				},
			},
			Auth: &types.MiddlewareItemConfig{
				Enabled: true,
				Weight:  40,
				Params: map[string]interface{}{
					"admin_prefixes": []string{"/cache/"},
				},
			},
			CacheControl: &types.MiddlewareItemConfig{
				Enabled: true,
				Weight:  50,
				Params: map[string]interface{}{
					"max_age_seconds": 300,
					"private_paths":   []string{"/cache/"},
				},
			},
			Compression: &types.MiddlewareItemConfig{
				Enabled: false,
				Weight:  60,
				Params: map[string]interface{}{
					"min_size": 1024,
					"level":    4,
				},
			},
			Cache: &types.MiddlewareItemConfig{
				Enabled: true,
				Weight:  70,
			},
		},
		Auth: &types.AuthConfig{
			AdminHeader: "X-Admin-Token",
			UserHeader:  "X-User-ID",
		},
		Catalog: &types.CatalogConfig{
			Enabled: true,
			Path:    "data/catalog",
		},
		Cron: &types.CronConfig{
			Enabled:  true,
			Timezone: "UTC",
		},
		Health: &types.HealthConfig{
			Enabled: true,
			Path:    "/health",
		},
	}
}
