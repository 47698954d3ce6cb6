package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-cache/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(ctx context.Context, configPath string) (*types.ServiceConfig, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, types.WrapError(types.ErrConfigNotFound, "file not found: "+configPath)
	}

	data, err := l.ReadFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to read config file")
	}

	return l.LoadFromBytes(data)
}

func (l *Loader) LoadFromBytes(data []byte) (*types.ServiceConfig, error) {
	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, types.WrapError(types.ErrConfigParseFailed, err.Error())
	}

	if err := l.Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

func (l *Loader) Validate(config *types.ServiceConfig) error {
	if config == nil {
		return types.ErrConfigIsNil
	}

	if err := l.validator.Struct(config); err != nil {
		return types.Errorf(types.ErrConfigValidateFailed, "%v", err)
	}

	if config.Strategy != nil {
		for name := range config.Strategy.Policies {
			if !types.Category(name).Valid() {
				return types.Errorf(types.ErrConfigValidateFailed, "unknown strategy category: %s", name)
			}
		}
	}

	return nil
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
		Name:    "sai-cache",
		Version: "1.0.0",
		Logger: &types.LoggerConfig{
			Level: "info",
		},
		Cache: &types.CacheConfig{
			Type:            "memory",
			MaxSize:         50 * 1024 * 1024,
			MaxItems:        10000,
			DefaultTTL:      time.Hour,
			CleanupInterval: 5 * time.Minute,
		},
		Strategy: &types.StrategyConfig{
			Policies: map[string]*types.PolicyConfig{},
		},
		Storage: &types.StorageConfig{
			Type:      "memory",
			KeyPrefix: "sai-cache",
			Fallback:  true,
			Redis: &types.RedisStorageConfig{
				Host:         "localhost",
				Port:         6379,
				PoolSize:     10,
				DialTimeout:  5 * time.Second,
				ReadTimeout:  3 * time.Second,
				WriteTimeout: 3 * time.Second,
			},
		},
		Persistence: &types.PersistenceConfig{
			Enabled:          true,
			SchemaVersion:    "1.2.0",
			SnapshotKey:      "cache_snapshot",
			Compression:      "none",
			CompressionLevel: 5,
			AutosaveSchedule: "@every 1m",
			Backups: &types.BackupConfig{
				Enabled:    true,
				OnSave:     false,
				MaxBackups: 5,
			},
		},
		Metrics: &types.MetricsConfig{
			Enabled: true,
			Type:    "memory",
		},
		Cron: &types.CronConfig{
			Enabled:  true,
			Timezone: "UTC",
		},
		Admin: &types.AdminConfig{
			Enabled:  false,
			Host:     "127.0.0.1",
			Port:     8089,
			LogLevel: "debug",
		},
	}
}
