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
	Logger      *LoggerConfig      `yaml:"logger" json:"logger" validate:"required"`
	Cache       *CacheConfig       `yaml:"cache" json:"cache" validate:"required"`
	Strategy    *StrategyConfig    `yaml:"strategy" json:"strategy"`
	Storage     *StorageConfig     `yaml:"storage" json:"storage" validate:"required"`
	Persistence *PersistenceConfig `yaml:"persistence" json:"persistence" validate:"required"`
	Metrics     *MetricsConfig     `yaml:"metrics" json:"metrics"`
	Cron        *CronConfig        `yaml:"cron" json:"cron"`
	Admin       *AdminConfig       `yaml:"admin" json:"admin"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn warning error fatal"`
	Config interface{} `yaml:"config" json:"config"`
}

type CacheConfig struct {
	Type            string        `yaml:"type" json:"type" validate:"required"`
	MaxSize         int64         `yaml:"max_size" json:"max_size" validate:"min=0"`
	MaxItems        int           `yaml:"max_items" json:"max_items" validate:"min=0"`
	DefaultTTL      time.Duration `yaml:"default_ttl" json:"default_ttl" validate:"min=0"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval" validate:"min=0"`
}

type StrategyConfig struct {
	Policies map[string]*PolicyConfig `yaml:"policies" json:"policies" validate:"dive"`
}

// PolicyConfig overrides a category policy. Nil fields keep the built-in value.
type PolicyConfig struct {
	TTL           *time.Duration `yaml:"ttl" json:"ttl"`
	Priority      *int           `yaml:"priority" json:"priority"`
	KeyPrefix     *string        `yaml:"key_prefix" json:"key_prefix"`
	Persist       *string        `yaml:"persist" json:"persist" validate:"omitempty,oneof=always recent never"`
	PersistWindow *time.Duration `yaml:"persist_window" json:"persist_window"`
}

type StorageConfig struct {
	Type      string              `yaml:"type" json:"type" validate:"required,oneof=memory clover sqlite redis"`
	Path      string              `yaml:"path" json:"path"`
	KeyPrefix string              `yaml:"key_prefix" json:"key_prefix"`
	Redis     *RedisStorageConfig `yaml:"redis" json:"redis"`
	Fallback  bool                `yaml:"fallback" json:"fallback"`
}

type RedisStorageConfig struct {
	Host         string        `yaml:"host" json:"host"`
	Port         int           `yaml:"port" json:"port" validate:"omitempty,min=1,max=65535"`
	Password     string        `yaml:"password" json:"password"`
	DB           int           `yaml:"db" json:"db" validate:"min=0"`
	PoolSize     int           `yaml:"pool_size" json:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

type PersistenceConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	SchemaVersion    string        `yaml:"schema_version" json:"schema_version" validate:"required"`
	SnapshotKey      string        `yaml:"snapshot_key" json:"snapshot_key"`
	Compression      string        `yaml:"compression" json:"compression" validate:"omitempty,oneof=none brotli"`
	CompressionLevel int           `yaml:"compression_level" json:"compression_level" validate:"min=0,max=11"`
	EncryptionKey    string        `yaml:"encryption_key" json:"encryption_key"`
	AutosaveSchedule string        `yaml:"autosave_schedule" json:"autosave_schedule"`
	Backups          *BackupConfig `yaml:"backups" json:"backups"`
}

type BackupConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	OnSave     bool `yaml:"on_save" json:"on_save"`
	MaxBackups int  `yaml:"max_backups" json:"max_backups" validate:"min=0"`
}

type MetricsConfig struct {
	Enabled bool        `yaml:"enabled" json:"enabled"`
	Type    string      `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config  interface{} `yaml:"config" json:"config"`
}

type CronConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Timezone string `yaml:"timezone" json:"timezone" validate:"required_if=Enabled true"`
}

type AdminConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port" validate:"omitempty,min=1,max=65535"`
	Token    string `yaml:"token" json:"-"`
	LogLevel string `yaml:"log_level" json:"log_level" validate:"omitempty,oneof=debug info warn error"`
}
