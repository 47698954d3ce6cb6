package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
)

var (
	ErrCacheKeyEmpty              = errors.New("cache key empty")
	ErrCacheTypeUnknown           = errors.New("cache type unknown")
	ErrCacheValueNotSerializable  = errors.New("cache value not serializable")
	ErrCacheDestroyed             = errors.New("cache destroyed")
	ErrCacheCategoryUnknown       = errors.New("cache category unknown")
	ErrCachePolicyInvalid         = errors.New("cache policy invalid")
	ErrCacheCleanupTargetNegative = errors.New("cache cleanup target negative")
)

var (
	ErrStorageTypeUnknown     = errors.New("storage type unknown")
	ErrStorageOpenFailed      = errors.New("storage open failed")
	ErrStorageOperationFailed = errors.New("storage operation failed")
	ErrStorageClosed          = errors.New("storage closed")
)

var (
	ErrPersistenceDisabled     = errors.New("persistence disabled")
	ErrPersistenceDecodeFailed = errors.New("persistence decode failed")
	ErrPersistenceEncodeFailed = errors.New("persistence encode failed")
	ErrExportFailed            = errors.New("export failed")
	ErrBackupNotFound          = errors.New("backup not found")
	ErrBackupsDisabled         = errors.New("backups disabled")
	ErrCodecKeyInvalid         = errors.New("codec key invalid")
)

var (
	ErrMigrationFailed          = errors.New("migration failed")
	ErrMigrationVersionInvalid  = errors.New("migration version invalid")
	ErrMigrationVersionExists   = errors.New("migration version exists")
	ErrMigrationFunctionIsNil   = errors.New("migration function is nil")
	ErrSchemaVersionUnsupported = errors.New("schema version unsupported")
)

var (
	ErrOCRProviderUnknown = errors.New("ocr provider unknown")
	ErrOCRProviderExists  = errors.New("ocr provider exists")
	ErrOCRImageEmpty      = errors.New("ocr image empty")
)

var (
	ErrCronJobNotFound       = errors.New("cron job not found")
	ErrCronIsRunning         = errors.New("cron is running")
	ErrCronIsNotRunning      = errors.New("cron is not running")
	ErrCronSchedulerStopped  = errors.New("cron scheduler stopped")
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronJobFailed         = errors.New("cron job failed")
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronJobIsNil          = errors.New("cron job is nil")
	ErrCronJobTimeout        = errors.New("cron job timeout")
)

var (
	ErrMetricsTypeUnknown = errors.New("metrics type unknown")
	ErrMetricsIsDisabled  = errors.New("metrics manager is disabled")
)

var (
	ErrLogFileIsEmpty      = errors.New("log file is empty")
	ErrLogFileWrongFormat  = errors.New("log file wrong format")
	ErrLoggerTypeUnknown   = errors.New("logger type unknown")
	ErrLoggerConfigInvalid = errors.New("logger config invalid")
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidState     = errors.New("invalid state")
	ErrUnauthorized     = errors.New("unauthorized")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func NewError(message string) error {
	return errors.New(message)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
