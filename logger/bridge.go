package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/saiset-co/sai-cache/types"
)

type zapBridge struct {
	logger types.Logger
	fields []zapcore.Field
}

func (z *zapBridge) Enabled(level zapcore.Level) bool {
	return true
}

func (z *zapBridge) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(z.fields)+len(fields))
	merged = append(merged, z.fields...)
	merged = append(merged, fields...)
	return &zapBridge{logger: z.logger, fields: merged}
}

func (z *zapBridge) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	return ce.AddCore(entry, z)
}

func (z *zapBridge) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	all := make([]zap.Field, 0, len(z.fields)+len(fields))
	all = append(all, z.fields...)
	all = append(all, fields...)
	z.logger.Log(entry.Level, entry.Message, all...)
	return nil
}

func (z *zapBridge) Sync() error {
	return nil
}

// ToZap returns a zap.Logger that forwards every entry to the provided logger.
func ToZap(logger types.Logger) *zap.Logger {
	return zap.New(&zapBridge{logger: logger})
}
