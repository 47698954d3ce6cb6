package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

// ZapLoggerConfig is the logger.config section understood by the default
// logger. Format is console or json; Output is stdout, stderr or file.
type ZapLoggerConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
	File   string `yaml:"file" json:"file"`
}

func NewDefaultLogger(config *types.LoggerConfig) (*ZapWrapper, error) {
	options := ZapLoggerConfig{
		Level:  config.Level,
		Format: "console",
		Output: "stdout",
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, &options); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal logger config")
		}
	}

	sink, err := openSink(options)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	level := zap.NewAtomicLevelAt(parseLogLevel(options.Level))
	core := zapcore.NewCore(newEncoder(options.Format), sink, level)

	l := NewZapWrapper(zap.New(core, zap.AddCaller(), zap.ErrorOutput(sink)))
	l.Debug("Logger initialized",
		zap.Stringer("level", level),
		zap.String("format", options.Format),
		zap.String("output", options.Output),
	)

	return l, nil
}

// NewNopLogger discards everything. Tests and embedded callers use it.
func NewNopLogger() *ZapWrapper {
	return NewZapWrapper(zap.NewNop())
}

func newEncoder(format string) zapcore.Encoder {
	if format == "console" {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeCaller = zapcore.FullCallerEncoder
		return zapcore.NewConsoleEncoder(encoderConfig)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

// openSink resolves the output. A file output without a file name writes to
// stdout.
func openSink(options ZapLoggerConfig) (zapcore.WriteSyncer, error) {
	switch {
	case options.Output == "stderr":
		return zapcore.Lock(os.Stderr), nil
	case options.Output == "file" && options.File != "":
		if err := ensureLogDir(options.File); err != nil {
			return nil, err
		}
		sink, _, err := zap.Open(options.File)
		return sink, err
	default:
		return zapcore.Lock(os.Stdout), nil
	}
}

// parseLogLevel falls back to info for anything zap does not know.
func parseLogLevel(level string) zapcore.Level {
	level = strings.ToLower(level)
	if level == "warning" {
		return zapcore.WarnLevel
	}

	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return parsed
}

func ensureLogDir(logFile string) error {
	if logFile == "" {
		return types.ErrLogFileIsEmpty
	}

	dir := filepath.Dir(logFile)
	if dir == "." && !strings.ContainsRune(logFile, filepath.Separator) {
		return types.ErrLogFileWrongFormat
	}

	return types.WrapError(os.MkdirAll(dir, 0755), "access denied to log directory")
}

// ZapWrapper adapts a zap.Logger to types.Logger. Caller information points
// at the code calling the logger manager, two frames above zap.
type ZapWrapper struct {
	Logger *zap.Logger
	caller *zap.Logger
}

var _ types.Logger = (*ZapWrapper)(nil)

func NewZapWrapper(logger *zap.Logger) *ZapWrapper {
	return &ZapWrapper{
		Logger: logger,
		caller: logger.WithOptions(zap.AddCallerSkip(2)),
	}
}

func (z *ZapWrapper) Error(msg string, fields ...zap.Field) { z.caller.Error(msg, fields...) }
func (z *ZapWrapper) Warn(msg string, fields ...zap.Field)  { z.caller.Warn(msg, fields...) }
func (z *ZapWrapper) Info(msg string, fields ...zap.Field)  { z.caller.Info(msg, fields...) }
func (z *ZapWrapper) Debug(msg string, fields ...zap.Field) { z.caller.Debug(msg, fields...) }

func (z *ZapWrapper) Log(lvl zapcore.Level, msg string, fields ...zap.Field) {
	z.caller.Log(lvl, msg, fields...)
}

// ErrorWithErrStack logs err and, at debug level, the stack recorded closest
// to its root cause.
func (z *ZapWrapper) ErrorWithErrStack(msg string, err error, fields ...zap.Field) {
	if err == nil {
		z.Error(msg, fields...)
		return
	}

	all := make([]zap.Field, 0, len(fields)+2)
	all = append(all, zap.String("error", err.Error()))
	if cause := errors.Cause(err); cause != err && cause.Error() != err.Error() {
		all = append(all, zap.String("cause", cause.Error()))
	}
	all = append(all, fields...)

	z.caller.Error(msg, all...)

	if stack := rootStack(err); stack != "" {
		z.caller.Debug("error stack trace", zap.String("stack", stack))
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func rootStack(err error) string {
	var stack errors.StackTrace
	for ; err != nil; err = errors.Unwrap(err) {
		if st, ok := err.(stackTracer); ok {
			stack = st.StackTrace()
		}
	}

	if stack == nil {
		return ""
	}
	return fmt.Sprintf("%+v", stack)
}
