package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	ServiceName string `json:"service_name"`
	Level       string `json:"level"`
	Dir         string `json:"dir"`
	Pretty      bool   `json:"pretty"`
}

// New builds the process logger. Output goes to stdout and, when Dir is set,
// to a rotating file named after the service.
func New(cfg Config) *zap.SugaredLogger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	atomicLevel := zap.NewAtomicLevelAt(level)

	cores := []zapcore.Core{
		zapcore.NewCore(getEncoder(cfg.Pretty), zapcore.Lock(os.Stdout), atomicLevel),
	}
	if cfg.Dir != "" {
		cores = append(cores, zapcore.NewCore(getEncoder(false), getLogWriter(cfg.Dir, cfg.ServiceName), atomicLevel))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()).Sugar().Named(cfg.ServiceName)
}

// Nop returns a logger that discards everything, for tests and tools.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func getEncoder(pretty bool) zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
	}
	if pretty {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(encoderConfig)
	}
	return zapcore.NewJSONEncoder(encoderConfig)
}

func getLogWriter(dir, serviceName string) zapcore.WriteSyncer {
	lumberJackLogger := &lumberjack.Logger{
		Filename:   filepath.Join(dir, serviceName+".log"),
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
	return zapcore.AddSync(lumberJackLogger)
}
