package rnet

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger builds a structured logger for a Manager. When
// cfg.LogFilePath is set, records are written to a rotating file via
// lumberjack instead of stderr; LogDebug lowers the level to Debug.
func newLogger(cfg *Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.LogDebug {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg.LogFilePath == "" {
		zcfg := zap.NewProductionConfig()
		zcfg.EncoderConfig = encoderCfg
		zcfg.Level = zap.NewAtomicLevelAt(level)
		return zcfg.Build()
	}

	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    64, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	})

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), writer, level)
	return zap.New(core), nil
}
