package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger.
// level: "debug", "info", "warn", "error" (anything else is info)
// format: "json" or "console" (default "json")
// serviceName: attached as service_name when not empty
// fields: attached to every entry, e.g. the vehicle id
func NewLogger(level, format, serviceName string, fields ...zap.Field) (*zap.Logger, error) {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil || zapLevel < zapcore.DebugLevel || zapLevel > zapcore.ErrorLevel {
		zapLevel = zapcore.InfoLevel
	}

	var config zap.Config
	if format == "console" {
		// readable on the head unit terminal
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.OutputPaths = []string{"stdout"}
		config.ErrorOutputPaths = []string{"stderr"}
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	base, err := config.Build()
	if err != nil {
		return nil, err
	}
	return base.With(baseFields(serviceName, fields)...), nil
}

func baseFields(serviceName string, extra []zap.Field) []zap.Field {
	var fields []zap.Field
	if serviceName != "" {
		fields = append(fields, zap.String("service_name", serviceName))
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		fields = append(fields, zap.String("hostname", hostname))
	}
	return append(fields, extra...)
}
