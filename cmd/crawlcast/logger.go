package main

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

func buildZapLogger(encoding string, file string) (*zap.Logger, error) {
	var config zap.Config

	if encoding == "json" {
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.MessageKey = "message"
		encoderConfig.LevelKey = "severity"
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.NameKey = "logger"
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder

		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.EncoderConfig = encoderConfig
	} else {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

		config = zap.NewDevelopmentConfig()
		config.EncoderConfig = encoderConfig
	}

	if file == "" {
		return config.Build()
	}

	rotator := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}

	newEncoder := zapcore.NewConsoleEncoder
	if config.Encoding == "json" {
		newEncoder = zapcore.NewJSONEncoder
	}

	// Rotated files never get color codes.
	fileEncoderConfig := config.EncoderConfig
	fileEncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(newEncoder(config.EncoderConfig), zapcore.Lock(os.Stderr), config.Level),
		zapcore.NewCore(newEncoder(fileEncoderConfig), zapcore.AddSync(rotator), config.Level),
	)

	return zap.New(core, zap.AddCaller()), nil
}
