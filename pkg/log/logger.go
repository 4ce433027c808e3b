// Copyright 2025 The axfor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package log

import (
	"os"
	"sync"

	"treeCache/pkg/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
	once         sync.Once
)

// Logger wraps a zap.Logger together with the config it was built from.
type Logger struct {
	zap    *zap.Logger
	config *Config
}

// Config describes how a Logger encodes and where it writes.
type Config struct {
	// Level is one of debug, info, warn, error, dpanic, panic, fatal.
	Level string

	// OutputPaths are stdout, stderr or file paths.
	OutputPaths []string

	// ErrorOutputPaths receive Error and above only.
	ErrorOutputPaths []string

	// Encoding is json or console.
	Encoding string

	Development       bool
	DisableCaller     bool
	DisableStacktrace bool

	// EnableColor colors levels with the console encoding.
	EnableColor bool

	// Rotation applies to file outputs.
	Rotation RotationConfig
}

// DefaultConfig logs info and above to the console.
var DefaultConfig = &Config{
	Level:            "info",
	OutputPaths:      []string{"stdout"},
	ErrorOutputPaths: []string{"stderr"},
	Encoding:         "console",
	EnableColor:      true,
	Rotation:         defaultRotation,
}

// NewLogger builds a Logger. A nil cfg means DefaultConfig.
func NewLogger(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig
	}

	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, err
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if cfg.Encoding == "console" && cfg.EnableColor {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	newEncoder := func() zapcore.Encoder {
		if cfg.Encoding == "json" {
			return zapcore.NewJSONEncoder(encoderConfig)
		}
		return zapcore.NewConsoleEncoder(encoderConfig)
	}

	var cores []zapcore.Core
	for _, path := range cfg.OutputPaths {
		cores = append(cores, zapcore.NewCore(newEncoder(), getWriter(path, cfg.Rotation), level))
	}

	// paths already in OutputPaths would get every error twice
	for _, path := range cfg.ErrorOutputPaths {
		if contains(cfg.OutputPaths, path) {
			continue
		}
		cores = append(cores, zapcore.NewCore(newEncoder(), getWriter(path, cfg.Rotation), zapcore.ErrorLevel))
	}

	var opts []zap.Option
	if !cfg.DisableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if !cfg.DisableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	return &Logger{
		zap:    zap.New(zapcore.NewTee(cores...), opts...),
		config: cfg,
	}, nil
}

// InitGlobalLogger builds the global logger once.
func InitGlobalLogger(cfg *Config) error {
	var err error
	once.Do(func() {
		var l *Logger
		l, err = NewLogger(cfg)
		if err == nil {
			ReplaceGlobalLogger(l)
		}
	})
	return err
}

// NewFromConfig builds a Logger from the log section of the node config.
func NewFromConfig(cfg *config.LogConfig) (*Logger, error) {
	if cfg == nil {
		return NewLogger(DefaultConfig)
	}

	return NewLogger(&Config{
		Level:            cfg.Level,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: cfg.ErrorOutputPaths,
		Encoding:         cfg.Encoding,
		EnableColor:      cfg.Encoding == "console",
		Rotation: RotationConfig{
			MaxSizeMB:  cfg.Rotation.MaxSizeMB,
			MaxBackups: cfg.Rotation.MaxBackups,
			MaxAgeDays: cfg.Rotation.MaxAgeDays,
			Compress:   cfg.Rotation.Compress,
		},
	})
}

// InitFromConfig builds a Logger from cfg and makes it the global one.
func InitFromConfig(cfg *config.LogConfig) (*Logger, error) {
	l, err := NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	ReplaceGlobalLogger(l)
	return l, nil
}

// GetLogger returns the global logger, building it from DefaultConfig on
// first use.
func GetLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	_ = InitGlobalLogger(DefaultConfig)

	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger == nil {
		return &Logger{zap: zap.NewNop(), config: DefaultConfig}
	}
	return globalLogger
}

// ReplaceGlobalLogger swaps the global logger.
func ReplaceGlobalLogger(logger *Logger) {
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// Zap returns the underlying logger for components that take *zap.Logger.
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

func (l *Logger) Info(msg string, fields ...zap.Field)  { l.zap.Info(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.zap.Error(msg, fields...) }

func getWriter(path string, rotation RotationConfig) zapcore.WriteSyncer {
	switch path {
	case "stdout":
		return zapcore.AddSync(os.Stdout)
	case "stderr":
		return zapcore.AddSync(os.Stderr)
	default:
		return zapcore.AddSync(newRotatingWriter(path, rotation))
	}
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// Info logs through the global logger.
func Info(msg string, fields ...zap.Field) { GetLogger().Info(msg, fields...) }

// Error logs through the global logger.
func Error(msg string, fields ...zap.Field) { GetLogger().Error(msg, fields...) }
