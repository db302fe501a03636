// Copyright 2025 James Ross
package obs

import (
    "os"
    "strings"

    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
    "gopkg.in/natefinch/lumberjack.v2"
)

var stdout = os.Stdout

// FileSinkConfig rotates logs to disk alongside stdout, via lumberjack.
type FileSinkConfig struct {
    Path       string
    MaxSizeMB  int
    MaxBackups int
    MaxAgeDays int
    Compress   bool
}

// NewLogger builds a JSON zap.Logger at the given level. If sink is
// non-nil and names a path, logs are written to both stdout and a rotating
// file.
func NewLogger(level string, sink *FileSinkConfig) (*zap.Logger, error) {
    lvl := zapcore.InfoLevel
    switch strings.ToLower(level) {
    case "debug":
        lvl = zapcore.DebugLevel
    case "warn":
        lvl = zapcore.WarnLevel
    case "error":
        lvl = zapcore.ErrorLevel
    }

    encoderCfg := zap.NewProductionEncoderConfig()
    encoderCfg.TimeKey = "ts"
    encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
    encoder := zapcore.NewJSONEncoder(encoderCfg)

    cores := []zapcore.Core{
        zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(stdout)), lvl),
    }
    if sink != nil && sink.Path != "" {
        fileWriter := &lumberjack.Logger{
            Filename:   sink.Path,
            MaxSize:    sink.MaxSizeMB,
            MaxBackups: sink.MaxBackups,
            MaxAge:     sink.MaxAgeDays,
            Compress:   sink.Compress,
        }
        cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(fileWriter), lvl))
    }

    core := zapcore.NewTee(cores...)
    return zap.New(core, zap.AddCaller()), nil
}

// Convenience typed fields
func String(k, v string) zap.Field { return zap.String(k, v) }
func Int(k string, v int) zap.Field { return zap.Int(k, v) }
func Bool(k string, v bool) zap.Field { return zap.Bool(k, v) }
func Err(err error) zap.Field { return zap.Error(err) }
