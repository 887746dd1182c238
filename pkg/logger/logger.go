package logger

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOption 日志初始化选项，由 config.LogConfig 转换而来
type LogOption struct {
	Format   string // "console" 或 "json"
	LogDir   string // 日志目录，为空时仅输出到 stdout
	Level    string // debug / info / warn / error
	Compress bool   // 是否压缩旧日志文件
}

var sugar *zap.SugaredLogger = zap.NewNop().Sugar()

// Init 初始化全局日志器。未调用时所有日志为 no-op（便于测试）。
func Init(opt LogOption) error {
	level := zapcore.InfoLevel
	switch strings.ToLower(opt.Level) {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if opt.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	syncers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if opt.LogDir != "" {
		if err := os.MkdirAll(opt.LogDir, 0o755); err != nil {
			return err
		}
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(opt.LogDir, "monitor.log"),
			MaxSize:    256, // MB
			MaxBackups: 10,
			MaxAge:     7, // days
			Compress:   opt.Compress,
		}
		syncers = append(syncers, zapcore.AddSync(rotator))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(syncers...), level)
	sugar = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
	return nil
}

func Sync() { _ = sugar.Sync() }

func Debugf(format string, args ...any) { sugar.Debugf(format, args...) }
func Infof(format string, args ...any)  { sugar.Infof(format, args...) }
func Warnf(format string, args ...any)  { sugar.Warnf(format, args...) }
func Errorf(format string, args ...any) { sugar.Errorf(format, args...) }

func Info(args ...any)  { sugar.Info(args...) }
func Error(args ...any) { sugar.Error(args...) }
