package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Logger *zap.Logger
	mu     sync.Mutex
)

// InitLogger 初始化日志系统，环境变量ENV和LOG_LEVEL优先于参数
func InitLogger(level, env string) error {
	if v := os.Getenv("ENV"); v != "" {
		env = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level = v
	}

	config := zap.NewProductionConfig()
	if env == "development" {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	// 命令行工具的日志不污染stdout
	config.OutputPaths = []string{"stderr"}

	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(lvl)

	built, err := config.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	Logger = built
	mu.Unlock()
	zap.ReplaceGlobals(built)
	return nil
}

// GetLogger 获取Logger实例
func GetLogger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if Logger == nil {
		// 未初始化时不输出，测试和库调用保持安静
		Logger = zap.NewNop()
	}
	return Logger
}

// Named 获取组件子Logger
func Named(component string) *zap.Logger {
	return GetLogger().Named(component)
}

// Sync 同步日志缓冲区
func Sync() {
	if l := GetLogger(); l != nil {
		_ = l.Sync()
	}
}

// Info 记录Info级别日志
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

// Error 记录Error级别日志
func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

// Debug 记录Debug级别日志
func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

// Warn 记录Warn级别日志
func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}
