// Package logger 提供统一的日志工具，底层使用 zap
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level 日志级别
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel 解析日志级别字符串
func ParseLevel(s string) Level {
	switch s {
	case "DEBUG", "debug":
		return DEBUG
	case "INFO", "info":
		return INFO
	case "WARN", "warn", "WARNING", "warning":
		return WARN
	case "ERROR", "error":
		return ERROR
	default:
		return INFO
	}
}

// Logger 日志记录器
//
// 控制台输出在 local/dev 环境下为文本格式，prod 环境为 JSON；文件输出总是 JSON。
type Logger struct {
	mu       sync.Mutex
	level    zap.AtomicLevel
	enabled  bool
	env      string
	console  bool
	out      io.Writer
	file     bool
	filePath string
	fileOut  *os.File
	ownsFile bool
	kv       []interface{}
	zl       *zap.Logger
}

// 全局默认 logger
var defaultLogger = New()

// New 创建 local 环境的 Logger 实例
func New() *Logger {
	l, _ := NewWithEnv("local")
	return l
}

// NewWithEnv 按环境创建 Logger，env 取值 local / dev / docker / prod
func NewWithEnv(env string) (*Logger, error) {
	switch env {
	case "", "local", "dev", "docker":
		env = "local"
	case "prod":
	default:
		return nil, fmt.Errorf("unknown environment %q for logger", env)
	}
	l := &Logger{
		level:   zap.NewAtomicLevelAt(zapcore.InfoLevel),
		enabled: true,
		env:     env,
		console: true,
		out:     os.Stdout,
	}
	l.rebuild()
	return l, nil
}

// Default 获取默认 logger
func Default() *Logger {
	return defaultLogger
}

// SetDefault 替换默认 logger
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// SetLevel 设置日志级别，通过 With 派生的子 logger 共享级别
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level.zapLevel())
}

// GetLevel 当前日志级别
func (l *Logger) GetLevel() Level {
	switch l.level.Level() {
	case zapcore.DebugLevel:
		return DEBUG
	case zapcore.WarnLevel:
		return WARN
	case zapcore.InfoLevel:
		return INFO
	default:
		return ERROR
	}
}

// SetEnabled 设置是否启用日志
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// SetConsole 设置是否输出到控制台
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.console = enabled
	l.rebuild()
}

// SetOutput 替换控制台输出目标
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
	l.rebuild()
}

// SetFile 设置是否输出到文件
func (l *Logger) SetFile(enabled bool, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// 关闭旧文件
	if l.fileOut != nil && l.ownsFile {
		l.fileOut.Close()
	}
	l.fileOut = nil

	l.file = enabled
	l.filePath = path

	if enabled && path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			l.rebuild()
			return fmt.Errorf("无法打开日志文件: %w", err)
		}
		l.fileOut = f
		l.ownsFile = true
	}

	l.rebuild()
	return nil
}

func consoleEncoder(env string) zapcore.Encoder {
	if env == "prod" {
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.ConsoleSeparator = " | "
	cfg.CallerKey = ""
	return zapcore.NewConsoleEncoder(cfg)
}

// rebuild 按当前输出配置重建 zap logger，调用方持有锁
func (l *Logger) rebuild() {
	var cores []zapcore.Core

	if l.console && l.out != nil {
		cores = append(cores, zapcore.NewCore(consoleEncoder(l.env), zapcore.AddSync(l.out), l.level))
	}
	if l.file && l.fileOut != nil {
		enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(l.fileOut), l.level))
	}

	var core zapcore.Core
	switch len(cores) {
	case 0:
		core = zapcore.NewNopCore()
	case 1:
		core = cores[0]
	default:
		core = zapcore.NewTee(cores...)
	}

	zl := zap.New(core, zap.AddStacktrace(zapcore.DPanicLevel))
	if len(l.kv) > 0 {
		zl = zl.Sugar().With(l.kv...).Desugar()
	}
	l.zl = zl
}

// With 返回携带固定字段的子 logger，参数为 key, value 交替
//
// 子 logger 继承当前的输出配置，不拥有日志文件。
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	child := &Logger{
		level:    l.level,
		enabled:  l.enabled,
		env:      l.env,
		console:  l.console,
		out:      l.out,
		file:     l.file,
		filePath: l.filePath,
		fileOut:  l.fileOut,
		kv:       append(append([]interface{}{}, l.kv...), keysAndValues...),
	}
	child.rebuild()
	return child
}

// Zap 返回底层 zap logger，日志关闭时返回 Nop
func (l *Logger) Zap() *zap.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled {
		return zap.NewNop()
	}
	return l.zl
}

// log 内部日志方法
func (l *Logger) log(level Level, format string, args ...interface{}) {
	l.mu.Lock()
	enabled, zl := l.enabled, l.zl
	l.mu.Unlock()

	lvl := level.zapLevel()
	if !enabled || !zl.Core().Enabled(lvl) {
		return
	}
	zl.Log(lvl, fmt.Sprintf(format, args...))
}

// Debug 输出 DEBUG 级别日志
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

// Info 输出 INFO 级别日志
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

// Warn 输出 WARN 级别日志
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

// Error 输出 ERROR 级别日志
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

// LogEvent 记录带分类的事件日志
func (l *Logger) LogEvent(category string, ok bool, elapsedMs float64, detail string) {
	status := "OK"
	if !ok {
		status = "NG"
	}

	if ok {
		l.Info("%-4s | %s | %6.1fms | %s", category, status, elapsedMs, detail)
	} else {
		l.Error("%-4s | %s | %6.1fms | %s", category, status, elapsedMs, detail)
	}
}

// Close 刷新缓冲并关闭日志文件
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_ = l.zl.Sync()
	if l.fileOut != nil && l.ownsFile {
		err := l.fileOut.Close()
		l.fileOut = nil
		l.rebuild()
		return err
	}
	return nil
}

// 包级别便捷函数
func Debug(format string, args ...interface{}) { defaultLogger.Debug(format, args...) }
func Info(format string, args ...interface{})  { defaultLogger.Info(format, args...) }
func Warn(format string, args ...interface{})  { defaultLogger.Warn(format, args...) }
func Error(format string, args ...interface{}) { defaultLogger.Error(format, args...) }
func LogEvent(category string, ok bool, elapsedMs float64, detail string) {
	defaultLogger.LogEvent(category, ok, elapsedMs, detail)
}
