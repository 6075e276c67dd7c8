// internal/utils/logger.go
package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"comlink-service/internal/config"
)

// LoggerManager manages application logging
type LoggerManager struct {
	logger *zap.Logger
	config *config.LoggingConfig
}

// NewLogger creates a new logger instance based on configuration
func NewLogger(cfg *config.LoggingConfig) (*zap.Logger, error) {
	manager := &LoggerManager{
		config: cfg,
	}

	logger, err := manager.createLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	manager.logger = logger
	return logger, nil
}

// createLogger creates the zap logger with proper configuration
func (lm *LoggerManager) createLogger() (*zap.Logger, error) {
	// Create encoder configuration
	encoderConfig := lm.getEncoderConfig()

	// Create encoder
	var encoder zapcore.Encoder
	switch lm.config.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	// Create write syncer
	writeSyncer, err := lm.getWriteSyncer()
	if err != nil {
		return nil, fmt.Errorf("failed to create write syncer: %w", err)
	}

	// Get log level
	level, err := lm.getLogLevel()
	if err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}

	// Create core
	core := zapcore.NewCore(encoder, writeSyncer, level)

	// Create logger with options
	logger := zap.New(core, lm.getLoggerOptions()...)

	return logger, nil
}

// getEncoderConfig returns encoder configuration based on format
func (lm *LoggerManager) getEncoderConfig() zapcore.EncoderConfig {
	config := zap.NewProductionEncoderConfig()

	// Customize time format
	config.TimeKey = "timestamp"
	config.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)

	// Customize level format
	config.LevelKey = "level"
	config.EncodeLevel = zapcore.LowercaseLevelEncoder

	// Customize caller format
	config.CallerKey = "caller"
	config.EncodeCaller = zapcore.ShortCallerEncoder

	// Message key
	config.MessageKey = "message"

	// Stack trace key
	config.StacktraceKey = "stacktrace"

	// Console format customizations
	if lm.config.Format == "console" {
		config.EncodeLevel = zapcore.CapitalColorLevelEncoder
		config.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	}

	return config
}

// getWriteSyncer returns write syncer based on output configuration
func (lm *LoggerManager) getWriteSyncer() (zapcore.WriteSyncer, error) {
	switch lm.config.Output {
	case "stdout":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	default:
		// File output with rotation
		if lm.config.Output == "" {
			lm.config.Output = "./logs/comlink-service.log"
		}

		// Ensure log directory exists
		logDir := filepath.Dir(lm.config.Output)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		// Create lumberjack logger for rotation
		lumber := &lumberjack.Logger{
			Filename:   lm.config.Output,
			MaxSize:    lm.config.MaxSize, // MB
			MaxBackups: lm.config.MaxBackups,
			MaxAge:     lm.config.MaxAge, // days
			Compress:   lm.config.Compress,
		}

		return zapcore.AddSync(lumber), nil
	}
}

// getLogLevel parses and returns log level
func (lm *LoggerManager) getLogLevel() (zapcore.Level, error) {
	switch lm.config.Level {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s", lm.config.Level)
	}
}

// getLoggerOptions returns logger options
func (lm *LoggerManager) getLoggerOptions() []zap.Option {
	options := []zap.Option{
		zap.AddCaller(),
		zap.AddCallerSkip(1),
	}

	// Add stack trace for error level and above
	options = append(options, zap.AddStacktrace(zapcore.ErrorLevel))

	return options
}

// LinkLogger wraps zap.Logger with connection lifecycle helpers
type LinkLogger struct {
	*zap.Logger
}

// NewLinkLogger creates a logger for the connection manager
func NewLinkLogger(baseLogger *zap.Logger) *LinkLogger {
	return &LinkLogger{
		Logger: baseLogger.With(zap.String("component", "connection-manager")),
	}
}

// LogTransition logs a state change
func (ll *LinkLogger) LogTransition(from, to, port string) {
	ll.Debug("Link state changed",
		zap.String("from", from),
		zap.String("to", to),
		zap.String("port", port),
	)
}

// LogOpen logs an open attempt on a candidate port
func (ll *LinkLogger) LogOpen(port, usbID string, err error) {
	if err != nil {
		ll.Warn("Failed to open candidate port",
			zap.String("port", port),
			zap.String("usb_id", usbID),
			zap.Error(err),
		)
		return
	}
	ll.Debug("Candidate port opened",
		zap.String("port", port),
		zap.String("usb_id", usbID),
	)
}

// LogIdentification logs the outcome of a handshake
func (ll *LinkLogger) LogIdentification(port string, duration time.Duration, err error) {
	if err != nil {
		ll.Info("Device identification failed",
			zap.String("port", port),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return
	}
	ll.Info("Device identified",
		zap.String("port", port),
		zap.Duration("duration", duration),
	)
}

// LogPortChange logs a port monitor notification as seen by the manager
func (ll *LinkLogger) LogPortChange(change, port, state string) {
	ll.Debug("Port change received",
		zap.String("change", change),
		zap.String("port", port),
		zap.String("state", state),
	)
}

// ServiceLogger provides service-level logging functionality
type ServiceLogger struct {
	*zap.Logger
	serviceName string
}

// NewServiceLogger creates a service-specific logger
func NewServiceLogger(baseLogger *zap.Logger, serviceName string) *ServiceLogger {
	logger := baseLogger.With(
		zap.String("service", serviceName),
		zap.String("component", "service"),
	)

	return &ServiceLogger{
		Logger:      logger,
		serviceName: serviceName,
	}
}

// LogServiceStart logs service startup
func (sl *ServiceLogger) LogServiceStart(version string, config interface{}) {
	sl.Info("Service starting",
		zap.String("version", version),
		zap.Any("config", config),
	)
}

// LogServiceStop logs service shutdown
func (sl *ServiceLogger) LogServiceStop(reason string) {
	sl.Info("Service stopping",
		zap.String("reason", reason),
	)
}

// LogAPIRequest logs HTTP API requests
func (sl *ServiceLogger) LogAPIRequest(method, path, userAgent, clientIP string, statusCode int, duration time.Duration) {
	level := zapcore.InfoLevel
	if statusCode >= 400 {
		level = zapcore.WarnLevel
	}
	if statusCode >= 500 {
		level = zapcore.ErrorLevel
	}

	if ce := sl.Check(level, "API request"); ce != nil {
		ce.Write(
			zap.String("method", method),
			zap.String("path", path),
			zap.String("user_agent", userAgent),
			zap.String("client_ip", clientIP),
			zap.Int("status_code", statusCode),
			zap.Duration("duration", duration),
		)
	}
}

// LogDatabaseQuery logs database queries (for debugging)
func (sl *ServiceLogger) LogDatabaseQuery(query string, args []interface{}, duration time.Duration, err error) {
	fields := []zap.Field{
		zap.String("query", query),
		zap.Any("args", args),
		zap.Duration("duration", duration),
	}

	if err != nil {
		fields = append(fields, zap.Error(err))
		sl.Error("Database query failed", fields...)
	} else {
		sl.Debug("Database query executed", fields...)
	}
}

// Helper functions for common logging patterns

// LoggerWithRequestID adds request ID to logger
func LoggerWithRequestID(logger *zap.Logger, requestID string) *zap.Logger {
	return logger.With(zap.String("request_id", requestID))
}

// LogError is a helper function for consistent error logging
func LogError(logger *zap.Logger, message string, err error, fields ...zap.Field) {
	allFields := append([]zap.Field{zap.Error(err)}, fields...)
	logger.Error(message, allFields...)
}

// LogPanic logs and recovers from panics
func LogPanic(logger *zap.Logger) {
	if r := recover(); r != nil {
		logger.Fatal("Application panic",
			zap.Any("panic", r),
			zap.Stack("stacktrace"),
		)
	}
}
func CloseLogger(logger *zap.Logger) error {
	return logger.Sync()
}
