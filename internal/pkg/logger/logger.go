package logger

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with fraud-detection specific functionality
type Logger struct {
	*zap.Logger
	serviceName string
}

// New creates a new logger instance
func New(serviceName, environment string, debug bool) (*Logger, error) {
	var config zap.Config

	if environment == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if debug {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	// Add service metadata
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
		"env":     environment,
		"pid":     os.Getpid(),
	}

	zapLogger, err := config.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	)
	if err != nil {
		return nil, err
	}

	return &Logger{
		Logger:      zapLogger,
		serviceName: serviceName,
	}, nil
}

// NewNop returns a no-op logger for tests
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop(), serviceName: "test"}
}

// Named returns a named sub-logger
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		Logger:      l.Logger.Named(name),
		serviceName: l.serviceName,
	}
}

// WithTransaction returns a logger with transaction context
func (l *Logger) WithTransaction(txID, customerID string) *Logger {
	return &Logger{
		Logger: l.With(
			zap.String("transaction_id", txID),
			zap.String("customer_id", customerID),
		),
		serviceName: l.serviceName,
	}
}

// EvaluationStarted logs the start of an orchestrated evaluation
func (l *Logger) EvaluationStarted(txID, customerID string) {
	l.Info("evaluation started",
		zap.String("transaction_id", txID),
		zap.String("customer_id", customerID),
	)
}

// EvaluationCompleted logs the completion of an orchestrated evaluation
func (l *Logger) EvaluationCompleted(txID string, action string, score float64, durationMs int64) {
	l.Info("evaluation completed",
		zap.String("transaction_id", txID),
		zap.String("recommended_action", action),
		zap.Float64("risk_score", score),
		zap.Int64("duration_ms", durationMs),
	)
}

// EvaluatorFailed logs an evaluator execution failure
func (l *Logger) EvaluatorFailed(evaluator, txID string, err error) {
	l.Warn("evaluator failed",
		zap.String("evaluator", evaluator),
		zap.String("transaction_id", txID),
		zap.Error(err),
	)
}

// CriticalRiskDetected logs a short-circuit trigger
func (l *Logger) CriticalRiskDetected(evaluator, txID string, score float64) {
	l.Warn("critical risk detected",
		zap.String("evaluator", evaluator),
		zap.String("transaction_id", txID),
		zap.Float64("score", score),
	)
}

// DeviceSharingDetected logs a cross-account device match
func (l *Logger) DeviceSharingDetected(fingerprint, customerID, ownerID string) {
	l.Warn("device sharing detected",
		zap.String("fingerprint", fingerprint),
		zap.String("customer_id", customerID),
		zap.String("registered_customer_id", ownerID),
	)
}

// AlertPublished logs a published fraud alert
func (l *Logger) AlertPublished(txID string, action string, partition int32, offset int64) {
	l.Info("fraud alert published",
		zap.String("transaction_id", txID),
		zap.String("recommended_action", action),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
}

// LatencyWarning logs when an evaluation exceeds the latency budget
func (l *Logger) LatencyWarning(stage string, durationMs, thresholdMs int64) {
	l.Warn("latency threshold exceeded",
		zap.String("stage", stage),
		zap.Int64("duration_ms", durationMs),
		zap.Int64("threshold_ms", thresholdMs),
	)
}

// Helper field functions

// ErrorField creates an error field
func ErrorField(err error) zap.Field {
	return zap.Error(err)
}

// DurationField creates a duration field
func DurationField(name string, d time.Duration) zap.Field {
	return zap.Duration(name, d)
}

// StringField creates a string field
func StringField(key, value string) zap.Field {
	return zap.String(key, value)
}

// IntField creates an int field
func IntField(key string, value int) zap.Field {
	return zap.Int(key, value)
}

// Float64Field creates a float64 field
func Float64Field(key string, value float64) zap.Field {
	return zap.Float64(key, value)
}
