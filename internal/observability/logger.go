package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/promptcraft/promptcraft-hybrid/config"
	"github.com/promptcraft/promptcraft-hybrid/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the application logger from observability settings
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.LogLevel, err)
	}

	var zapCfg zap.Config
	if cfg.LogFormat == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
		zapCfg.EncoderConfig.TimeKey = "timestamp"
		zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// EventSink writes one JSON line per security event
type EventSink interface {
	Write(event *models.SecurityEvent)
	Close() error
}

// FileEventSink appends security events to a rotating log file
type FileEventSink struct {
	logger *zap.Logger
	closer io.Closer
}

// NewFileEventSink opens a rotating security event log. An empty path returns a no-op sink.
func NewFileEventSink(cfg config.ObservabilityConfig) EventSink {
	if cfg.SecurityLogFile == "" {
		return NopEventSink{}
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.SecurityLogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		Compress:   cfg.LogCompress,
	}
	return newEventSink(zapcore.AddSync(rotator), rotator)
}

func newEventSink(ws zapcore.WriteSyncer, closer io.Closer) *FileEventSink {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "logged_at",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), ws, zapcore.InfoLevel)
	return &FileEventSink{logger: zap.New(core), closer: closer}
}

// Write records the event
func (s *FileEventSink) Write(event *models.SecurityEvent) {
	s.logger.Info("security_event",
		zap.String("id", event.ID.String()),
		zap.String("event_type", string(event.EventType)),
		zap.String("severity", string(event.Severity)),
		zap.String("user_id", event.UserID),
		zap.String("ip_address", event.IPAddress),
		zap.String("user_agent", event.UserAgent),
		zap.String("session_id", event.SessionID),
		zap.String("source", event.Source),
		zap.String("event_message", event.Message),
		zap.Int("risk_score", event.RiskScore),
		zap.Time("timestamp", event.Timestamp),
		zap.Any("details", event.Details),
	)
}

// Close flushes and closes the underlying file
func (s *FileEventSink) Close() error {
	_ = s.logger.Sync()
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// NopEventSink discards events
type NopEventSink struct{}

// Write implements EventSink
func (NopEventSink) Write(*models.SecurityEvent) {}

// Close implements EventSink
func (NopEventSink) Close() error { return nil }
