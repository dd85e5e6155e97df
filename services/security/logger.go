package security

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/promptcraft/promptcraft-hybrid/internal/observability"
	"github.com/promptcraft/promptcraft-hybrid/models"
	"github.com/promptcraft/promptcraft-hybrid/repositories"
	"github.com/promptcraft/promptcraft-hybrid/services"
	"go.uber.org/zap"
)

// Monitor inspects processed events and returns any events they imply
type Monitor interface {
	Observe(event *models.SecurityEvent) []*models.SecurityEvent
}

// AlertEvaluator runs alert rules against a processed event
type AlertEvaluator interface {
	Evaluate(ctx context.Context, event *models.SecurityEvent) ([]*models.Alert, error)
}

// Broadcaster pushes processed events to live subscribers
type Broadcaster interface {
	Broadcast(event *models.SecurityEvent)
}

// Pipeline holds the optional stages run after an event is persisted
type Pipeline struct {
	Sink        observability.EventSink
	Monitor     Monitor
	Alerts      AlertEvaluator
	Broadcaster Broadcaster
}

// Config holds configuration for the SecurityLogger
type Config struct {
	BufferSize     int           // Size of the event buffer channel
	WorkerCount    int           // Number of concurrent workers
	ProcessTimeout time.Duration // Per-event persistence deadline
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:     10000,
		WorkerCount:    4,
		ProcessTimeout: 5 * time.Second,
	}
}

// SecurityLogger persists security events asynchronously through a bounded
// buffer drained by a fixed pool of workers.
type SecurityLogger struct {
	repo     repositories.SecurityEventRepository
	metrics  *observability.Metrics
	pipeline Pipeline
	logger   *zap.Logger
	cfg      Config

	eventChan chan *models.SecurityEvent
	quit      chan struct{}
	quitOnce  sync.Once
	wg        sync.WaitGroup

	// mu guards the lifecycle flags and the channel close
	mu      sync.RWMutex
	started bool
	stopped bool

	processed atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// NewSecurityLogger creates a new SecurityLogger instance
func NewSecurityLogger(repo repositories.SecurityEventRepository, metrics *observability.Metrics, pipeline Pipeline, logger *zap.Logger, cfg Config) *SecurityLogger {
	defaults := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = defaults.WorkerCount
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = defaults.ProcessTimeout
	}
	if pipeline.Sink == nil {
		pipeline.Sink = observability.NopEventSink{}
	}

	return &SecurityLogger{
		repo:      repo,
		metrics:   metrics,
		pipeline:  pipeline,
		logger:    logger,
		cfg:       cfg,
		eventChan: make(chan *models.SecurityEvent, cfg.BufferSize),
		quit:      make(chan struct{}),
	}
}

// Start starts the background workers
func (s *SecurityLogger) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("security logger already started")
	}
	if s.stopped {
		return fmt.Errorf("security logger cannot be restarted")
	}

	for i := 0; i < s.cfg.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started security logger",
		zap.Int("worker_count", s.cfg.WorkerCount),
		zap.Int("buffer_size", s.cfg.BufferSize))
	return nil
}

// Stop stops accepting events and waits for queued ones to be processed
func (s *SecurityLogger) Stop(timeout time.Duration) error {
	if !s.Running() {
		return fmt.Errorf("security logger not running")
	}

	// Release blocked senders first; they hold the read lock while waiting
	s.quitOnce.Do(func() { close(s.quit) })

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("security logger not running")
	}
	s.stopped = true
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping security logger", zap.Int("pending_events", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		s.logger.Info("security logger stopped gracefully",
			zap.Int64("processed", s.processed.Load()),
			zap.Int64("dropped", s.dropped.Load()))
	case <-time.After(timeout):
		err = fmt.Errorf("security logger stop timeout after %v", timeout)
	}

	if cerr := s.pipeline.Sink.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close security event sink: %w", cerr)
	}
	return err
}

// Running reports whether the logger accepts events
func (s *SecurityLogger) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started && !s.stopped
}

// LogEvent queues an event without blocking. When the buffer is full the
// event is dropped and ErrEventBufferFull returned.
func (s *SecurityLogger) LogEvent(event *models.SecurityEvent) error {
	if err := prepare(event); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started || s.stopped {
		return services.ErrLoggerNotRunning
	}

	select {
	case s.eventChan <- event:
		return nil
	default:
		s.dropped.Add(1)
		s.metrics.RecordDropped()
		s.logger.Warn("security event buffer full, dropping event",
			zap.String("event_type", string(event.EventType)),
			zap.String("severity", string(event.Severity)))
		return services.ErrEventBufferFull
	}
}

// LogEventBlocking queues an event, waiting for buffer space until ctx is done
func (s *SecurityLogger) LogEventBlocking(ctx context.Context, event *models.SecurityEvent) error {
	if err := prepare(event); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started || s.stopped {
		return services.ErrLoggerNotRunning
	}

	select {
	case s.eventChan <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return services.ErrLoggerNotRunning
	}
}

// prepare fills defaults and validates an event before it is queued
func prepare(event *models.SecurityEvent) error {
	if event == nil {
		return services.ErrInvalidEvent
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Severity == "" {
		event.Severity = event.EventType.DefaultSeverity()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Source == "" {
		event.Source = "api"
	}
	if err := event.Validate(); err != nil {
		return services.WrapValidation(err.Error(), services.ErrInvalidEvent)
	}
	return nil
}

// worker processes events from the channel
func (s *SecurityLogger) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("security worker started", zap.Int("worker_id", id))
	for event := range s.eventChan {
		s.process(event)
	}
	s.logger.Debug("security worker stopped", zap.Int("worker_id", id))
}

// process runs one event through the pipeline. Events derived by the monitor
// go through the same pipeline on this worker.
func (s *SecurityLogger) process(event *models.SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ProcessTimeout)
	defer cancel()

	RedactEvent(event)

	if err := s.repo.Insert(ctx, event); err != nil {
		s.failed.Add(1)
		s.metrics.RecordFailed()
		s.logger.Error("failed to persist security event",
			zap.Error(err),
			zap.String("event_id", event.ID.String()),
			zap.String("event_type", string(event.EventType)))
		return
	}
	s.processed.Add(1)
	s.metrics.RecordEvent(event)
	s.pipeline.Sink.Write(event)

	var derived []*models.SecurityEvent
	if s.pipeline.Monitor != nil {
		derived = s.pipeline.Monitor.Observe(event)
	}

	if s.pipeline.Alerts != nil {
		if _, err := s.pipeline.Alerts.Evaluate(ctx, event); err != nil {
			s.logger.Error("alert evaluation failed",
				zap.Error(err),
				zap.String("event_id", event.ID.String()))
		}
	}

	if s.pipeline.Broadcaster != nil {
		s.pipeline.Broadcaster.Broadcast(event)
	}

	for _, d := range derived {
		if err := prepare(d); err != nil {
			s.logger.Error("discarding invalid derived event", zap.Error(err))
			continue
		}
		s.process(d)
	}
}

// Stats represents security logger statistics
type Stats struct {
	BufferSize    int   `json:"buffer_size"`
	PendingEvents int   `json:"pending_events"`
	Processed     int64 `json:"processed"`
	Dropped       int64 `json:"dropped"`
	Failed        int64 `json:"failed"`
	WorkerCount   int   `json:"worker_count"`
	Started       bool  `json:"started"`
	Running       bool  `json:"running"`
}

// GetStats returns statistics about the security logger
func (s *SecurityLogger) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:    s.cfg.BufferSize,
		PendingEvents: len(s.eventChan),
		Processed:     s.processed.Load(),
		Dropped:       s.dropped.Load(),
		Failed:        s.failed.Load(),
		WorkerCount:   s.cfg.WorkerCount,
		Started:       s.started,
		Running:       s.started && !s.stopped,
	}
}
