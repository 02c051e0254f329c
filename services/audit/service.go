package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/upb/request-shield/models"
	"github.com/upb/request-shield/repositories"
	"go.uber.org/zap"
)

// Sink persists a batch of security events
type Sink interface {
	Write(ctx context.Context, events []*models.SecurityEvent) error
}

// RepositorySink writes events to the security_events table
type RepositorySink struct {
	repo repositories.SecurityEventRepository
}

// NewRepositorySink creates a sink backed by a SecurityEventRepository
func NewRepositorySink(repo repositories.SecurityEventRepository) *RepositorySink {
	return &RepositorySink{repo: repo}
}

// Write implements Sink
func (s *RepositorySink) Write(ctx context.Context, events []*models.SecurityEvent) error {
	return s.repo.InsertBatch(ctx, events)
}

// LoggerSink writes events as structured log lines. Used when no database is configured.
type LoggerSink struct {
	logger *zap.Logger
}

// NewLoggerSink creates a sink that logs to logger
func NewLoggerSink(logger *zap.Logger) *LoggerSink {
	return &LoggerSink{logger: logger.Named("security_audit")}
}

// Write implements Sink
func (s *LoggerSink) Write(_ context.Context, events []*models.SecurityEvent) error {
	for _, e := range events {
		fields := []zap.Field{
			zap.String("event_id", e.ID.String()),
			zap.String("kind", string(e.Kind)),
			zap.String("request_id", e.RequestID),
			zap.String("client_ip", e.ClientIP),
			zap.String("path", e.Path),
			zap.String("reason", e.Reason),
			zap.Time("timestamp", e.Timestamp),
		}
		if e.RouteClass != "" {
			fields = append(fields, zap.String("route_class", string(e.RouteClass)))
		}
		if e.Stage != "" {
			fields = append(fields, zap.String("stage", e.Stage))
		}
		if e.StatusCode != 0 {
			fields = append(fields, zap.Int("status", e.StatusCode))
		}
		if e.SubjectID != nil {
			fields = append(fields, zap.String("subject_id", *e.SubjectID))
		}
		if e.TenantID != nil {
			fields = append(fields, zap.String("tenant_id", *e.TenantID))
		}
		if e.PolicyID != nil {
			fields = append(fields, zap.String("policy_id", *e.PolicyID))
		}
		if len(e.Details) > 0 {
			fields = append(fields, zap.Any("details", e.Details))
		}
		s.logger.Info("security event", fields...)
	}
	return nil
}

// AuditService records security events asynchronously. Recording never
// blocks the request path: when the buffer is full the event is dropped.
type AuditService struct {
	sink          Sink
	logger        *zap.Logger
	eventChan     chan *models.SecurityEvent
	workerCount   int
	bufferSize    int
	batchSize     int
	flushInterval time.Duration
	wg            sync.WaitGroup
	started       bool
	stopped       bool
	dropped       int64
	mu            sync.Mutex
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize    int           // Size of the event buffer channel
	WorkerCount   int           // Number of concurrent workers
	BatchSize     int           // Events written per sink call
	FlushInterval time.Duration // Max time an event waits in a partial batch
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:    1024,
		WorkerCount:   2,
		BatchSize:     50,
		FlushInterval: time.Second,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(sink Sink, logger *zap.Logger, config Config) *AuditService {
	def := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = def.BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = def.WorkerCount
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = def.FlushInterval
	}

	return &AuditService{
		sink:          sink,
		logger:        logger,
		eventChan:     make(chan *models.SecurityEvent, config.BufferSize),
		workerCount:   config.WorkerCount,
		bufferSize:    config.BufferSize,
		batchSize:     config.BatchSize,
		flushInterval: config.FlushInterval,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop stops accepting events and waits for pending ones to be written
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not running")
	}
	s.stopped = true
	// Closing under the lock orders it after any in-flight Record send.
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// Record queues an event. It returns false when the event was dropped.
func (s *AuditService) Record(event *models.SecurityEvent) bool {
	if s == nil || event == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		return false
	}

	select {
	case s.eventChan <- event:
		return true
	default:
		s.dropped++
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("kind", string(event.Kind)),
			zap.String("request_id", event.RequestID))
		return false
	}
}

func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	batch := make([]*models.SecurityEvent, 0, s.batchSize)
	for {
		select {
		case event, ok := <-s.eventChan:
			if !ok {
				s.flush(id, batch)
				s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
				return
			}
			batch = append(batch, event)
			if len(batch) >= s.batchSize {
				s.flush(id, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(id, batch)
				batch = batch[:0]
			}
		}
	}
}

func (s *AuditService) flush(workerID int, batch []*models.SecurityEvent) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// the sink may keep the slice; hand it a copy
	events := make([]*models.SecurityEvent, len(batch))
	copy(events, batch)

	if err := s.sink.Write(ctx, events); err != nil {
		s.logger.Error("failed to write security events",
			zap.Int("worker_id", workerID),
			zap.Int("count", len(events)),
			zap.Error(err))
	}
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Dropped:       s.dropped,
		Started:       s.started && !s.stopped,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Dropped       int64
	Started       bool
}

// Convenience methods for the events the pipeline and handlers emit

// RequestInfo identifies the request an event belongs to
type RequestInfo struct {
	RequestID  string
	ClientIP   string
	Path       string
	RouteClass models.RouteClass
}

// LogRejection records a pipeline guard rejection
func (s *AuditService) LogRejection(info RequestInfo, sc models.SecurityContext, stage string, status int, reason string) bool {
	e := models.NewSecurityEvent(models.SecurityEventRequestRejected, reason).WithSubject(sc)
	applyRequest(e, info)
	e.Stage = stage
	e.StatusCode = status
	return s.Record(e)
}

// LogAuthorization records an ABAC decision on action over resource
func (s *AuditService) LogAuthorization(info RequestInfo, sc models.SecurityContext, action, resource string, allowed bool, reason, policyID string) bool {
	kind := models.SecurityEventAuthzDenied
	if allowed {
		kind = models.SecurityEventAuthzAllowed
	}
	e := models.NewSecurityEvent(kind, reason).WithSubject(sc)
	applyRequest(e, info)
	if policyID != "" {
		e.PolicyID = &policyID
	}
	e.Details = mustJSON(map[string]string{"action": action, "resource": resource})
	return s.Record(e)
}

// LogEgressBlocked records an outbound request refused by the egress guard
func (s *AuditService) LogEgressBlocked(info RequestInfo, sc models.SecurityContext, target, reason string) bool {
	e := models.NewSecurityEvent(models.SecurityEventEgressBlocked, reason).WithSubject(sc)
	applyRequest(e, info)
	e.Details = mustJSON(map[string]string{"target": target})
	return s.Record(e)
}

func applyRequest(e *models.SecurityEvent, info RequestInfo) {
	e.RequestID = info.RequestID
	e.ClientIP = info.ClientIP
	e.Path = info.Path
	e.RouteClass = info.RouteClass
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
