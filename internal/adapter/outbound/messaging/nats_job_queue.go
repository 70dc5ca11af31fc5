package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"quizgen/internal/application/common/slogger"
	"quizgen/internal/config"
	"quizgen/internal/port/outbound"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	// NATS connection timeout.
	natsConnectionTimeoutSeconds = 5

	// GenerationStreamName is the JetStream stream backing the job queue.
	GenerationStreamName = "GENERATION_JOBS"

	// GenerationJobSubject carries enqueued job ids.
	GenerationJobSubject = "jobs.generation"

	// ProgressSubjectPrefix is the core NATS subject prefix for progress
	// broadcasts; the job id is appended per event.
	ProgressSubjectPrefix = "jobs.progress."

	// streamMaxAgeHours bounds how long unconsumed jobs sit in the stream.
	streamMaxAgeHours = 24
)

// QueueMetrics tracks enqueue outcomes.
type QueueMetrics struct {
	EnqueuedCount   int64     `json:"enqueued_count"`
	FailedCount     int64     `json:"failed_count"`
	LastEnqueueTime time.Time `json:"last_enqueue_time"`
}

// connectFunc dials a NATS server. Swappable in tests.
type connectFunc func(url string, options ...nats.Option) (*nats.Conn, error)

// NATSJobQueue is the JetStream implementation of the JobQueue port. Job
// enqueue goes through JetStream for at-least-once delivery; progress events
// go through core NATS because they are best-effort broadcasts.
type NATSJobQueue struct {
	config config.NATSConfig
	dial   connectFunc
	conn   *nats.Conn
	js     nats.JetStreamContext

	mutex          sync.RWMutex
	connected      bool
	reconnectCount int
	lastError      error
	lastCheck      time.Time
	metrics        QueueMetrics
}

// NewNATSJobQueue validates the configuration and returns an unconnected
// queue. Call Connect before use.
func NewNATSJobQueue(cfg config.NATSConfig) (*NATSJobQueue, error) {
	if cfg.URL == "" {
		return nil, errors.New("NATS URL cannot be empty")
	}
	if !strings.HasPrefix(cfg.URL, "nats://") {
		return nil, errors.New("invalid NATS URL scheme")
	}
	if cfg.MaxReconnects < 0 {
		return nil, errors.New("max reconnects cannot be negative")
	}
	if cfg.ReconnectWait < 0 {
		return nil, errors.New("reconnect wait cannot be negative")
	}
	return &NATSJobQueue{config: cfg, dial: nats.Connect}, nil
}

// Connect establishes the NATS connection and ensures the generation stream
// exists. A connect failure is reported but leaves the queue usable: callers
// see Available() == false and fall back to inline execution, and Available
// redials once per recheck interval until the broker comes back.
func (q *NATSJobQueue) Connect() error {
	opts := []nats.Option{
		nats.MaxReconnects(q.config.MaxReconnects),
		nats.ReconnectWait(q.config.ReconnectWait),
		nats.Timeout(natsConnectionTimeoutSeconds * time.Second),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			q.mutex.Lock()
			q.reconnectCount++
			q.connected = true
			q.lastError = nil
			q.mutex.Unlock()
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			q.mutex.Lock()
			q.connected = false
			q.lastError = err
			q.mutex.Unlock()
		}),
		nats.ClosedHandler(func(conn *nats.Conn) {
			// The client gave up reconnecting; Available redials later.
			q.mutex.Lock()
			q.connected = false
			q.lastError = conn.LastError()
			q.mutex.Unlock()
		}),
	}

	conn, err := q.dial(q.config.URL, opts...)
	if err != nil {
		q.setConnectionState(false, err)
		return fmt.Errorf("%w: %w", outbound.ErrBrokerUnavailable, err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		q.setConnectionState(false, err)
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	q.mutex.Lock()
	if q.conn != nil {
		q.conn.Close()
	}
	q.conn = conn
	q.js = js
	q.mutex.Unlock()
	q.setConnectionState(true, nil)

	return q.ensureStream()
}

// ensureStream creates the generation stream if it does not exist.
func (q *NATSJobQueue) ensureStream() error {
	q.mutex.RLock()
	js := q.js
	q.mutex.RUnlock()
	if js == nil {
		return outbound.ErrBrokerUnavailable
	}

	_, err := js.StreamInfo(GenerationStreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to check stream: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      GenerationStreamName,
		Subjects:  []string{GenerationJobSubject},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
		MaxAge:    streamMaxAgeHours * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// EnqueueJob places a job id on the generation queue. An unreachable broker
// maps to ErrBrokerUnavailable so the caller can run the job inline instead.
func (q *NATSJobQueue) EnqueueJob(ctx context.Context, jobID uuid.UUID) error {
	if jobID == uuid.Nil {
		return errors.New("job ID cannot be nil")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !q.Available(ctx) {
		q.recordEnqueue(false)
		return outbound.ErrBrokerUnavailable
	}

	q.mutex.RLock()
	js := q.js
	q.mutex.RUnlock()
	if js == nil {
		q.recordEnqueue(false)
		return outbound.ErrBrokerUnavailable
	}

	data, err := json.Marshal(outbound.JobMessage{
		JobID:     jobID,
		MessageID: uuid.New().String(),
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}

	if _, err := js.Publish(GenerationJobSubject, data, nats.Context(ctx)); err != nil {
		q.recordEnqueue(false)
		if isConnectivityError(err) {
			return fmt.Errorf("%w: %w", outbound.ErrBrokerUnavailable, err)
		}
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.recordEnqueue(true)
	return nil
}

// PublishProgress broadcasts a progress event over core NATS. Delivery is
// best-effort: failures are logged, never returned.
func (q *NATSJobQueue) PublishProgress(ctx context.Context, event outbound.ProgressEvent) error {
	if event.JobID == uuid.Nil {
		return errors.New("progress event requires a job ID")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}

	q.mutex.RLock()
	conn := q.conn
	q.mutex.RUnlock()

	if conn == nil || !conn.IsConnected() {
		slogger.Debug(ctx, "Skipping progress broadcast, broker unreachable", slogger.Fields{
			"job_id": event.JobID.String(),
		})
		return nil
	}

	if err := conn.Publish(ProgressSubjectPrefix+event.JobID.String(), data); err != nil {
		slogger.Warn(ctx, "Failed to broadcast progress event", slogger.Fields{
			"job_id": event.JobID.String(),
			"error":  err.Error(),
		})
	}
	return nil
}

// Available reports broker reachability. The result is cached for the
// configured recheck interval so hot paths do not ping on every call. When
// the connection is nil (initial dial failed) or closed (an outage outlived
// the client's reconnect budget) a fresh dial is attempted once per interval,
// so a returning broker heals the queue without a restart.
func (q *NATSJobQueue) Available(ctx context.Context) bool {
	q.mutex.Lock()
	interval := q.config.RecheckInterval
	if interval <= 0 {
		interval = time.Minute
	}
	if time.Since(q.lastCheck) < interval {
		connected := q.connected
		q.mutex.Unlock()
		return connected
	}
	q.lastCheck = time.Now()
	conn := q.conn
	q.mutex.Unlock()

	if conn == nil || conn.IsClosed() {
		if err := q.Connect(); err != nil {
			slogger.Debug(ctx, "Broker redial failed", slogger.Fields{
				"error": err.Error(),
			})
			return false
		}
		slogger.Info(ctx, "Broker connection restored", slogger.Fields{
			"url": q.config.URL,
		})
		return true
	}

	q.mutex.Lock()
	q.connected = conn.IsConnected()
	connected := q.connected
	q.mutex.Unlock()
	return connected
}

// Conn exposes the underlying connection for the consumer side.
func (q *NATSJobQueue) Conn() *nats.Conn {
	q.mutex.RLock()
	defer q.mutex.RUnlock()
	return q.conn
}

// JetStream exposes the JetStream context for the consumer side.
func (q *NATSJobQueue) JetStream() nats.JetStreamContext {
	q.mutex.RLock()
	defer q.mutex.RUnlock()
	return q.js
}

// Metrics returns a snapshot of enqueue metrics.
func (q *NATSJobQueue) Metrics() QueueMetrics {
	q.mutex.RLock()
	defer q.mutex.RUnlock()
	return q.metrics
}

// Close drains and closes the connection.
func (q *NATSJobQueue) Close() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.conn != nil {
		q.conn.Close()
		q.conn = nil
		q.js = nil
	}
	q.connected = false
}

func (q *NATSJobQueue) setConnectionState(connected bool, err error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.connected = connected
	q.lastError = err
	q.lastCheck = time.Now()
}

func (q *NATSJobQueue) recordEnqueue(ok bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if ok {
		q.metrics.EnqueuedCount++
		q.metrics.LastEnqueueTime = time.Now()
	} else {
		q.metrics.FailedCount++
	}
}

// isConnectivityError classifies NATS errors that mean the broker itself is
// unreachable rather than the message being bad.
func isConnectivityError(err error) bool {
	if errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrNoResponders) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host")
}
