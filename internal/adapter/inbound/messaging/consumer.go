package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"quizgen/internal/adapter/outbound/messaging"
	"quizgen/internal/application/common/slogger"
	"quizgen/internal/port/inbound"
	"quizgen/internal/port/outbound"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	// defaultFetchBatch is how many messages one fetch pulls at most.
	defaultFetchBatch = 1

	// defaultFetchWait bounds how long a fetch blocks when the queue is
	// empty, so Stop is observed promptly.
	defaultFetchWait = 5 * time.Second
)

// ConsumerConfig holds configuration for the generation job consumer.
type ConsumerConfig struct {
	Subject     string
	QueueGroup  string
	DurableName string
	AckWait     time.Duration
	MaxDeliver  int
	Concurrency int
}

// ConsumerStats tracks message processing statistics.
type ConsumerStats struct {
	ProcessedCount int64         `json:"processed_count"`
	FailedCount    int64         `json:"failed_count"`
	AverageLatency time.Duration `json:"average_latency"`
	ActiveSince    time.Time     `json:"active_since"`
}

// NATSJobConsumer pulls job messages off the generation stream and hands each
// one to the job processor. Each configured worker slot runs its own fetch
// loop inside the shared queue group, so a job is delivered to exactly one
// slot across all worker processes.
type NATSJobConsumer struct {
	config       ConsumerConfig
	queue        *messaging.NATSJobQueue
	jobProcessor inbound.JobProcessor

	mu         sync.RWMutex
	running    bool
	activeJobs int
	lastError  string
	stats      ConsumerStats

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNATSJobConsumer creates a consumer bound to an already-connected queue.
func NewNATSJobConsumer(
	config ConsumerConfig,
	queue *messaging.NATSJobQueue,
	processor inbound.JobProcessor,
) (*NATSJobConsumer, error) {
	if err := validateConsumerConfig(config); err != nil {
		return nil, fmt.Errorf("invalid consumer configuration: %w", err)
	}
	if queue == nil {
		return nil, errors.New("queue cannot be nil")
	}
	if processor == nil {
		return nil, errors.New("job processor cannot be nil")
	}

	return &NATSJobConsumer{
		config:       config,
		queue:        queue,
		jobProcessor: processor,
		stats:        ConsumerStats{ActiveSince: time.Now()},
	}, nil
}

func validateConsumerConfig(config ConsumerConfig) error {
	if config.Subject == "" {
		return errors.New("subject cannot be empty")
	}
	if config.QueueGroup == "" {
		return errors.New("queue group cannot be empty")
	}
	if config.DurableName == "" {
		return errors.New("durable name cannot be empty")
	}
	if config.AckWait <= 0 {
		return errors.New("ack wait duration must be positive")
	}
	if config.MaxDeliver <= 0 {
		return errors.New("max deliver count must be positive")
	}
	if config.Concurrency <= 0 {
		return errors.New("concurrency must be positive")
	}
	return nil
}

// Start subscribes to the generation subject and launches the fetch loops.
func (c *NATSJobConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("consumer already running for subject %s", c.config.Subject)
	}

	js := c.queue.JetStream()
	if js == nil {
		return outbound.ErrBrokerUnavailable
	}

	sub, err := js.PullSubscribe(
		c.config.Subject,
		c.config.DurableName,
		nats.AckWait(c.config.AckWait),
		nats.MaxDeliver(c.config.MaxDeliver),
		nats.ManualAck(),
		nats.BindStream(messaging.GenerationStreamName),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.config.Subject, err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.running = true
	c.stats.ActiveSince = time.Now()

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.fetchLoop(loopCtx, sub)
	}

	slogger.Info(ctx, "Job consumer started", slogger.Fields{
		"subject":     c.config.Subject,
		"queue_group": c.config.QueueGroup,
		"concurrency": c.config.Concurrency,
	})
	return nil
}

// Stop cancels the fetch loops and waits for in-flight jobs to finish.
func (c *NATSJobConsumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("consumer shutdown interrupted: %w", ctx.Err())
	}
}

// Health reports consumer liveness.
func (c *NATSJobConsumer) Health() inbound.WorkerHealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return inbound.WorkerHealthStatus{
		Running:         c.running,
		BrokerReachable: c.queue.Available(context.Background()),
		ActiveJobs:      c.activeJobs,
		LastError:       c.lastError,
	}
}

// Stats returns a snapshot of processing statistics.
func (c *NATSJobConsumer) Stats() ConsumerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *NATSJobConsumer) fetchLoop(ctx context.Context, sub *nats.Subscription) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := sub.Fetch(defaultFetchBatch, nats.MaxWait(defaultFetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			c.recordError(err)
			slogger.Warn(ctx, "Fetch from generation queue failed", slogger.Fields{
				"error": err.Error(),
			})
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range msgs {
			c.handleMessage(ctx, msg)
		}
	}
}

// handleMessage decodes and processes one job message. Malformed messages are
// acked so they never redeliver; processing failures nak for retry up to the
// consumer's MaxDeliver.
func (c *NATSJobConsumer) handleMessage(ctx context.Context, msg *nats.Msg) {
	start := time.Now()

	var jobMsg outbound.JobMessage
	if err := json.Unmarshal(msg.Data, &jobMsg); err != nil {
		slogger.Error(ctx, "Discarding malformed job message", slogger.Fields{
			"error": err.Error(),
		})
		_ = msg.Ack()
		return
	}
	if jobMsg.JobID == uuid.Nil {
		slogger.Error(ctx, "Discarding job message without job id", nil)
		_ = msg.Ack()
		return
	}

	c.mu.Lock()
	c.activeJobs++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.activeJobs--
		c.mu.Unlock()
	}()

	err := c.jobProcessor.ProcessJob(ctx, jobMsg.JobID)
	c.updateStats(err == nil, time.Since(start))

	if err != nil {
		c.recordError(err)
		slogger.ErrorWithError(ctx, "Job processing failed, requesting redelivery", err, slogger.Fields{
			"job_id":     jobMsg.JobID.String(),
			"message_id": jobMsg.MessageID,
		})
		_ = msg.Nak()
		return
	}

	if err := msg.Ack(); err != nil {
		slogger.Warn(ctx, "Failed to ack processed job message", slogger.Fields{
			"job_id": jobMsg.JobID.String(),
			"error":  err.Error(),
		})
	}
}

func (c *NATSJobConsumer) recordError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastError = err.Error()
}

func (c *NATSJobConsumer) updateStats(success bool, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if success {
		c.stats.ProcessedCount++
	} else {
		c.stats.FailedCount++
	}
	total := c.stats.ProcessedCount + c.stats.FailedCount
	if total > 0 {
		c.stats.AverageLatency += (elapsed - c.stats.AverageLatency) / time.Duration(total)
	}
}
