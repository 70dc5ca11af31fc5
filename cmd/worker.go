package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	inboundmsg "quizgen/internal/adapter/inbound/messaging"
	outboundmsg "quizgen/internal/adapter/outbound/messaging"
	"quizgen/internal/application/common/slogger"

	"github.com/spf13/cobra"
)

const workerShutdownTimeout = 30 * time.Second

// newWorkerCmd creates and returns the worker command.
func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Start the background worker service",
		Long: `Start the background worker service that processes generation jobs from NATS JetStream.

The worker service:
- Consumes generation jobs from the queue and drives their batch loops
- Calls the generation and QC models with bounded retries
- Runs with configurable concurrency for parallel job processing
- Requeues jobs abandoned by crashed workers

Configuration is loaded from config files and environment variables.`,
		Run: func(_ *cobra.Command, _ []string) {
			runWorkerService()
		},
	}
}

// runWorkerService starts and runs the worker service.
func runWorkerService() {
	cfg := GetConfig()

	slogger.InfoNoCtx("Starting worker service", slogger.Fields{
		"concurrency": cfg.Worker.Concurrency,
		"queue_group": cfg.Worker.QueueGroup,
	})

	deps, err := buildDependencies(cfg)
	if err != nil {
		slogger.ErrorNoCtx("Failed to build worker dependencies", slogger.Fields{"error": err.Error()})
		return
	}
	defer deps.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer, err := inboundmsg.NewNATSJobConsumer(inboundmsg.ConsumerConfig{
		Subject:     outboundmsg.GenerationJobSubject,
		QueueGroup:  cfg.Worker.QueueGroup,
		DurableName: cfg.Worker.QueueGroup,
		AckWait:     cfg.Worker.JobTimeout,
		MaxDeliver:  cfg.Generation.MaxRetries + 1,
		Concurrency: cfg.Worker.Concurrency,
	}, deps.queue, deps.processor)
	if err != nil {
		slogger.ErrorNoCtx("Failed to create job consumer", slogger.Fields{"error": err.Error()})
		return
	}

	if err := consumer.Start(ctx); err != nil {
		// Without a broker the worker still runs: stuck jobs are recovered
		// into the inline executor until the broker returns.
		slogger.WarnNoCtx("Queue consumer not started", slogger.Fields{"error": err.Error()})
	}

	go deps.recovery.Run(ctx)

	<-ctx.Done()
	slogger.InfoNoCtx("Shutting down worker service", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), workerShutdownTimeout)
	defer cancel()
	if err := consumer.Stop(shutdownCtx); err != nil {
		slogger.ErrorNoCtx("Consumer shutdown failed", slogger.Fields{"error": err.Error()})
	}
}

func init() { //nolint:gochecknoinits // Standard Cobra CLI pattern for command registration
	rootCmd.AddCommand(newWorkerCmd())
}
