package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/yungbote/dgnl-backend/internal/jobs/runtime"
	"github.com/yungbote/dgnl-backend/internal/platform/logger"
	"github.com/yungbote/dgnl-backend/internal/platform/queue"
)

// Queue is the broker surface a worker needs.
type Queue interface {
	runtime.JobStore
	Claim(ctx context.Context, queueName string) (*queue.Job, error)
	Recover(ctx context.Context, queueName string) (int, error)
	Touch(ctx context.Context, job *queue.Job) error
}

type Options struct {
	// Concurrency is the number of claim loops for the queue.
	Concurrency int
	// PollInterval is the idle wait between empty claims.
	PollInterval time.Duration
	// RecoverInterval controls how often expired leases are requeued.
	RecoverInterval time.Duration
	// Limiter caps job starts across all loops of the subscription. Nil means unlimited.
	Limiter *rate.Limiter
	// JobTimeout bounds one job run. Zero means no deadline.
	JobTimeout time.Duration
	// Heartbeat is how often a running job's lease is renewed. It must be
	// well below the queue's lease TTL.
	Heartbeat time.Duration
}

type subscription struct {
	queue string
	opts  Options
}

type Worker struct {
	log      *logger.Logger
	queue    Queue
	registry *runtime.Registry
	tracer   trace.Tracer

	mu   sync.Mutex
	subs []subscription
	wg   sync.WaitGroup
}

func NewWorker(baseLog *logger.Logger, q Queue, registry *runtime.Registry) *Worker {
	return &Worker{
		log:      baseLog.With("component", "JobWorker"),
		queue:    q,
		registry: registry,
		tracer:   otel.Tracer("dgnl/jobs/worker"),
	}
}

// Subscribe must be called before Start.
func (w *Worker) Subscribe(queueName string, opts Options) {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.RecoverInterval <= 0 {
		opts.RecoverInterval = 30 * time.Second
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = time.Minute
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs = append(w.subs, subscription{queue: queueName, opts: opts})
}

func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	subs := append([]subscription(nil), w.subs...)
	w.mu.Unlock()

	for _, sub := range subs {
		w.log.Info("Starting queue consumer",
			"queue", sub.queue,
			"concurrency", sub.opts.Concurrency,
			"poll_interval", sub.opts.PollInterval.String(),
		)
		w.wg.Add(1)
		go w.recoverLoop(ctx, sub)
		for i := 0; i < sub.opts.Concurrency; i++ {
			w.wg.Add(1)
			go w.runLoop(ctx, sub, i+1)
		}
	}
}

// Wait blocks until every loop has exited after ctx cancellation. Jobs that
// were running at cancellation finish first.
func (w *Worker) Wait() { w.wg.Wait() }

func (w *Worker) recoverLoop(ctx context.Context, sub subscription) {
	defer w.wg.Done()
	ticker := time.NewTicker(sub.opts.RecoverInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.queue.Recover(ctx, sub.queue)
			if err != nil {
				w.log.Warn("Lease recovery failed", "queue", sub.queue, "error", err)
				continue
			}
			if n > 0 {
				w.log.Warn("Requeued jobs with expired leases", "queue", sub.queue, "count", n)
			}
		}
	}
}

func (w *Worker) runLoop(ctx context.Context, sub subscription, workerID int) {
	defer w.wg.Done()
	ticker := time.NewTicker(sub.opts.PollInterval)
	defer ticker.Stop()

	for {
		// Drain while work is available, then idle until the next tick.
		for {
			if ctx.Err() != nil {
				w.log.Info("Worker loop stopped", "queue", sub.queue, "worker_id", workerID)
				return
			}
			if !w.processOne(ctx, sub, workerID) {
				break
			}
		}
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "queue", sub.queue, "worker_id", workerID)
			return
		case <-ticker.C:
		}
	}
}

// processOne claims and runs at most one job. It reports whether a job was claimed.
func (w *Worker) processOne(ctx context.Context, sub subscription, workerID int) bool {
	if sub.opts.Limiter != nil {
		if err := sub.opts.Limiter.Wait(ctx); err != nil {
			return false
		}
	}
	job, err := w.queue.Claim(ctx, sub.queue)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warn("Claim failed", "queue", sub.queue, "worker_id", workerID, "error", err)
		}
		return false
	}
	if job == nil {
		return false
	}
	w.execute(ctx, sub, job, workerID)
	return true
}

// execute runs a claimed job to a terminal state. Cancelling ctx stops the
// claim loops only; the job itself is bounded by JobTimeout.
func (w *Worker) execute(ctx context.Context, sub subscription, job *queue.Job, workerID int) {
	jobCtx := context.WithoutCancel(ctx)
	if sub.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, sub.opts.JobTimeout)
		defer cancel()
	}
	spanCtx, span := w.tracer.Start(jobCtx, "job."+job.Type,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.type", job.Type),
			attribute.String("job.queue", job.Queue),
			attribute.Int("job.attempt", job.Attempts),
		),
	)
	defer span.End()

	log := w.log.With("queue", job.Queue, "job_id", job.ID, "job_type", job.Type, "attempt", job.Attempts)
	jc := runtime.NewContext(spanCtx, job, w.queue, log)

	h, ok := w.registry.Get(job.Type)
	if !ok {
		log.Warn("No handler registered for job_type", "worker_id", workerID)
		err := &missingHandlerError{JobType: job.Type}
		span.SetStatus(codes.Error, err.Error())
		jc.Fail("dispatch", err)
		return
	}

	stopHeartbeat := w.heartbeat(spanCtx, jc, sub.opts.Heartbeat)
	defer stopHeartbeat()

	started := time.Now()
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Job handler panic", "worker_id", workerID, "panic", r)
				jc.Fail("panic", errFromRecover(r))
			}
		}()
		if runErr := h.Run(jc); runErr != nil {
			// Most pipelines call jc.Fail themselves; this is a safety net.
			jc.Fail("run", runErr)
		}
	}()
	if !jc.Terminal() {
		jc.Succeed("done", nil)
	}
	if job.Status == queue.StatusCompleted {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, job.Error)
	}
	log.Debug("Job finished", "status", job.Status, "elapsed_ms", time.Since(started).Milliseconds())
}

// heartbeat renews the job lease until the returned stop func is called, so a
// long run is not handed to another consumer by Recover.
func (w *Worker) heartbeat(ctx context.Context, jc *runtime.Context, every time.Duration) func() {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if jc.Terminal() {
				return
			}
			if err := w.queue.Touch(ctx, jc.Job); err != nil {
				if jc.Terminal() {
					return
				}
				jc.Log.Warn("Lease renewal failed", "error", err)
				if errors.Is(err, queue.ErrLeaseLost) {
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string {
	return "no handler registered for job_type=" + e.JobType
}

func errFromRecover(v any) error { return &panicError{Val: v} }

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }
