package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/yungbote/dgnl-backend/internal/jobs/runtime"
	"github.com/yungbote/dgnl-backend/internal/platform/logger"
	"github.com/yungbote/dgnl-backend/internal/platform/queue"
)

type funcHandler struct {
	typ string
	run func(jc *runtime.Context) error
}

func (h funcHandler) Type() string                  { return h.typ }
func (h funcHandler) Run(jc *runtime.Context) error { return h.run(jc) }

func newQueue(t *testing.T) *queue.Queue {
	t.Helper()
	q, _ := newQueueWithServer(t, queue.Options{MaxAttempts: 3, BackoffBase: time.Hour})
	return q
}

func newQueueWithServer(t *testing.T, opts queue.Options) (*queue.Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return queue.New(rdb, logger.Nop(), opts), mr
}

func startWorker(t *testing.T, q *queue.Queue, reg *runtime.Registry, opts Options) {
	t.Helper()
	w := NewWorker(logger.Nop(), q, reg)
	w.Subscribe(queue.IRTQueue, opts)
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	t.Cleanup(func() {
		cancel()
		w.Wait()
	})
}

func waitForStatus(t *testing.T, q *queue.Queue, id string, want string) *queue.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := q.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if job != nil && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", id, want)
	return nil
}

func TestWorkerOutcomes(t *testing.T) {
	q := newQueue(t)
	reg := runtime.NewRegistry()
	mustRegister(t, reg, funcHandler{typ: "ok", run: func(jc *runtime.Context) error {
		jc.Progress("half", 50, "")
		jc.Succeed("done", map[string]any{"n": 1})
		return nil
	}})
	mustRegister(t, reg, funcHandler{typ: "implicit", run: func(*runtime.Context) error { return nil }})
	mustRegister(t, reg, funcHandler{typ: "err", run: func(*runtime.Context) error { return errors.New("boom") }})
	mustRegister(t, reg, funcHandler{typ: "panics", run: func(*runtime.Context) error { panic("kaboom") }})

	ctx := context.Background()
	ids := map[string]string{}
	for _, typ := range []string{"ok", "implicit", "err", "panics", "unknown"} {
		job, err := q.Enqueue(ctx, queue.IRTQueue, typ, nil)
		if err != nil {
			t.Fatalf("Enqueue %s: %v", typ, err)
		}
		ids[typ] = job.ID
	}

	startWorker(t, q, reg, Options{Concurrency: 2, PollInterval: 10 * time.Millisecond})

	ok := waitForStatus(t, q, ids["ok"], queue.StatusCompleted)
	if string(ok.Result) != `{"n":1}` {
		t.Fatalf("result = %s", ok.Result)
	}
	waitForStatus(t, q, ids["implicit"], queue.StatusCompleted)

	failed := waitForStatus(t, q, ids["err"], queue.StatusDelayed)
	if failed.Error != "run: boom" {
		t.Fatalf("error = %q", failed.Error)
	}
	panicked := waitForStatus(t, q, ids["panics"], queue.StatusDelayed)
	if panicked.Error != "panic: panic: kaboom" {
		t.Fatalf("panic error = %q", panicked.Error)
	}
	unknown := waitForStatus(t, q, ids["unknown"], queue.StatusDelayed)
	if unknown.Error != "dispatch: no handler registered for job_type=unknown" {
		t.Fatalf("dispatch error = %q", unknown.Error)
	}
}

func TestWorkerConcurrencyIsBounded(t *testing.T) {
	q := newQueue(t)
	reg := runtime.NewRegistry()
	var running, peak, done int32
	mustRegister(t, reg, funcHandler{typ: "slow", run: func(*runtime.Context) error {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		atomic.AddInt32(&done, 1)
		return nil
	}})
	for i := 0; i < 6; i++ {
		if _, err := q.Enqueue(context.Background(), queue.IRTQueue, "slow", nil); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	startWorker(t, q, reg, Options{
		Concurrency:  2,
		PollInterval: 5 * time.Millisecond,
		Limiter:      rate.NewLimiter(rate.Inf, 1),
	})

	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt32(&done) < 6 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := atomic.LoadInt32(&done); got != 6 {
		t.Fatalf("processed %d of 6 jobs", got)
	}
	if p := atomic.LoadInt32(&peak); p > 2 {
		t.Fatalf("peak concurrency %d exceeds 2", p)
	}
}

func TestWorkerFinishesInFlightJobOnShutdown(t *testing.T) {
	q := newQueue(t)
	reg := runtime.NewRegistry()
	started := make(chan struct{})
	release := make(chan struct{})
	jobErr := make(chan error, 1)
	mustRegister(t, reg, funcHandler{typ: "blocking", run: func(jc *runtime.Context) error {
		close(started)
		<-release
		jobErr <- jc.Ctx.Err()
		return nil
	}})
	job, err := q.Enqueue(context.Background(), queue.IRTQueue, "blocking", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w := NewWorker(logger.Nop(), q, reg)
	w.Subscribe(queue.IRTQueue, Options{PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatalf("handler never started")
	}
	cancel()

	stopped := make(chan struct{})
	go func() {
		w.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatalf("Wait returned while a job was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatalf("worker did not stop after the job finished")
	}
	if err := <-jobErr; err != nil {
		t.Fatalf("job context was cancelled by shutdown: %v", err)
	}
	got, err := q.Get(context.Background(), job.ID)
	if err != nil || got == nil || got.Status != queue.StatusCompleted {
		t.Fatalf("job after shutdown: %+v err=%v", got, err)
	}
}

func TestWorkerRenewsLeaseDuringLongJob(t *testing.T) {
	q, mr := newQueueWithServer(t, queue.Options{MaxAttempts: 3, BackoffBase: time.Hour, LeaseTTL: time.Second})
	reg := runtime.NewRegistry()
	var runs int32
	started := make(chan struct{})
	release := make(chan struct{})
	mustRegister(t, reg, funcHandler{typ: "long", run: func(*runtime.Context) error {
		if atomic.AddInt32(&runs, 1) == 1 {
			close(started)
		}
		<-release
		return nil
	}})
	job, err := q.Enqueue(context.Background(), queue.IRTQueue, "long", nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	startWorker(t, q, reg, Options{
		Concurrency:     2,
		PollInterval:    5 * time.Millisecond,
		RecoverInterval: 10 * time.Millisecond,
		Heartbeat:       20 * time.Millisecond,
	})
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatalf("handler never started")
	}

	// Well past the lease TTL in total; renewals keep the job active.
	for i := 0; i < 5; i++ {
		mr.FastForward(500 * time.Millisecond)
		time.Sleep(80 * time.Millisecond)
	}
	stats, err := q.Stats(context.Background(), queue.IRTQueue)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Active != 1 || stats.Waiting != 0 {
		t.Fatalf("running job was recovered: %+v", stats)
	}

	close(release)
	waitForStatus(t, q, job.ID, queue.StatusCompleted)
	if n := atomic.LoadInt32(&runs); n != 1 {
		t.Fatalf("job ran %d times", n)
	}
}

func mustRegister(t *testing.T, reg *runtime.Registry, h runtime.Handler) {
	t.Helper()
	if err := reg.Register(h); err != nil {
		t.Fatalf("Register: %v", err)
	}
}
