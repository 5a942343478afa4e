package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/dgnl-backend/internal/platform/httpx"
	"github.com/yungbote/dgnl-backend/internal/platform/logger"
)

const (
	IRTQueue     = "irt-queue"
	ScoringQueue = "scoring-queue"
)

type Options struct {
	// Prefix namespaces every key, default "dgnl".
	Prefix      string
	MaxAttempts int
	BackoffBase time.Duration
	LeaseTTL    time.Duration
	// CompletedTTL bounds how long finished job hashes are kept for inspection.
	CompletedTTL time.Duration
}

// Queue is a reliable list-based queue on Redis: ids move wait -> active on
// claim and are acknowledged by Complete or Fail. A job whose lease lapses
// while active is handed out again by Recover, so delivery is at-least-once.
type Queue struct {
	rdb  *goredis.Client
	log  *logger.Logger
	opts Options
	now  func() time.Time
}

func New(rdb *goredis.Client, baseLog *logger.Logger, opts Options) *Queue {
	if opts.Prefix == "" {
		opts.Prefix = "dgnl"
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 5 * time.Second
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 10 * time.Minute
	}
	if opts.CompletedTTL <= 0 {
		opts.CompletedTTL = 24 * time.Hour
	}
	return &Queue{
		rdb:  rdb,
		log:  baseLog.With("component", "JobQueue"),
		opts: opts,
		now:  time.Now,
	}
}

func (q *Queue) LeaseTTL() time.Duration { return q.opts.LeaseTTL }

func (q *Queue) waitKey(name string) string    { return q.opts.Prefix + ":queue:" + name + ":wait" }
func (q *Queue) activeKey(name string) string  { return q.opts.Prefix + ":queue:" + name + ":active" }
func (q *Queue) delayedKey(name string) string { return q.opts.Prefix + ":queue:" + name + ":delayed" }
func (q *Queue) deadKey(name string) string    { return q.opts.Prefix + ":queue:" + name + ":dead" }
func (q *Queue) jobPrefix() string             { return q.opts.Prefix + ":job:" }
func (q *Queue) jobKey(id string) string       { return q.jobPrefix() + id }
func (q *Queue) leaseKey(id string) string     { return q.jobKey(id) + leaseSuffix }

const leaseSuffix = ":lease"

// Enqueue stores the job record and pushes its id onto the wait list in one
// MULTI so a consumer never sees an id without a record.
func (q *Queue) Enqueue(ctx context.Context, queueName string, jobType string, payload any) (*Job, error) {
	queueName = strings.TrimSpace(queueName)
	jobType = strings.TrimSpace(jobType)
	if queueName == "" {
		return nil, fmt.Errorf("missing queue name")
	}
	if jobType == "" {
		return nil, fmt.Errorf("missing job type")
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	now := q.now().UTC()
	job := &Job{
		ID:          uuid.NewString(),
		Queue:       queueName,
		Type:        jobType,
		Payload:     raw,
		MaxAttempts: q.opts.MaxAttempts,
		Status:      StatusWaiting,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err = q.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, q.jobKey(job.ID), job.fields())
		p.LPush(ctx, q.waitKey(queueName), job.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %s/%s: %w", queueName, jobType, err)
	}
	q.log.Debug("Job enqueued", "queue", queueName, "job_type", jobType, "job_id", job.ID)
	return job, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(b), nil
	}
}

// Promote due delayed ids, then atomically move one id wait -> active and
// stamp the claim on its record with a lease.
var claimScript = goredis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[3], "-inf", ARGV[1], "LIMIT", 0, 100)
for _, id in ipairs(due) do
	if redis.call("ZREM", KEYS[3], id) == 1 then
		redis.call("LPUSH", KEYS[1], id)
	end
end
local id = redis.call("RPOPLPUSH", KEYS[1], KEYS[2])
if not id then
	return false
end
local jk = ARGV[3] .. id
redis.call("HINCRBY", jk, "attempts", 1)
redis.call("HSET", jk, "status", "active", "updated_at", ARGV[5])
redis.call("SET", jk .. ARGV[4], "1", "PX", ARGV[2])
return id
`)

// Claim hands out the oldest waiting job, or (nil, nil) when the queue is empty.
func (q *Queue) Claim(ctx context.Context, queueName string) (*Job, error) {
	now := q.now().UTC()
	id, err := claimScript.Run(ctx, q.rdb,
		[]string{q.waitKey(queueName), q.activeKey(queueName), q.delayedKey(queueName)},
		now.UnixMilli(),
		q.opts.LeaseTTL.Milliseconds(),
		q.jobPrefix(),
		leaseSuffix,
		now.Format(time.RFC3339Nano),
	).Text()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", queueName, err)
	}
	job, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		// Record expired underneath the id; drop it so it cannot wedge the list.
		q.rdb.LRem(ctx, q.activeKey(queueName), 1, id)
		q.log.Warn("Claimed job has no record, dropping", "queue", queueName, "job_id", id)
		return nil, nil
	}
	return job, nil
}

func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	h, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	return jobFromHash(h), nil
}

// UpdateProgress records an informational 0..100 progress value and extends the lease.
func (q *Queue) UpdateProgress(ctx context.Context, job *Job, pct int) error {
	if job == nil {
		return nil
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	now := q.now().UTC()
	_, err := q.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, q.jobKey(job.ID), "progress", pct, "updated_at", now.Format(time.RFC3339Nano))
		p.PExpire(ctx, q.leaseKey(job.ID), q.opts.LeaseTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("progress %s: %w", job.ID, err)
	}
	job.Progress = pct
	job.UpdatedAt = now
	return nil
}

// ErrLeaseLost means the job's lease expired before it was renewed; the job
// may already have been handed to another consumer.
var ErrLeaseLost = errors.New("queue: lease lost")

// Touch renews the lease of a running job without changing its record.
func (q *Queue) Touch(ctx context.Context, job *Job) error {
	if job == nil {
		return nil
	}
	ok, err := q.rdb.PExpire(ctx, q.leaseKey(job.ID), q.opts.LeaseTTL).Result()
	if err != nil {
		return fmt.Errorf("touch %s: %w", job.ID, err)
	}
	if !ok {
		return fmt.Errorf("touch %s: %w", job.ID, ErrLeaseLost)
	}
	return nil
}

func (q *Queue) Complete(ctx context.Context, job *Job, result any) error {
	if job == nil {
		return nil
	}
	raw, err := encodePayload(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	now := q.now().UTC()
	_, err = q.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.LRem(ctx, q.activeKey(job.Queue), 1, job.ID)
		p.Del(ctx, q.leaseKey(job.ID))
		p.HSet(ctx, q.jobKey(job.ID),
			"status", StatusCompleted,
			"progress", 100,
			"error", "",
			"result", string(raw),
			"updated_at", now.Format(time.RFC3339Nano),
		)
		p.Expire(ctx, q.jobKey(job.ID), q.opts.CompletedTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete %s: %w", job.ID, err)
	}
	job.Status = StatusCompleted
	job.Progress = 100
	job.Result = raw
	job.UpdatedAt = now
	return nil
}

// Fail schedules a retry with exponential backoff while attempts remain,
// otherwise parks the job on the dead list.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) error {
	if job == nil {
		return nil
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.opts.MaxAttempts
	}
	now := q.now().UTC()
	retry := job.Attempts < maxAttempts
	status := StatusDead
	var dueAt time.Time
	if retry {
		status = StatusDelayed
		dueAt = now.Add(q.RetryDelay(job.Attempts))
	}
	_, err := q.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.LRem(ctx, q.activeKey(job.Queue), 1, job.ID)
		p.Del(ctx, q.leaseKey(job.ID))
		p.HSet(ctx, q.jobKey(job.ID),
			"status", status,
			"error", msg,
			"updated_at", now.Format(time.RFC3339Nano),
		)
		if retry {
			p.ZAdd(ctx, q.delayedKey(job.Queue), goredis.Z{Score: float64(dueAt.UnixMilli()), Member: job.ID})
		} else {
			p.LPush(ctx, q.deadKey(job.Queue), job.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("fail %s: %w", job.ID, err)
	}
	job.Status = status
	job.Error = msg
	job.UpdatedAt = now
	if retry {
		q.log.Warn("Job failed, retry scheduled",
			"queue", job.Queue, "job_id", job.ID, "job_type", job.Type,
			"attempts", job.Attempts, "max_attempts", maxAttempts, "retry_at", dueAt, "error", msg)
	} else {
		q.log.Error("Job failed permanently",
			"queue", job.Queue, "job_id", job.ID, "job_type", job.Type,
			"attempts", job.Attempts, "error", msg)
	}
	return nil
}

// RetryDelay is base * 2^(attempts-1), capped at one hour, with +-20% jitter.
func (q *Queue) RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 12 {
		attempts = 12
	}
	d := q.opts.BackoffBase * time.Duration(1<<(attempts-1))
	if d > time.Hour {
		d = time.Hour
	}
	return httpx.JitterSleep(d)
}

var recoverScript = goredis.NewScript(`
local ids = redis.call("LRANGE", KEYS[1], 0, -1)
local n = 0
for _, id in ipairs(ids) do
	if redis.call("EXISTS", ARGV[1] .. id .. ARGV[2]) == 0 then
		if redis.call("LREM", KEYS[1], 1, id) > 0 then
			redis.call("RPUSH", KEYS[2], id)
			redis.call("HSET", ARGV[1] .. id, "status", "waiting")
			n = n + 1
		end
	end
end
return n
`)

// Recover returns active jobs whose lease lapsed (crashed or hung consumer)
// to the head of the wait list.
func (q *Queue) Recover(ctx context.Context, queueName string) (int, error) {
	n, err := recoverScript.Run(ctx, q.rdb,
		[]string{q.activeKey(queueName), q.waitKey(queueName)},
		q.jobPrefix(), leaseSuffix,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("recover %s: %w", queueName, err)
	}
	if n > 0 {
		q.log.Warn("Recovered jobs with expired leases", "queue", queueName, "count", n)
	}
	return n, nil
}

func (q *Queue) Stats(ctx context.Context, queueName string) (Stats, error) {
	var waiting, active, delayed, dead *goredis.IntCmd
	_, err := q.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		waiting = p.LLen(ctx, q.waitKey(queueName))
		active = p.LLen(ctx, q.activeKey(queueName))
		delayed = p.ZCard(ctx, q.delayedKey(queueName))
		dead = p.LLen(ctx, q.deadKey(queueName))
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("stats %s: %w", queueName, err)
	}
	return Stats{
		Queue:   queueName,
		Waiting: waiting.Val(),
		Active:  active.Val(),
		Delayed: delayed.Val(),
		Dead:    dead.Val(),
	}, nil
}

// DelayedIDs lists delayed job ids with their due time, oldest first.
func (q *Queue) DelayedIDs(ctx context.Context, queueName string) (map[string]time.Time, error) {
	zs, err := q.rdb.ZRangeWithScores(ctx, q.delayedKey(queueName), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(zs))
	for _, z := range zs {
		id, _ := z.Member.(string)
		out[id] = time.UnixMilli(int64(z.Score)).UTC()
	}
	return out, nil
}
