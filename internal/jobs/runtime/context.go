package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/yungbote/dgnl-backend/internal/platform/ctxutil"
	"github.com/yungbote/dgnl-backend/internal/platform/logger"
	"github.com/yungbote/dgnl-backend/internal/platform/queue"
)

// JobStore is the broker side of a running job: progress is informational,
// Complete acknowledges and Fail hands the job back for retry or dead-letter.
type JobStore interface {
	UpdateProgress(ctx context.Context, job *queue.Job, pct int) error
	Complete(ctx context.Context, job *queue.Job, result any) error
	Fail(ctx context.Context, job *queue.Job, cause error) error
}

/*
Context is the execution handle a pipeline gets for one claimed job.
Pipelines never talk to the broker directly; they report through
Progress, and end the run with exactly one of Succeed or Fail.
The first terminal call wins; later ones are ignored.
*/
type Context struct {
	Ctx     context.Context
	Job     *queue.Job
	Store   JobStore
	Log     *logger.Logger
	Stage   string
	Message string

	payload  map[string]any
	terminal atomic.Bool
}

func NewContext(ctx context.Context, job *queue.Job, store JobStore, log *logger.Logger) *Context {
	if log == nil {
		log = logger.Nop()
	}
	c := &Context{
		Ctx:   ctxutil.Default(ctx),
		Job:   job,
		Store: store,
		Log:   log,
	}
	if err := c.decodePayload(); err != nil {
		c.Log.Warn("Job payload is not a JSON object", "error", err)
	}
	c.applyTraceData()
	return c
}

func (c *Context) decodePayload() error {
	c.payload = map[string]any{}
	if c.Job == nil || len(c.Job.Payload) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.Payload, &m); err != nil {
		return err
	}
	if m != nil {
		c.payload = m
	}
	return nil
}

func (c *Context) applyTraceData() {
	traceID, _ := c.PayloadString("trace_id")
	reqID, _ := c.PayloadString("request_id")
	if traceID == "" && reqID == "" {
		return
	}
	c.Ctx = ctxutil.WithTraceData(c.Ctx, &ctxutil.TraceData{TraceID: traceID, RequestID: reqID})
	c.Log = c.Log.With("trace_id", traceID, "request_id", reqID)
}

// Payload never returns nil.
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

// PayloadString returns a non-empty trimmed string field.
func (c *Context) PayloadString(key string) (string, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// Terminal reports whether Succeed or Fail already ran.
func (c *Context) Terminal() bool { return c != nil && c.terminal.Load() }

func (c *Context) Progress(stage string, pct int, msg string) {
	if c == nil || c.terminal.Load() {
		return
	}
	c.Stage = stage
	c.Message = msg
	if c.Store != nil && c.Job != nil {
		if err := c.Store.UpdateProgress(c.Ctx, c.Job, pct); err != nil {
			c.Log.Warn("Progress update failed", "stage", stage, "progress", pct, "error", err)
		}
	}
	c.Log.Debug("Job progress", "stage", stage, "progress", pct, "message", msg)
}

func (c *Context) Fail(stage string, err error) {
	if c == nil || !c.terminal.CompareAndSwap(false, true) {
		return
	}
	c.Stage = stage
	if err == nil {
		err = fmt.Errorf("failed at stage %s", stage)
	}
	c.Log.Error("Job failed", "stage", stage, "error", err)
	if c.Store != nil && c.Job != nil {
		if ferr := c.Store.Fail(context.WithoutCancel(c.Ctx), c.Job, fmt.Errorf("%s: %w", stage, err)); ferr != nil {
			c.Log.Error("Recording job failure failed", "stage", stage, "error", ferr)
		}
	}
}

func (c *Context) Succeed(finalStage string, result any) {
	if c == nil || !c.terminal.CompareAndSwap(false, true) {
		return
	}
	c.Stage = finalStage
	if c.Store != nil && c.Job != nil {
		if err := c.Store.Complete(context.WithoutCancel(c.Ctx), c.Job, result); err != nil {
			c.Log.Error("Recording job completion failed", "stage", finalStage, "error", err)
			return
		}
	}
	c.Log.Info("Job succeeded", "stage", finalStage)
}
