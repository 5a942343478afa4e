package queue

import (
	"encoding/json"
	"strconv"
	"time"
)

const (
	StatusWaiting   = "waiting"
	StatusActive    = "active"
	StatusDelayed   = "delayed"
	StatusCompleted = "completed"
	StatusDead      = "dead"
)

// Job is the broker-side record of one unit of work. Payload is opaque JSON
// owned by the handler registered for Type.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Result      json.RawMessage `json:"result,omitempty"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Progress    int             `json:"progress"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Stats is a point-in-time view of one queue's lists.
type Stats struct {
	Queue   string `json:"queue"`
	Waiting int64  `json:"waiting"`
	Active  int64  `json:"active"`
	Delayed int64  `json:"delayed"`
	Dead    int64  `json:"dead"`
}

func (j *Job) fields() map[string]any {
	payload := string(j.Payload)
	if payload == "" {
		payload = "{}"
	}
	return map[string]any{
		"id":           j.ID,
		"queue":        j.Queue,
		"type":         j.Type,
		"payload":      payload,
		"attempts":     j.Attempts,
		"max_attempts": j.MaxAttempts,
		"progress":     j.Progress,
		"status":       j.Status,
		"error":        j.Error,
		"created_at":   j.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":   j.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func jobFromHash(h map[string]string) *Job {
	if len(h) == 0 || h["id"] == "" {
		return nil
	}
	j := &Job{
		ID:          h["id"],
		Queue:       h["queue"],
		Type:        h["type"],
		Status:      h["status"],
		Error:       h["error"],
		Attempts:    atoi(h["attempts"]),
		MaxAttempts: atoi(h["max_attempts"]),
		Progress:    atoi(h["progress"]),
	}
	if p := h["payload"]; p != "" {
		j.Payload = json.RawMessage(p)
	}
	if r := h["result"]; r != "" {
		j.Result = json.RawMessage(r)
	}
	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, h["created_at"])
	j.UpdatedAt, _ = time.Parse(time.RFC3339Nano, h["updated_at"])
	return j
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
