package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/yungbote/dgnl-backend/internal/platform/queue"
)

type fakeQueue struct {
	mu   sync.Mutex
	jobs []*queue.Job
	err  error
}

func (f *fakeQueue) Enqueue(ctx context.Context, queueName string, jobType string, payload any) (*queue.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	j := &queue.Job{
		ID:      fmt.Sprintf("job-%d", len(f.jobs)+1),
		Queue:   queueName,
		Type:    jobType,
		Payload: b,
		Status:  queue.StatusWaiting,
	}
	f.jobs = append(f.jobs, j)
	return j, nil
}

func (f *fakeQueue) Stats(ctx context.Context, queueName string) (queue.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := queue.Stats{Queue: queueName}
	for _, j := range f.jobs {
		if j.Queue == queueName {
			st.Waiting++
		}
	}
	return st, nil
}

func (f *fakeQueue) payload(i int) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var m map[string]any
	_ = json.Unmarshal(f.jobs[i].Payload, &m)
	return m
}
