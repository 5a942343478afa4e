package observability

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/yungbote/dgnl-backend/internal/platform/ctxutil"
	"github.com/yungbote/dgnl-backend/internal/platform/logger"
)

type dqCounters struct {
	mu     sync.Mutex
	counts map[string]int64
}

var dq dqCounters

// ReportDataQuality records a data-quality event: something the pipeline
// tolerated but that means a score may be wrong. It always logs at Warn.
func ReportDataQuality(ctx context.Context, log *logger.Logger, stage string, issue string, meta map[string]any) {
	stage = strings.TrimSpace(stage)
	if stage == "" {
		stage = "unknown"
	}
	issue = strings.TrimSpace(issue)
	if issue == "" {
		issue = "unspecified"
	}
	if meta == nil {
		meta = map[string]any{}
	}
	if td := ctxutil.GetTraceData(ctx); td != nil {
		if td.TraceID != "" {
			meta["trace_id"] = td.TraceID
		}
		if td.RequestID != "" {
			meta["request_id"] = td.RequestID
		}
	}

	dq.mu.Lock()
	if dq.counts == nil {
		dq.counts = map[string]int64{}
	}
	dq.counts[stage+"/"+issue]++
	dq.mu.Unlock()

	if log != nil {
		log.Warn("data quality issue detected", "stage", stage, "issue", issue, "meta", meta)
	}
}

type DataQualityCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// DataQualityCounts returns the per "stage/issue" totals since process start.
func DataQualityCounts() []DataQualityCount {
	dq.mu.Lock()
	defer dq.mu.Unlock()
	out := make([]DataQualityCount, 0, len(dq.counts))
	for k, v := range dq.counts {
		out = append(out, DataQualityCount{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
