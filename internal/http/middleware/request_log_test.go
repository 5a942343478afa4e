package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yungbote/dgnl-backend/internal/platform/logger"
)

func newObservedRouter(t *testing.T) (*gin.Engine, *observer.ObservedLogs) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	log := &logger.Logger{SugaredLogger: zap.New(core).Sugar()}

	r := gin.New()
	r.Use(AttachTraceContext())
	r.Use(RequestLogger(log))
	return r, logs
}

func TestRequestLoggerNamesRouteIDs(t *testing.T) {
	r, logs := newObservedRouter(t)
	r.POST("/api/trials/:id/rescore", func(c *gin.Context) {
		AddLogFields(c, "job_id", "job-9")
		c.Status(http.StatusAccepted)
	})
	r.POST("/api/tests/:id/calculate-irt", func(c *gin.Context) {
		c.Status(http.StatusConflict)
	})

	for _, path := range []string{"/api/trials/tr-1/rescore", "/api/tests/t1/calculate-irt"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set(headerRequestID, "req-42")
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("want 2 access log lines, got %d", len(entries))
	}

	rescore := entries[0].ContextMap()
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("202 logged at %s", entries[0].Level)
	}
	if rescore["trial_id"] != "tr-1" || rescore["job_id"] != "job-9" || rescore["request_id"] != "req-42" {
		t.Fatalf("rescore fields = %v", rescore)
	}
	if rescore["route"] != "/api/trials/:id/rescore" || fmt.Sprint(rescore["status"]) != "202" {
		t.Fatalf("rescore route/status = %v", rescore)
	}
	if _, ok := rescore["id"]; ok {
		t.Fatalf("bare id param must be renamed: %v", rescore)
	}

	irt := entries[1].ContextMap()
	if entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("409 logged at %s", entries[1].Level)
	}
	if tid, _ := irt["trace_id"].(string); irt["test_id"] != "t1" || tid == "" {
		t.Fatalf("irt fields = %v", irt)
	}
}

func TestRequestLoggerHashesStudentID(t *testing.T) {
	r, logs := newObservedRouter(t)
	r.POST("/api/trials", func(c *gin.Context) {
		AddLogFields(c, "student_id", "s-123", "test_id", "t1")
		AddLogFields(c, "trial_id", "tr-1")
		c.Status(http.StatusCreated)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/trials", nil))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("want 1 access log line, got %d", len(entries))
	}
	m := entries[0].ContextMap()
	sid, _ := m["student_id"].(string)
	if !strings.HasPrefix(sid, "hash:") {
		t.Fatalf("student_id must be pseudonymised, got %v", m["student_id"])
	}
	if m["test_id"] != "t1" || m["trial_id"] != "tr-1" {
		t.Fatalf("fields = %v", m)
	}
}

func TestRequestLoggerUnmatchedRoute(t *testing.T) {
	r, logs := newObservedRouter(t)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/trials/x/y/z", nil))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("want 1 access log line, got %d", len(entries))
	}
	m := entries[0].ContextMap()
	if m["route"] != "unmatched" || fmt.Sprint(m["status"]) != "404" {
		t.Fatalf("unmatched fields = %v", m)
	}
}

func TestAttachTraceContextRejectsUnsafeRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AttachTraceContext())
	r.GET("/healthcheck", func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := []struct {
		header string
		keep   bool
	}{
		{"req-1", true},
		{"evil\nline", false},
		{strings.Repeat("a", maxRequestIDLen+1), false},
		{"", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
		req.Header.Set(headerRequestID, tc.header)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		got := rec.Header().Get(headerRequestID)
		if got == "" {
			t.Fatalf("request id header missing for %q", tc.header)
		}
		if (got == tc.header) != tc.keep {
			t.Fatalf("header %q -> %q, keep=%v", tc.header, got, tc.keep)
		}
		if rec.Header().Get(headerTraceID) == "" {
			t.Fatalf("trace id header missing")
		}
	}
}
