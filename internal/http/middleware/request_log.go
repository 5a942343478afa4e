package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/dgnl-backend/internal/platform/ctxutil"
	"github.com/yungbote/dgnl-backend/internal/platform/logger"
)

const logFieldsKey = "dgnl.log_fields"

// routeIDFields names the :id param by the resource it addresses.
var routeIDFields = map[string]string{
	"trials": "trial_id",
	"tests":  "test_id",
}

// AddLogFields attaches key/value pairs to the access log line of the current
// request. Handlers use it for ids that are only known after binding.
func AddLogFields(c *gin.Context, keysAndValues ...interface{}) {
	if c == nil || len(keysAndValues) == 0 {
		return
	}
	var fields []interface{}
	if v, ok := c.Get(logFieldsKey); ok {
		fields, _ = v.([]interface{})
	}
	c.Set(logFieldsKey, append(fields, keysAndValues...))
}

// RequestLogger writes one line per request: Info below 400, Warn for 4xx,
// Error for 5xx.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if log == nil {
			return
		}

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		fields := []interface{}{
			"method", strings.ToUpper(c.Request.Method),
			"route", route,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", c.Writer.Size(),
		}
		fields = append(fields, routeParamFields(route, c.Params)...)
		if td := ctxutil.GetTraceData(c.Request.Context()); td != nil {
			fields = append(fields, "trace_id", td.TraceID, "request_id", td.RequestID)
		}
		if v, ok := c.Get(logFieldsKey); ok {
			if extra, ok := v.([]interface{}); ok {
				fields = append(fields, extra...)
			}
		}
		if last := c.Errors.Last(); last != nil {
			fields = append(fields, "error", last.Err)
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}

// routeParamFields maps "/api/trials/:id/rescore" with id=abc to
// trial_id=abc. Params that follow an unknown segment keep their own name.
func routeParamFields(route string, params gin.Params) []interface{} {
	if len(params) == 0 {
		return nil
	}
	segments := strings.Split(strings.Trim(route, "/"), "/")
	out := make([]interface{}, 0, 2*len(params))
	for i, seg := range segments {
		if !strings.HasPrefix(seg, ":") {
			continue
		}
		name := strings.TrimPrefix(seg, ":")
		val, ok := params.Get(name)
		if !ok {
			continue
		}
		key := name
		if i > 0 {
			if field, ok := routeIDFields[segments[i-1]]; ok {
				key = field
			}
		}
		out = append(out, key, val)
	}
	return out
}
