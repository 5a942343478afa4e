package irt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yungbote/dgnl-backend/internal/platform/httpx"
	"github.com/yungbote/dgnl-backend/internal/platform/logger"
)

const calculatePath = "/calculate-irt"

const (
	defaultTimeout     = 5 * time.Minute
	maxBackoffInterval = 30 * time.Second
)

type Config struct {
	BaseURL string
	APIKey  string
	// Timeout bounds a single attempt. Retries get a fresh deadline each.
	Timeout    time.Duration
	MaxRetries int

	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func (c Config) limits() (timeout time.Duration, maxRetries int) {
	timeout = c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxRetries = c.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return timeout, maxRetries
}

// CallBudget is the longest one Calculate can run: every attempt at its full
// timeout plus the largest backoff after each.
func (c Config) CallBudget() time.Duration {
	timeout, maxRetries := c.limits()
	return time.Duration(maxRetries+1) * (timeout + maxBackoffInterval)
}

// Request is the 0/1 student x item matrix. Names[i] labels Responses[i].
type Request struct {
	Responses [][]int  `json:"responses"`
	Names     []string `json:"names"`
}

// StudentResult keeps the service's per-student object verbatim.
type StudentResult struct {
	Name string
	Raw  json.RawMessage
}

type Result struct {
	Students []StudentResult
	Items    json.RawMessage
}

type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*Result]
	log        *logger.Logger

	initialBackoff time.Duration
}

func New(cfg Config, baseLog *logger.Logger) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("irt: base url required")
	}
	timeout, maxRetries := cfg.limits()

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	log := baseLog.With("client", "IRTClient")
	return &Client{
		baseURL:        baseURL,
		apiKey:         strings.TrimSpace(cfg.APIKey),
		timeout:        timeout,
		maxRetries:     maxRetries,
		httpClient:     &http.Client{Transport: tr},
		breaker:        newBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown, log),
		log:            log,
		initialBackoff: 2 * time.Second,
	}, nil
}

// NewWithHTTPClient is intended for tests; it swaps the transport and
// shortens the retry backoff.
func NewWithHTTPClient(cfg Config, baseLog *logger.Logger, httpClient *http.Client) (*Client, error) {
	c, err := New(cfg, baseLog)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		c.httpClient = httpClient
	}
	c.initialBackoff = 10 * time.Millisecond
	return c, nil
}

// BreakerState reports the circuit breaker state: closed, half-open or open.
func (c *Client) BreakerState() gobreaker.State { return c.breaker.State() }

// Calculate posts the matrix and returns the per-student results. Transient
// failures (network, timeout, 408/429/5xx) are retried with exponential
// backoff; 4xx and malformed bodies are not.
func (c *Client) Calculate(ctx context.Context, req Request) (*Result, error) {
	if len(req.Names) != len(req.Responses) {
		return nil, fmt.Errorf("irt: %d names for %d rows", len(req.Names), len(req.Responses))
	}
	ctx, span := otel.Tracer("dgnl/irt").Start(ctx, "irt.calculate")
	defer span.End()
	span.SetAttributes(
		attribute.Int("irt.students", len(req.Names)),
		attribute.Int("irt.items", rowWidth(req.Responses)),
	)

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.initialBackoff
	eb.MaxInterval = maxBackoffInterval

	attempt := 0
	res, err := backoff.Retry(ctx, func() (*Result, error) {
		attempt++
		out, err := c.breaker.Execute(func() (*Result, error) {
			return c.calculateOnce(ctx, req, attempt)
		})
		if err != nil {
			if isBreakerRejection(err) {
				return nil, backoff.Permanent(ErrCircuitOpen)
			}
			if !httpx.IsRetryableError(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return out, nil
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
		backoff.WithMaxElapsedTime(Config{Timeout: c.timeout, MaxRetries: c.maxRetries}.CallBudget()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return res, nil
}

func (c *Client) calculateOnce(ctx context.Context, req Request, attempt int) (*Result, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(req); err != nil {
		return nil, err
	}

	ctx2, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx2, http.MethodPost, c.baseURL+calculatePath, &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.log.Warn("IRT service call failed",
			"endpoint", calculatePath, "attempt", attempt, "duration", time.Since(start), "error", err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		c.log.Warn("IRT service returned error status",
			"endpoint", calculatePath, "attempt", attempt, "status", resp.StatusCode, "duration", time.Since(start))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	out, err := decodeResult(resp.Body)
	if err != nil {
		c.log.Warn("IRT service returned malformed body",
			"endpoint", calculatePath, "attempt", attempt, "status", resp.StatusCode, "error", err)
		return nil, err
	}
	c.log.Info("IRT service call succeeded",
		"endpoint", calculatePath, "attempt", attempt, "status", resp.StatusCode,
		"students", len(out.Students), "duration", time.Since(start))
	return out, nil
}

func decodeResult(body io.Reader) (*Result, error) {
	var env struct {
		Students *[]json.RawMessage `json:"students"`
		Items    json.RawMessage    `json:"items"`
	}
	if err := json.NewDecoder(body).Decode(&env); err != nil {
		return nil, malformed("decode body: %v", err)
	}
	if env.Students == nil {
		return nil, malformed("missing students")
	}
	out := &Result{Students: make([]StudentResult, 0, len(*env.Students)), Items: env.Items}
	for i, raw := range *env.Students {
		var head struct {
			Name *string `json:"name"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return nil, malformed("students[%d]: %v", i, err)
		}
		if head.Name == nil || strings.TrimSpace(*head.Name) == "" {
			return nil, malformed("students[%d]: missing name", i)
		}
		out.Students = append(out.Students, StudentResult{Name: *head.Name, Raw: raw})
	}
	return out, nil
}

func rowWidth(rows [][]int) int {
	if len(rows) == 0 {
		return 0
	}
	return len(rows[0])
}
