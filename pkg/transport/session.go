package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/d365fo/d365fo-client-go/internal/errors"
	"github.com/d365fo/d365fo-client-go/pkg/auth"
)

const (
	defaultAccept  = "application/json;odata.metadata=minimal"
	metadataAccept = "application/xml"
)

var (
	tracer = otel.Tracer("github.com/d365fo/d365fo-client-go/pkg/transport")
	meter  = otel.Meter("github.com/d365fo/d365fo-client-go/pkg/transport")

	requestDuration, _ = meter.Float64Histogram("d365fo.http.request.duration",
		metric.WithDescription("End-to-end duration of Session.Do, retries included"),
		metric.WithUnit("s"))
)

// Request is one outbound HTTP call through the Session.
type Request struct {
	Method  string
	URL     string
	Body    []byte
	Headers map[string]string
}

// Response is the terminal (non-retried, non-error) result of a Request.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Session is the pooled HTTP client every API call goes through. It injects
// bearer tokens, defaults the Accept header, retries 429/503 with capped
// exponential backoff, refreshes once and retries on 401, and trips a
// circuit breaker when the retry loop as a whole keeps failing.
type Session struct {
	cfg      Config
	client   *http.Client
	provider auth.Provider
	breaker  *gobreaker.CircuitBreaker
	sem      chan struct{}
}

// NewSession builds a Session for cfg.BaseURL, authenticating via provider.
// A pooled *http.Client honoring cfg.VerifySSL/TimeoutSeconds is created
// unless httpClient is non-nil (tests may supply their own transport).
func NewSession(cfg Config, provider auth.Provider, httpClient *http.Client) *Session {
	if httpClient == nil {
		transport := &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		}
		if !cfg.VerifySSL {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // caller opted out explicitly via profile.verify_ssl
		}
		httpClient = &http.Client{Transport: transport, Timeout: cfg.timeout()}
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "d365fo-http:" + cfg.BaseURL,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Session{
		cfg:      cfg,
		client:   httpClient,
		provider: provider,
		breaker:  breaker,
		sem:      make(chan struct{}, cfg.maxConcurrent()),
	}
}

// Close releases pooled idle connections. Safe to call even when the
// Session was built with a caller-supplied *http.Client (e.g. in tests),
// since CloseIdleConnections is a no-op for transports that don't track any.
func (s *Session) Close() {
	s.client.CloseIdleConnections()
}

// Do executes req, applying auth, retry, and circuit-breaking. It returns a
// *Response for any status code the breaker's retry loop settled on;
// non-2xx/3xx statuses that the caller must branch on (404, 409, 400, ...)
// are NOT turned into errors here — that classification is the CRUD/
// metadata layer's job, since the right AppError kind depends on the
// operation being performed. Do itself only turns terminal transport
// failures (breaker open, context cancellation, exhausted retries on
// 429/503) into errors.
func (s *Session) Do(ctx context.Context, req Request) (*Response, error) {
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return nil, apperrors.Wrap(ctx.Err(), apperrors.ErrorTypeTimeout, "request cancelled while waiting for a connection slot")
	}

	ctx, span := tracer.Start(ctx, "transport.Do", trace.WithAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("http.url", req.URL),
	))
	defer span.End()

	start := time.Now()
	v, err := s.breaker.Execute(func() (any, error) {
		return s.doWithRetry(ctx, req)
	})
	requestDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("http.method", req.Method),
		attribute.Bool("error", err != nil),
	))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	resp := v.(*Response)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp, nil
}

func (s *Session) doWithRetry(ctx context.Context, req Request) (*Response, error) {
	refreshedOnce := false

	for attempt := 1; attempt <= retryMaxAttempt; attempt++ {
		resp, err := s.doOnce(ctx, req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusUnauthorized && !refreshedOnce {
			refreshedOnce = true
			s.provider.Invalidate(s.cfg.BaseURL)
			continue
		}

		if isRetryableStatus(resp.StatusCode) && attempt < retryMaxAttempt {
			select {
			case <-time.After(backoffDelay(attempt)):
			case <-ctx.Done():
				return nil, apperrors.Wrap(ctx.Err(), apperrors.ErrorTypeTimeout, "request cancelled during retry backoff")
			}
			continue
		}

		return resp, nil
	}

	return nil, apperrors.New(apperrors.ErrorTypeRateLimit, fmt.Sprintf("exhausted %d retry attempts", retryMaxAttempt))
}

func (s *Session) doOnce(ctx context.Context, r Request) (*Response, error) {
	var bodyReader io.Reader
	if r.Body != nil {
		bodyReader = bytes.NewReader(r.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, r.Method, r.URL, bodyReader)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "failed to build HTTP request")
	}

	httpReq.Header.Set("Accept", acceptHeaderFor(r.URL))
	for k, v := range r.Headers {
		httpReq.Header.Set(k, v)
	}
	if r.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	tok, err := s.provider.Token(ctx, s.cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "HTTP request failed")
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "failed to read response body")
	}

	return &Response{StatusCode: httpResp.StatusCode, Body: body, Header: httpResp.Header}, nil
}

// acceptHeaderFor defaults to defaultAccept, switching to metadataAccept
// only for the raw OData $metadata document.
func acceptHeaderFor(url string) string {
	if strings.Contains(url, "$metadata") {
		return metadataAccept
	}
	return defaultAccept
}
