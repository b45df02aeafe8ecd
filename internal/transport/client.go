// Package transport sends API calls to the hospital directory backend. Every
// call passes through the same request and response stages: credentials are
// attached on the way out, and the response is classified into an Outcome
// whose user-visible effects are applied before the caller sees it.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benvon/hospital-portal/internal/effects"
	"github.com/benvon/hospital-portal/internal/logger"
	"github.com/benvon/hospital-portal/internal/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	// RequestIDHeader carries a per-call correlation id
	RequestIDHeader = "X-Request-ID"
	// DefaultTimeout bounds every call
	DefaultTimeout = 30 * time.Second
	// DefaultLoginPath is where a forced logout lands
	DefaultLoginPath = "/login"

	maxResponseBytes = 8 << 20
	tracerName       = "github.com/benvon/hospital-portal/internal/transport"
)

// Credentials is the slice of the credential store the pipeline needs
type Credentials interface {
	Token(ctx context.Context) (string, error)
	Clear(ctx context.Context) error
}

// File is a multipart upload part
type File struct {
	Field    string
	FileName string
	Content  io.Reader
}

// Envelope describes one outbound call
type Envelope struct {
	Method    string
	Path      string // relative to the base URL, e.g. "/user/info"
	Query     url.Values
	Header    http.Header
	Body      any   // JSON encoded when non-nil
	Multipart *File // takes precedence over Body
}

// Options configures a Client
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	LoginPath  string
	HTTPClient *http.Client
	Progress   effects.Progress
	Notifier   effects.Notifier
	Redirector effects.Redirector
	Metrics    *metrics.Recorder
	Logger     *zap.Logger
}

// Client is the interceptor pipeline around an *http.Client
type Client struct {
	baseURL    string
	timeout    time.Duration
	loginPath  string
	http       *http.Client
	creds      Credentials
	progress   effects.Progress
	notifier   effects.Notifier
	redirector effects.Redirector
	metrics    *metrics.Recorder
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewClient creates a pipeline bound to a credential store
func NewClient(creds Credentials, opts Options) (*Client, error) {
	if creds == nil {
		return nil, errors.New("credential store is required")
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", opts.BaseURL)
	}

	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		timeout:    opts.Timeout,
		loginPath:  opts.LoginPath,
		http:       opts.HTTPClient,
		creds:      creds,
		progress:   opts.Progress,
		notifier:   opts.Notifier,
		redirector: opts.Redirector,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		tracer:     otel.Tracer(tracerName),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.loginPath == "" {
		c.loginPath = DefaultLoginPath
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.progress == nil {
		c.progress = effects.NopProgress{}
	}
	if c.notifier == nil {
		c.notifier = effects.NopNotifier{}
	}
	if c.redirector == nil {
		c.redirector = effects.NopRedirector{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

// Send runs one call through the pipeline. The returned error is
// Outcome.Err(); failures have already been shown to the user. Progress is
// stopped before any notification or redirect happens.
func (c *Client) Send(ctx context.Context, env Envelope) (Outcome, error) {
	c.progress.Start()
	stop := sync.OnceFunc(c.progress.Done)
	defer stop()

	ctx, span := c.tracer.Start(ctx, "portal.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", env.Method),
			attribute.String("url.path", env.Path),
		),
	)
	defer span.End()

	outcome := c.roundTrip(ctx, env)
	stop()
	span.SetAttributes(attribute.String("portal.outcome", outcome.Kind.String()))
	if outcome.Status != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", outcome.Status))
	}
	if !outcome.OK() {
		span.SetStatus(codes.Error, outcome.Message)
	}

	c.apply(ctx, env, outcome)
	return outcome, outcome.Err()
}

// Do sends env and decodes the data field of a successful response into out
func (c *Client) Do(ctx context.Context, env Envelope, out any) error {
	outcome, err := c.Send(ctx, env)
	if err != nil {
		return err
	}
	if out == nil || len(outcome.Data) == 0 || bytes.Equal(outcome.Data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(outcome.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", env.Path, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, env Envelope) Outcome {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, env)
	if err != nil {
		return Outcome{Kind: KindTransportError, Reason: ReasonRequest, Message: MsgRequestFailed, Cause: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Classify(0, nil, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Classify(0, nil, err)
	}
	return Classify(resp.StatusCode, body, nil)
}

func (c *Client) newRequest(ctx context.Context, env Envelope) (*http.Request, error) {
	method := env.Method
	if method == "" {
		method = http.MethodGet
	}

	target := c.baseURL + "/" + strings.TrimLeft(env.Path, "/")
	if len(env.Query) > 0 {
		target += "?" + env.Query.Encode()
	}

	body, contentType, err := encodeBody(env)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range env.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, uuid.NewString())

	// A store that cannot be read is treated as signed out; the server decides.
	tok, err := c.creds.Token(ctx)
	if err != nil {
		c.logger.Debug("credential_read_failed", zap.String("error", logger.SanitizeError(err)))
	}
	if tok != "" {
		(&oauth2.Token{AccessToken: tok, TokenType: "Bearer"}).SetAuthHeader(req)
	}

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req, nil
}

func encodeBody(env Envelope) (io.Reader, string, error) {
	if f := env.Multipart; f != nil {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		field := f.Field
		if field == "" {
			field = "file"
		}
		part, err := mw.CreateFormFile(field, f.FileName)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return nil, "", fmt.Errorf("failed to read upload: %w", err)
		}
		if err := mw.Close(); err != nil {
			return nil, "", fmt.Errorf("failed to finish multipart body: %w", err)
		}
		return &buf, mw.FormDataContentType(), nil
	}
	if env.Body == nil {
		return nil, "", nil
	}
	b, err := json.Marshal(env.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode request body: %w", err)
	}
	return bytes.NewReader(b), "application/json", nil
}

// apply performs the effects an outcome asks for
func (c *Client) apply(ctx context.Context, env Envelope, o Outcome) {
	reason := string(o.Reason)
	if reason == "" {
		reason = "none"
	}
	c.metrics.Outcome(o.Kind.String(), reason)
	if o.OK() {
		return
	}

	fields := []zap.Field{
		zap.String("method", env.Method),
		zap.String("path", logger.SanitizePath(env.Path)),
		zap.String("kind", o.Kind.String()),
		zap.Int("status", o.Status),
		zap.Int("code", o.Code),
	}
	if o.Cause != nil {
		fields = append(fields, zap.String("error", logger.SanitizeError(o.Cause)))
	}
	c.logger.Warn("api_call_failed", fields...)
	c.notifier.Error(o.Message)

	if o.ForceLogout {
		// A 401 is authoritative even if the caller has since gone away.
		if err := c.creds.Clear(context.WithoutCancel(ctx)); err != nil {
			c.logger.Error("forced_logout_clear_failed", zap.String("error", logger.SanitizeError(err)))
		}
		c.metrics.Transition("forced_logout")
		c.logger.Info("forced_logout", zap.String("path", logger.SanitizePath(env.Path)))
		c.redirector.Redirect(c.loginPath)
	}
}
