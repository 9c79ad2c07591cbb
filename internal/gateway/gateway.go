// Package gateway is the single chokepoint for requests to the attendance backend.
//
// It attaches the stored bearer credential, classifies every failure into a
// Kind, and emits exactly one user notification per failed call.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/attendance/internal/credential"
	"example.com/attendance/internal/notify"
)

// DefaultTimeout bounds every call unless overridden with WithTimeout.
const DefaultTimeout = 10 * time.Second

const maxResponseBytes = 4 << 20

// UnauthenticatedHandler is invoked when a call that carried token receives a 401.
type UnauthenticatedHandler func(ctx context.Context, token string)

// Option configures optional behaviour for the Gateway.
type Option func(*Gateway)

// WithTimeout overrides the bounded wait applied to every call.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithNotifier sets the notification channel.
func WithNotifier(n notify.Notifier) Option {
	return func(g *Gateway) {
		g.notifier = n
	}
}

// WithLogger overrides the logger used to report failures.
func WithLogger(logger *log.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithHTTPClient replaces the transport client. Its own Timeout is left untouched.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) {
		g.client = client
	}
}

// Gateway issues JSON requests against a fixed base origin.
type Gateway struct {
	baseURL  string
	store    credential.Store
	client   *http.Client
	timeout  time.Duration
	notifier notify.Notifier
	logger   *log.Logger

	mu                sync.RWMutex
	onUnauthenticated UnauthenticatedHandler
}

// New constructs a Gateway reading the bearer credential from store.
func New(baseURL string, store credential.Store, opts ...Option) *Gateway {
	g := &Gateway{
		baseURL:  strings.TrimRight(baseURL, "/"),
		store:    store,
		client:   &http.Client{},
		timeout:  DefaultTimeout,
		notifier: notify.Discard,
		logger:   log.New(log.Writer(), "[gateway] ", log.LstdFlags|log.Lshortfile),
	}
	g.onUnauthenticated = g.clearIfCurrent
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// BaseURL returns the configured origin.
func (g *Gateway) BaseURL() string { return g.baseURL }

// OnUnauthenticated replaces the handler run after a 401 on an authenticated call.
func (g *Gateway) OnUnauthenticated(h UnauthenticatedHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if h == nil {
		h = g.clearIfCurrent
	}
	g.onUnauthenticated = h
}

type callOptions struct {
	quiet bool
}

// CallOption tunes a single call.
type CallOption func(*callOptions)

// Quiet suppresses the user notification for a failed call.
func Quiet() CallOption {
	return func(o *callOptions) { o.quiet = true }
}

// Call sends body as JSON to path and decodes a successful response into out.
// Either argument may be nil. Failures are returned as *Error, except when the
// caller's own context ends first, in which case the context error is returned
// without a notification.
func (g *Gateway) Call(ctx context.Context, method, path string, body, out any, opts ...CallOption) error {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}

	start := time.Now()
	err := g.do(ctx, method, path, body, out)
	callDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

	if err == nil {
		callCounter.WithLabelValues(method, "ok").Inc()
		return nil
	}

	var gwErr *Error
	if !errors.As(err, &gwErr) {
		callCounter.WithLabelValues(method, "cancelled").Inc()
		return err
	}

	callCounter.WithLabelValues(method, string(gwErr.Kind)).Inc()
	g.logger.Printf("%s %s failed: %v", method, path, gwErr)
	if !co.quiet {
		g.announce(gwErr)
	}
	return gwErr
}

func (g *Gateway) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindUnknown, Message: "An unexpected error occurred", Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, method, g.baseURL+path, reader)
	if err != nil {
		return &Error{Kind: KindUnknown, Message: "An unexpected error occurred", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token := credential.Token(ctx, g.store)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Kind: KindUnreachable, Message: unreachableMessage(g.baseURL), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Kind: KindUnreachable, Status: resp.StatusCode, Message: unreachableMessage(g.baseURL), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind, message := classifyStatus(resp.StatusCode, serverMessage(raw))
		if kind == KindUnauthenticated && token != "" {
			g.unauthenticated(context.WithoutCancel(ctx), token)
		}
		return &Error{Kind: kind, Status: resp.StatusCode, Message: message}
	}

	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return &Error{
				Kind:    KindUnknown,
				Status:  resp.StatusCode,
				Message: "Unexpected response from server",
				Err:     fmt.Errorf("decode %s %s: %w", method, path, err),
			}
		}
	}
	return nil
}

func (g *Gateway) unauthenticated(ctx context.Context, token string) {
	g.mu.RLock()
	handler := g.onUnauthenticated
	g.mu.RUnlock()
	handler(ctx, token)
}

// clearIfCurrent erases the stored credential unless it was replaced after the
// failing request was sent.
func (g *Gateway) clearIfCurrent(ctx context.Context, token string) {
	if credential.Token(ctx, g.store) != token {
		return
	}
	if err := g.store.Clear(ctx); err != nil {
		g.logger.Printf("clear credential: %v", err)
	}
}

func (g *Gateway) announce(err *Error) {
	level := notify.LevelError
	if err.Kind == KindUnauthenticated {
		level = notify.LevelWarning
	}
	notificationCounter.WithLabelValues(string(err.Kind)).Inc()
	g.notifier.Notify(notify.Notification{
		Level:   level,
		Message: err.Message,
		Kind:    string(err.Kind),
		At:      time.Now().UTC(),
	})
}

// serverMessage extracts a human-readable message from an error body.
func serverMessage(raw []byte) string {
	var payload struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	switch {
	case payload.Message != "":
		return payload.Message
	case payload.Detail != "":
		return payload.Detail
	default:
		return payload.Error
	}
}
