// Package forwarder submits canonical events to the upstream Conversions API.
//
// A Forward call is a single best-effort attempt. It never retries and always
// reports its result: either a *Result or an *Error carrying one of the
// upstream error kinds.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/PratikDhanave/conversions-gateway/internal/metrics"
	"github.com/PratikDhanave/conversions-gateway/internal/models"
)

// maxResponseBytes caps how much of an upstream body is read and preserved.
const maxResponseBytes = 64 << 10

// ErrInactiveBinding is returned, without any I/O, for a binding that has no
// credential.
var ErrInactiveBinding = errors.New("identity binding has no credential")

// ErrorKind classifies a failed forward.
type ErrorKind string

const (
	KindUnreachable ErrorKind = "UpstreamUnreachable"
	KindRejected    ErrorKind = "UpstreamRejected"
	KindMalformed   ErrorKind = "UpstreamMalformedResponse"
)

// APIError is one named, coded error from the upstream error body.
type APIError struct {
	Message      string `json:"message"`
	Type         string `json:"type,omitempty"`
	Code         int    `json:"code,omitempty"`
	ErrorSubcode int    `json:"error_subcode,omitempty"`
	FBTraceID    string `json:"fbtrace_id,omitempty"`
}

// Error is a failed forward. Body holds the upstream response verbatim when
// there was one.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Body       []byte
	APIErrors  []APIError
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Result is a successful forward.
type Result struct {
	StatusCode     int
	Body           json.RawMessage
	EventsReceived int
	TraceID        string
}

// Options configures a Client.
type Options struct {
	BaseURL       string
	APIVersion    string
	Timeout       time.Duration
	TestEventCode string
	// HTTPClient overrides the tuned default client; its Timeout is left as is.
	HTTPClient *http.Client
}

// Client is stateless apart from its connection pool and is safe for
// concurrent use.
type Client struct {
	baseURL       string
	apiVersion    string
	testEventCode string
	http          *http.Client
	logger        *zap.Logger
}

// New builds a Client. A zero Timeout falls back to 10s so a hanging upstream
// cannot hold a request open indefinitely.
func New(opts Options, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   3 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   100,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   3 * time.Second,
				ExpectContinueTimeout: time.Second,
			},
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		apiVersion:    strings.Trim(opts.APIVersion, "/"),
		testEventCode: opts.TestEventCode,
		http:          hc,
		logger:        logger.With(zap.String("component", "forwarder")),
	}
}

type serverEvent struct {
	EventName      string             `json:"event_name"`
	EventTime      int64              `json:"event_time"`
	EventID        string             `json:"event_id,omitempty"`
	ActionSource   string             `json:"action_source"`
	EventSourceURL string             `json:"event_source_url,omitempty"`
	UserData       map[string]string  `json:"user_data"`
	CustomData     *models.Attributes `json:"custom_data,omitempty"`
}

type batch struct {
	Data          []serverEvent `json:"data"`
	TestEventCode string        `json:"test_event_code,omitempty"`
}

type apiResponse struct {
	EventsReceived *int       `json:"events_received"`
	FBTraceID      string     `json:"fbtrace_id"`
	Error          *APIError  `json:"error"`
	Errors         []APIError `json:"errors"`
}

// Forward submits ev as a single-event batch under binding's credential.
func (c *Client) Forward(ctx context.Context, binding *models.Binding, ev models.CanonicalEvent) (*Result, error) {
	if !binding.Active() {
		return nil, ErrInactiveBinding
	}

	body, err := json.Marshal(c.buildBatch(ev))
	if err != nil {
		return nil, fmt.Errorf("encoding event: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/%s/events?%s",
		c.baseURL, c.apiVersion, url.PathEscape(binding.IdentityToken),
		url.Values{"access_token": {*binding.Credential}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	res, err := c.do(req)
	outcome := "success"
	var fe *Error
	if errors.As(err, &fe) {
		outcome = string(fe.Kind)
	}
	metrics.ForwardDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		c.logger.Warn("forward failed",
			zap.String("identity_token", binding.IdentityToken),
			zap.String("event_name", ev.Name),
			zap.String("credential", Redact(*binding.Credential)),
			zap.Error(err),
		)
		return nil, err
	}
	c.logger.Debug("forwarded",
		zap.String("identity_token", binding.IdentityToken),
		zap.String("event_name", ev.Name),
		zap.String("event_id", ev.IdempotencyToken),
		zap.String("fbtrace_id", res.TraceID),
	)
	return res, nil
}

func (c *Client) buildBatch(ev models.CanonicalEvent) batch {
	se := serverEvent{
		EventName:      ev.Name,
		EventTime:      ev.OccurrenceTime,
		EventID:        ev.IdempotencyToken,
		ActionSource:   ev.ActionSource,
		EventSourceURL: ev.SourceURL,
		UserData:       ev.Facts,
	}
	if se.ActionSource == "" {
		se.ActionSource = "website"
	}
	if se.UserData == nil {
		se.UserData = map[string]string{}
	}
	if !ev.Attributes.IsZero() {
		attrs := ev.Attributes
		se.CustomData = &attrs
	}
	return batch{Data: []serverEvent{se}, TestEventCode: c.testEventCode}
}

func (c *Client) do(req *http.Request) (*Result, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, Message: transportMessage(err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Kind: KindUnreachable, StatusCode: resp.StatusCode, Message: transportMessage(err)}
	}

	var parsed apiResponse
	structured := bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) && json.Unmarshal(raw, &parsed) == nil
	apiErrs := parsed.Errors
	if parsed.Error != nil {
		apiErrs = append([]APIError{*parsed.Error}, apiErrs...)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	switch {
	case structured && len(apiErrs) > 0:
		return nil, &Error{
			Kind:       KindRejected,
			StatusCode: resp.StatusCode,
			Message:    apiErrs[0].Message,
			Body:       raw,
			APIErrors:  apiErrs,
		}
	case ok && structured:
		res := &Result{StatusCode: resp.StatusCode, Body: raw, TraceID: parsed.FBTraceID}
		if parsed.EventsReceived != nil {
			res.EventsReceived = *parsed.EventsReceived
		}
		return res, nil
	default:
		return nil, &Error{
			Kind:       KindMalformed,
			StatusCode: resp.StatusCode,
			Message:    "unexpected upstream response",
			Body:       raw,
		}
	}
}

// transportMessage drops the request URL from client errors; it carries the
// credential as a query parameter.
func transportMessage(err error) string {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Op + ": " + ue.Err.Error()
	}
	return err.Error()
}

// Redact keeps only the ends of a credential.
func Redact(credential string) string {
	r := []rune(credential)
	if len(r) <= 8 {
		return strings.Repeat("*", len(r))
	}
	return string(r[:4]) + "…" + string(r[len(r)-4:])
}
