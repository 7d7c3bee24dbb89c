// Package ingest runs one conversion event through identity resolution,
// privacy normalization, event mapping, forwarding and audit logging.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PratikDhanave/conversions-gateway/internal/forwarder"
	"github.com/PratikDhanave/conversions-gateway/internal/mapper"
	"github.com/PratikDhanave/conversions-gateway/internal/metrics"
	"github.com/PratikDhanave/conversions-gateway/internal/models"
	"github.com/PratikDhanave/conversions-gateway/internal/privacy"
	"github.com/PratikDhanave/conversions-gateway/internal/store"
)

// AuditLog opens a record before forwarding and closes it with the outcome.
type AuditLog interface {
	Open(ctx context.Context, e store.AuditEntry) (string, error)
	Close(ctx context.Context, id string, outcome models.AuditOutcome) error
}

// Forwarder submits one canonical event upstream.
type Forwarder interface {
	Forward(ctx context.Context, binding *models.Binding, ev models.CanonicalEvent) (*forwarder.Result, error)
}

// Submission is one inbound event, already decoded from its wire encoding.
type Submission struct {
	IdentityToken    string
	EventName        string
	IdempotencyToken string
	OccurrenceTime   *int64
	SourceURL        string
	ActionSource     string
	IdentityFacts    map[string]any
	Attributes       map[string]any
	RawPayload       []byte

	// Request metadata used when the facts carry no user agent or address.
	ClientIP  string
	UserAgent string
}

// Outcome is a successfully forwarded event.
type Outcome struct {
	Reference        string
	EventName        string
	IdempotencyToken string
	Upstream         json.RawMessage
}

// Service is the ingestion pipeline. It holds no per-request state.
type Service struct {
	identities store.IdentityResolver
	audit      AuditLog
	forwarder  Forwarder
	logger     *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewService wires the pipeline.
func NewService(identities store.IdentityResolver, audit AuditLog, fwd Forwarder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		identities: identities,
		audit:      audit,
		forwarder:  fwd,
		logger:     logger.With(zap.String("component", "ingest")),
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
	}
}

// Ingest processes one submission end to end. Failures are returned as *Error.
//
// Once the submission is accepted the pipeline runs detached from ctx's
// cancellation, so a client that disconnects mid-request still leaves a
// terminal audit record behind.
func (s *Service) Ingest(ctx context.Context, sub Submission) (*Outcome, error) {
	out, err := s.ingest(context.WithoutCancel(ctx), sub)
	category := "Success"
	var ie *Error
	if errors.As(err, &ie) {
		category = string(ie.Category)
	}
	metrics.IngestTotal.WithLabelValues(category).Inc()
	return out, err
}

func (s *Service) ingest(ctx context.Context, sub Submission) (*Outcome, error) {
	token := strings.TrimSpace(sub.IdentityToken)
	name := strings.TrimSpace(sub.EventName)
	if token == "" {
		return nil, badRequest("identityToken is required")
	}
	if name == "" {
		return nil, badRequest("eventName is required")
	}
	if sub.OccurrenceTime != nil && *sub.OccurrenceTime <= 0 {
		return nil, badRequest("occurrenceTime must be a positive unix timestamp in seconds")
	}

	ev := mapper.Map(name, sub.Attributes)
	ev.IdentityToken = token
	ev.Facts = privacy.Normalize(sub.IdentityFacts)
	fillFact(ev.Facts, privacy.KeyClientIP, sub.ClientIP)
	fillFact(ev.Facts, privacy.KeyUserAgent, sub.UserAgent)
	ev.SourceURL = sub.SourceURL
	ev.ActionSource = sub.ActionSource
	ev.IdempotencyToken = strings.TrimSpace(sub.IdempotencyToken)
	if ev.IdempotencyToken == "" {
		ev.IdempotencyToken = s.newID()
	}
	ev.OccurrenceTime = s.now().Unix()
	if sub.OccurrenceTime != nil {
		ev.OccurrenceTime = *sub.OccurrenceTime
	}

	log := s.logger.With(
		zap.String("identity_token", token),
		zap.String("event_name", ev.Name),
		zap.String("event_id", ev.IdempotencyToken),
	)

	entry := store.AuditEntry{
		IdentityToken:    token,
		EventName:        ev.Name,
		IdempotencyToken: ev.IdempotencyToken,
		RawPayload:       sub.RawPayload,
	}

	binding, err := s.identities.Resolve(ctx, token)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, s.reject(ctx, log, entry, &Error{
			Category: CategoryUnknownIdentity,
			Message:  "identity token is not registered with this gateway",
		})
	case err != nil:
		log.Error("identity resolution failed", zap.Error(err))
		return nil, s.reject(ctx, log, entry, &Error{
			Category: CategoryInternal,
			Message:  "identity store unavailable, retry later",
			Err:      err,
		})
	case !binding.Active():
		return nil, s.reject(ctx, log, entry, &Error{
			Category: CategoryInactiveIdentity,
			Message:  "identity token has no forwarding credential configured",
		})
	}

	id, err := s.audit.Open(ctx, entry)
	if err != nil {
		log.Error("opening audit record failed", zap.Error(err))
		return nil, &Error{Category: CategoryInternal, Message: "audit log unavailable, retry later", Err: err}
	}
	log = log.With(zap.String("audit_id", id))

	res, ferr := s.forward(ctx, binding, ev)
	if ferr != nil {
		ie := classify(ferr)
		ie.Reference = id
		s.close(ctx, log, id, models.AuditOutcome{
			Status: models.AuditForwardedError,
			Detail: errorDetail(ie, ferr, *binding.Credential),
		})
		log.Warn("event not forwarded", zap.String("category", string(ie.Category)), zap.Error(ferr))
		return nil, ie
	}

	s.close(ctx, log, id, models.AuditOutcome{
		Status: models.AuditForwardedSuccess,
		Detail: successDetail(res, *binding.Credential),
	})
	log.Info("event forwarded", zap.Int("upstream_status", res.StatusCode))
	return &Outcome{
		Reference:        id,
		EventName:        ev.Name,
		IdempotencyToken: ev.IdempotencyToken,
		Upstream:         res.Body,
	}, nil
}

// forward calls the forwarder and turns a panic into an unreachable error so
// the audit record still gets closed.
func (s *Service) forward(ctx context.Context, binding *models.Binding, ev models.CanonicalEvent) (res *forwarder.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = &forwarder.Error{Kind: forwarder.KindUnreachable, Message: fmt.Sprintf("forwarder panic: %v", r)}
		}
	}()
	return s.forwarder.Forward(ctx, binding, ev)
}

// reject records an identity failure as an opened-and-closed audit record.
func (s *Service) reject(ctx context.Context, log *zap.Logger, entry store.AuditEntry, ie *Error) *Error {
	id, err := s.audit.Open(ctx, entry)
	if err != nil {
		log.Error("opening audit record failed", zap.String("category", string(ie.Category)), zap.Error(err))
		return ie
	}
	ie.Reference = id
	s.close(ctx, log.With(zap.String("audit_id", id)), id, models.AuditOutcome{
		Status: models.AuditForwardedError,
		Detail: map[string]any{"category": ie.Category, "message": ie.Message},
	})
	log.Info("event rejected", zap.String("category", string(ie.Category)))
	return ie
}

func (s *Service) close(ctx context.Context, log *zap.Logger, id string, outcome models.AuditOutcome) {
	if err := s.audit.Close(ctx, id, outcome); err != nil {
		log.Error("closing audit record failed", zap.String("status", string(outcome.Status)), zap.Error(err))
	}
}

func classify(err error) *Error {
	var fe *forwarder.Error
	if errors.As(err, &fe) {
		switch fe.Kind {
		case forwarder.KindRejected:
			return &Error{Category: CategoryUpstreamRejected, Message: fe.Message, Err: err}
		case forwarder.KindMalformed:
			return &Error{Category: CategoryUpstreamMalformed, Message: "unexpected upstream response", Err: err}
		default:
			return &Error{Category: CategoryUpstreamUnreachable, Message: "upstream unreachable, retry later", Err: err}
		}
	}
	if errors.Is(err, forwarder.ErrInactiveBinding) {
		return &Error{Category: CategoryInactiveIdentity, Message: "identity token has no forwarding credential configured", Err: err}
	}
	return &Error{Category: CategoryInternal, Message: "event could not be forwarded", Err: err}
}

func successDetail(res *forwarder.Result, credential string) map[string]any {
	return map[string]any{
		"upstreamStatus": res.StatusCode,
		"response":       bodyValue(res.Body),
		"credential":     forwarder.Redact(credential),
	}
}

func errorDetail(ie *Error, err error, credential string) map[string]any {
	d := map[string]any{
		"category":   ie.Category,
		"message":    ie.Message,
		"credential": forwarder.Redact(credential),
	}
	var fe *forwarder.Error
	if errors.As(err, &fe) {
		d["error"] = fe.Message
		if fe.StatusCode != 0 {
			d["upstreamStatus"] = fe.StatusCode
		}
		if len(fe.Body) > 0 {
			d["response"] = bodyValue(fe.Body)
		}
		if len(fe.APIErrors) > 0 {
			d["errors"] = fe.APIErrors
		}
	} else {
		d["error"] = err.Error()
	}
	return d
}

func fillFact(facts map[string]string, key, v string) {
	if v = strings.TrimSpace(v); v != "" && facts[key] == "" {
		facts[key] = v
	}
}

// bodyValue keeps JSON bodies as JSON and everything else as a string.
func bodyValue(b []byte) any {
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	return string(b)
}
