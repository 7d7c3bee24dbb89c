package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/conversions-gateway/internal/ingest"
	"github.com/PratikDhanave/conversions-gateway/internal/models"
)

// Ingester runs one submission through the forwarding pipeline.
type Ingester interface {
	Ingest(ctx context.Context, sub ingest.Submission) (*ingest.Outcome, error)
}

// RegisterEventRoutes registers the ingestion endpoint.
//
// POST /events
// - JSON body, parsed regardless of Content-Type (sendBeacon posts text/plain)
// - an empty body falls back to the query string
//
// GET /events
// - image-beacon encoding of the same fields as query parameters;
//   identityFacts and attributes are URL-encoded JSON objects
//
// Idempotency precedence:
// 1) Idempotency-Key header
// 2) eventId in body or query
// 3) generated UUID
func RegisterEventRoutes(r gin.IRoutes, svc Ingester, maxBodyBytes int64) {
	r.POST("/events", func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, badRequestResponse("request body too large"))
				return
			}
			c.JSON(http.StatusBadRequest, badRequestResponse("unreadable request body"))
			return
		}

		if len(bytes.TrimSpace(body)) == 0 {
			serveQuery(c, svc)
			return
		}

		req, err := decodeBody(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, badRequestResponse("invalid JSON payload"))
			return
		}
		serve(c, svc, req, body)
	})

	r.GET("/events", func(c *gin.Context) {
		serveQuery(c, svc)
	})
}

func serveQuery(c *gin.Context, svc Ingester) {
	req := requestFromQuery(c)
	raw, _ := json.Marshal(req)
	serve(c, svc, req, raw)
}

func serve(c *gin.Context, svc Ingester, req models.EventIngestRequest, raw []byte) {
	eventID := c.GetHeader("Idempotency-Key")
	if eventID == "" {
		eventID = req.EventID
	}

	out, err := svc.Ingest(c.Request.Context(), ingest.Submission{
		IdentityToken:    req.IdentityToken,
		EventName:        req.EventName,
		IdempotencyToken: eventID,
		OccurrenceTime:   req.OccurrenceTime,
		SourceURL:        req.SourceURL,
		ActionSource:     req.ActionSource,
		IdentityFacts:    req.IdentityFacts,
		Attributes:       req.Attributes,
		RawPayload:       raw,
		ClientIP:         c.ClientIP(),
		UserAgent:        c.GetHeader("User-Agent"),
	})
	if err != nil {
		var ie *ingest.Error
		if !errors.As(err, &ie) {
			ie = &ingest.Error{Category: ingest.CategoryInternal, Message: "internal error"}
		}
		c.JSON(statusFor(ie.Category), models.EventIngestResponse{
			Reference: ie.Reference,
			EventID:   eventID,
			Error:     string(ie.Category),
			Message:   ie.Message,
		})
		return
	}

	c.JSON(http.StatusOK, models.EventIngestResponse{
		Success:   true,
		Reference: out.Reference,
		EventID:   out.IdempotencyToken,
	})
}

// bodyFields holds the POST payload before type checks. A field of the wrong
// type is dropped rather than failing the event; a wrong-typed identityToken or
// eventName therefore reads as missing.
type bodyFields struct {
	IdentityToken  json.RawMessage `json:"identityToken"`
	EventName      json.RawMessage `json:"eventName"`
	EventID        json.RawMessage `json:"eventId"`
	OccurrenceTime json.RawMessage `json:"occurrenceTime"`
	SourceURL      json.RawMessage `json:"sourceUrl"`
	ActionSource   json.RawMessage `json:"actionSource"`
	IdentityFacts  json.RawMessage `json:"identityFacts"`
	Attributes     json.RawMessage `json:"attributes"`
}

func decodeBody(body []byte) (models.EventIngestRequest, error) {
	var f bodyFields
	if err := json.Unmarshal(body, &f); err != nil {
		return models.EventIngestRequest{}, err
	}
	return models.EventIngestRequest{
		IdentityToken:  stringField(f.IdentityToken),
		EventName:      stringField(f.EventName),
		EventID:        stringField(f.EventID),
		OccurrenceTime: unixField(f.OccurrenceTime),
		SourceURL:      stringField(f.SourceURL),
		ActionSource:   stringField(f.ActionSource),
		IdentityFacts:  objectField(f.IdentityFacts),
		Attributes:     objectField(f.Attributes),
	}, nil
}

func stringField(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func objectField(raw json.RawMessage) map[string]any {
	var m map[string]any
	if json.Unmarshal(raw, &m) != nil {
		return nil
	}
	return m
}

// unixField accepts unix seconds as a JSON integer, an integral float or a
// numeric string.
func unixField(raw json.RawMessage) *int64 {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return parseUnix(s)
	}
	var n json.Number
	if json.Unmarshal(raw, &n) != nil {
		return nil
	}
	return parseUnix(n.String())
}

func parseUnix(v string) *int64 {
	v = strings.TrimSpace(v)
	if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
		return &ts
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
		return nil
	}
	ts := int64(f)
	return &ts
}

func requestFromQuery(c *gin.Context) models.EventIngestRequest {
	return models.EventIngestRequest{
		IdentityToken:  c.Query("identityToken"),
		EventName:      c.Query("eventName"),
		EventID:        c.Query("eventId"),
		OccurrenceTime: parseUnix(c.Query("occurrenceTime")),
		SourceURL:      c.Query("sourceUrl"),
		ActionSource:   c.Query("actionSource"),
		IdentityFacts:  queryObject(c, "identityFacts"),
		Attributes:     queryObject(c, "attributes"),
	}
}

// queryObject decodes a JSON object carried in a single query parameter.
func queryObject(c *gin.Context, name string) map[string]any {
	v := c.Query(name)
	if v == "" {
		return nil
	}
	return objectField(json.RawMessage(v))
}

func badRequestResponse(msg string) models.EventIngestResponse {
	return models.EventIngestResponse{Error: string(ingest.CategoryBadRequest), Message: msg}
}

// statusFor maps a failure category to its HTTP status. Identity problems are
// merchant configuration, so they are 4xx rather than gateway faults.
func statusFor(cat ingest.Category) int {
	switch cat {
	case ingest.CategoryBadRequest:
		return http.StatusBadRequest
	case ingest.CategoryUnknownIdentity, ingest.CategoryInactiveIdentity:
		return http.StatusUnprocessableEntity
	case ingest.CategoryUpstreamRejected, ingest.CategoryUpstreamMalformed:
		return http.StatusBadGateway
	case ingest.CategoryUpstreamUnreachable:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
