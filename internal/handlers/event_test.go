package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/conversions-gateway/internal/ingest"
	"github.com/PratikDhanave/conversions-gateway/internal/models"
)

type fakeIngester struct {
	got   []ingest.Submission
	err   error
	refID string
}

func (f *fakeIngester) Ingest(_ context.Context, sub ingest.Submission) (*ingest.Outcome, error) {
	f.got = append(f.got, sub)
	if f.err != nil {
		return nil, f.err
	}
	id := sub.IdempotencyToken
	if id == "" {
		id = "generated"
	}
	return &ingest.Outcome{Reference: f.refID, EventName: sub.EventName, IdempotencyToken: id}, nil
}

func newEventRouter(svc Ingester) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterEventRoutes(r, svc, 1024)
	return r
}

func doRequest(r http.Handler, req *http.Request) (*httptest.ResponseRecorder, models.EventIngestResponse) {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var resp models.EventIngestResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestPostEvents_Success(t *testing.T) {
	svc := &fakeIngester{refID: "rec-1"}
	r := newEventRouter(svc)

	body := `{"identityToken":"tok_456","eventName":"product_added_to_cart","eventId":"evt-1",
		"occurrenceTime":1710000000,"identityFacts":{"email":"a@b.c"},"attributes":{"value":"9.99"}}`
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	req.Header.Set("User-Agent", "TestUA/1.0")

	w, resp := doRequest(r, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "rec-1", resp.Reference)
	assert.Equal(t, "evt-1", resp.EventID)

	require.Len(t, svc.got, 1)
	sub := svc.got[0]
	assert.Equal(t, "tok_456", sub.IdentityToken)
	assert.Equal(t, "product_added_to_cart", sub.EventName)
	require.NotNil(t, sub.OccurrenceTime)
	assert.Equal(t, int64(1710000000), *sub.OccurrenceTime)
	assert.Equal(t, "a@b.c", sub.IdentityFacts["email"])
	assert.Equal(t, "9.99", sub.Attributes["value"])
	assert.Equal(t, "TestUA/1.0", sub.UserAgent)
	assert.NotEmpty(t, sub.ClientIP)
	assert.JSONEq(t, body, string(sub.RawPayload))
}

func TestPostEvents_TextPlainBeacon(t *testing.T) {
	svc := &fakeIngester{}
	r := newEventRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/events",
		strings.NewReader(`{"identityToken":"tok","eventName":"PageView"}`))
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")

	w, _ := doRequest(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, svc.got, 1)
	assert.Equal(t, "PageView", svc.got[0].EventName)
}

func TestPostEvents_IdempotencyKeyHeaderWins(t *testing.T) {
	svc := &fakeIngester{}
	r := newEventRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/events",
		strings.NewReader(`{"identityToken":"tok","eventName":"PageView","eventId":"from-body"}`))
	req.Header.Set("Idempotency-Key", "from-header")

	w, resp := doRequest(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "from-header", svc.got[0].IdempotencyToken)
	assert.Equal(t, "from-header", resp.EventID)
}

func TestPostEvents_InvalidJSON(t *testing.T) {
	svc := &fakeIngester{}
	r := newEventRouter(svc)

	w, resp := doRequest(r, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`{"identityToken":`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "BadRequest", resp.Error)
	assert.Empty(t, svc.got)
}

func TestPostEvents_BodyTooLarge(t *testing.T) {
	svc := &fakeIngester{}
	r := newEventRouter(svc)

	big := `{"identityToken":"tok","eventName":"PageView","attributes":{"x":"` + strings.Repeat("a", 2048) + `"}}`
	w, resp := doRequest(r, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(big)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "BadRequest", resp.Error)
	assert.Empty(t, svc.got)
}

func TestPostEvents_EmptyBodyFallsBackToQuery(t *testing.T) {
	svc := &fakeIngester{}
	r := newEventRouter(svc)

	w, _ := doRequest(r, httptest.NewRequest(http.MethodPost, "/events?identityToken=tok&eventName=PageView", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, svc.got, 1)
	assert.Equal(t, "tok", svc.got[0].IdentityToken)
}

func TestGetEvents_ImageBeacon(t *testing.T) {
	svc := &fakeIngester{refID: "rec-9"}
	r := newEventRouter(svc)

	q := url.Values{}
	q.Set("identityToken", "tok_456")
	q.Set("eventName", "search_submitted")
	q.Set("eventId", "evt-q")
	q.Set("occurrenceTime", "1710000000")
	q.Set("identityFacts", `{"email":"a@b.c"}`)
	q.Set("attributes", `{"searchResult":{"query":"mugs"}}`)

	w, resp := doRequest(r, httptest.NewRequest(http.MethodGet, "/events?"+q.Encode(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "rec-9", resp.Reference)

	sub := svc.got[0]
	assert.Equal(t, "evt-q", sub.IdempotencyToken)
	require.NotNil(t, sub.OccurrenceTime)
	assert.Equal(t, int64(1710000000), *sub.OccurrenceTime)
	assert.Equal(t, "a@b.c", sub.IdentityFacts["email"])
	assert.Equal(t, map[string]any{"query": "mugs"}, sub.Attributes["searchResult"])

	var raw models.EventIngestRequest
	require.NoError(t, json.Unmarshal(sub.RawPayload, &raw))
	assert.Equal(t, "search_submitted", raw.EventName)
}

func TestGetEvents_MalformedOptionalFieldsDropped(t *testing.T) {
	svc := &fakeIngester{}
	r := newEventRouter(svc)

	query := "identityToken=tok&eventName=PageView&occurrenceTime=yesterday&identityFacts=email&attributes=%5B1%5D"
	w, _ := doRequest(r, httptest.NewRequest(http.MethodGet, "/events?"+query, nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, svc.got, 1)
	assert.Nil(t, svc.got[0].OccurrenceTime)
	assert.Nil(t, svc.got[0].IdentityFacts)
	assert.Nil(t, svc.got[0].Attributes)
}

func TestPostEvents_MalformedOptionalFieldsDropped(t *testing.T) {
	cases := map[string]struct {
		body  string
		check func(t *testing.T, sub ingest.Submission)
	}{
		"identityFacts string": {
			body: `{"identityToken":"tok","eventName":"PageView","identityFacts":"x","attributes":{"value":1}}`,
			check: func(t *testing.T, sub ingest.Submission) {
				assert.Nil(t, sub.IdentityFacts)
				assert.Equal(t, map[string]any{"value": 1.0}, sub.Attributes)
			},
		},
		"attributes array": {
			body: `{"identityToken":"tok","eventName":"PageView","attributes":[1],"identityFacts":{"email":"a@b.c"}}`,
			check: func(t *testing.T, sub ingest.Submission) {
				assert.Nil(t, sub.Attributes)
				assert.Equal(t, "a@b.c", sub.IdentityFacts["email"])
			},
		},
		"occurrenceTime object": {
			body: `{"identityToken":"tok","eventName":"PageView","occurrenceTime":{"s":1}}`,
			check: func(t *testing.T, sub ingest.Submission) {
				assert.Nil(t, sub.OccurrenceTime)
			},
		},
		"fractional occurrenceTime": {
			body: `{"identityToken":"tok","eventName":"PageView","occurrenceTime":1700000000.5}`,
			check: func(t *testing.T, sub ingest.Submission) {
				assert.Nil(t, sub.OccurrenceTime)
			},
		},
		"eventId number": {
			body: `{"identityToken":"tok","eventName":"PageView","eventId":42,"sourceUrl":true}`,
			check: func(t *testing.T, sub ingest.Submission) {
				assert.Empty(t, sub.IdempotencyToken)
				assert.Empty(t, sub.SourceURL)
			},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &fakeIngester{}
			r := newEventRouter(svc)

			w, resp := doRequest(r, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(tc.body)))
			require.Equal(t, http.StatusOK, w.Code)
			assert.True(t, resp.Success)
			require.Len(t, svc.got, 1)
			assert.Equal(t, "tok", svc.got[0].IdentityToken)
			tc.check(t, svc.got[0])
		})
	}
}

func TestPostEvents_OccurrenceTimeForms(t *testing.T) {
	for name, value := range map[string]string{
		"integer":        `1700000000`,
		"numeric string": `"1700000000"`,
		"integral float": `1.7e9`,
	} {
		t.Run(name, func(t *testing.T) {
			svc := &fakeIngester{}
			r := newEventRouter(svc)

			body := `{"identityToken":"tok","eventName":"PageView","occurrenceTime":` + value + `}`
			w, _ := doRequest(r, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body)))
			require.Equal(t, http.StatusOK, w.Code)
			require.NotNil(t, svc.got[0].OccurrenceTime)
			assert.Equal(t, int64(1700000000), *svc.got[0].OccurrenceTime)
		})
	}
}

func TestPostEvents_WrongTypedRequiredFieldReadsAsMissing(t *testing.T) {
	svc := &fakeIngester{}
	r := newEventRouter(svc)

	w, _ := doRequest(r, httptest.NewRequest(http.MethodPost, "/events",
		strings.NewReader(`{"identityToken":123,"eventName":"PageView"}`)))
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, svc.got, 1)
	assert.Empty(t, svc.got[0].IdentityToken)
}

func TestEvents_ErrorCategoriesMapToStatus(t *testing.T) {
	cases := []struct {
		category ingest.Category
		status   int
	}{
		{ingest.CategoryBadRequest, http.StatusBadRequest},
		{ingest.CategoryUnknownIdentity, http.StatusUnprocessableEntity},
		{ingest.CategoryInactiveIdentity, http.StatusUnprocessableEntity},
		{ingest.CategoryUpstreamRejected, http.StatusBadGateway},
		{ingest.CategoryUpstreamMalformed, http.StatusBadGateway},
		{ingest.CategoryUpstreamUnreachable, http.StatusGatewayTimeout},
		{ingest.CategoryInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(string(tc.category), func(t *testing.T) {
			svc := &fakeIngester{err: &ingest.Error{Category: tc.category, Message: "m", Reference: "rec-x"}}
			r := newEventRouter(svc)

			w, resp := doRequest(r, httptest.NewRequest(http.MethodPost, "/events",
				strings.NewReader(`{"identityToken":"tok","eventName":"PageView"}`)))
			assert.Equal(t, tc.status, w.Code)
			assert.False(t, resp.Success)
			assert.Equal(t, string(tc.category), resp.Error)
			assert.Equal(t, "m", resp.Message)
			assert.Equal(t, "rec-x", resp.Reference)
		})
	}
}
