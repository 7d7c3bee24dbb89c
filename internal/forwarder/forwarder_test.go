package forwarder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/conversions-gateway/internal/models"
)

func strPtr(s string) *string { return &s }

func activeBinding() *models.Binding {
	return &models.Binding{IdentityToken: "tok_456", Credential: strPtr("EAAB-secret-credential-9876"), Label: "Shop"}
}

func sampleEvent() models.CanonicalEvent {
	v := 19.99
	return models.CanonicalEvent{
		Name:             "AddToCart",
		OccurrenceTime:   1700000000,
		IdempotencyToken: "evt-1",
		IdentityToken:    "tok_456",
		Facts:            map[string]string{"em": "abc"},
		Attributes:       models.Attributes{Currency: "USD", Value: &v, ContentIDs: []string{"p1"}},
	}
}

type captured struct {
	path  string
	query string
	body  map[string]any
}

func upstream(t *testing.T, status int, body string, seen *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			seen.path = r.URL.Path
			seen.query = r.URL.Query().Get("access_token")
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, &seen.body)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(url string) *Client {
	return New(Options{BaseURL: url, APIVersion: "v21.0", Timeout: 2 * time.Second}, nil)
}

func TestForward_Success(t *testing.T) {
	var seen captured
	srv := upstream(t, http.StatusOK, `{"events_received":1,"messages":[],"fbtrace_id":"trace-1"}`, &seen)

	res, err := newClient(srv.URL).Forward(context.Background(), activeBinding(), sampleEvent())
	require.NoError(t, err)
	assert.Equal(t, 1, res.EventsReceived)
	assert.Equal(t, "trace-1", res.TraceID)
	assert.JSONEq(t, `{"events_received":1,"messages":[],"fbtrace_id":"trace-1"}`, string(res.Body))

	assert.Equal(t, "/v21.0/tok_456/events", seen.path)
	assert.Equal(t, "EAAB-secret-credential-9876", seen.query)

	data := seen.body["data"].([]any)
	require.Len(t, data, 1)
	ev := data[0].(map[string]any)
	assert.Equal(t, "AddToCart", ev["event_name"])
	assert.Equal(t, "evt-1", ev["event_id"])
	assert.Equal(t, float64(1700000000), ev["event_time"])
	assert.Equal(t, "website", ev["action_source"])
	assert.Equal(t, map[string]any{"em": "abc"}, ev["user_data"])
	custom := ev["custom_data"].(map[string]any)
	assert.Equal(t, "USD", custom["currency"])
	assert.Equal(t, []any{"p1"}, custom["content_ids"])
}

func TestForward_TestEventCode(t *testing.T) {
	var seen captured
	srv := upstream(t, http.StatusOK, `{"events_received":1}`, &seen)
	c := New(Options{BaseURL: srv.URL, APIVersion: "v21.0", TestEventCode: "TEST123"}, nil)

	_, err := c.Forward(context.Background(), activeBinding(), sampleEvent())
	require.NoError(t, err)
	assert.Equal(t, "TEST123", seen.body["test_event_code"])
}

func TestForward_InactiveBindingMakesNoCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	_, err := newClient(srv.URL).Forward(context.Background(), &models.Binding{IdentityToken: "tok"}, sampleEvent())
	assert.ErrorIs(t, err, ErrInactiveBinding)
	assert.False(t, called)
}

func TestForward_RejectedStructuredError(t *testing.T) {
	body := `{"error":{"message":"Invalid OAuth access token.","type":"OAuthException","code":190,"fbtrace_id":"x"}}`
	srv := upstream(t, http.StatusBadRequest, body, nil)

	_, err := newClient(srv.URL).Forward(context.Background(), activeBinding(), sampleEvent())
	var fe *Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, KindRejected, fe.Kind)
	assert.Equal(t, http.StatusBadRequest, fe.StatusCode)
	assert.Equal(t, body, string(fe.Body))
	require.Len(t, fe.APIErrors, 1)
	assert.Equal(t, 190, fe.APIErrors[0].Code)
	assert.Equal(t, "OAuthException", fe.APIErrors[0].Type)
}

func TestForward_RejectedErrorList(t *testing.T) {
	srv := upstream(t, http.StatusTooManyRequests, `{"errors":[{"message":"rate limited","code":4}]}`, nil)

	_, err := newClient(srv.URL).Forward(context.Background(), activeBinding(), sampleEvent())
	var fe *Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, KindRejected, fe.Kind)
	assert.Equal(t, "rate limited", fe.Message)
}

func TestForward_MalformedResponse(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"html gateway error": {http.StatusBadGateway, "<html>Bad Gateway</html>"},
		"2xx not json":       {http.StatusOK, "ok"},
		"json without error": {http.StatusInternalServerError, `{"unexpected":true}`},
		"json array":         {http.StatusOK, `[1,2]`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := upstream(t, tc.status, tc.body, nil)
			_, err := newClient(srv.URL).Forward(context.Background(), activeBinding(), sampleEvent())
			var fe *Error
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, KindMalformed, fe.Kind)
			assert.Equal(t, tc.body, string(fe.Body))
		})
	}
}

func TestForward_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newClient(url).Forward(context.Background(), activeBinding(), sampleEvent())
	var fe *Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, KindUnreachable, fe.Kind)
	assert.NotContains(t, fe.Error(), "EAAB-secret-credential-9876")
}

func TestForward_TimeoutIsUnreachable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := New(Options{BaseURL: srv.URL, APIVersion: "v21.0", Timeout: 50 * time.Millisecond}, nil)
	_, err := c.Forward(context.Background(), activeBinding(), sampleEvent())
	var fe *Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, KindUnreachable, fe.Kind)
	assert.False(t, strings.Contains(err.Error(), "access_token"))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "EAAB…9876", Redact("EAAB-secret-credential-9876"))
	assert.Equal(t, "*****", Redact("short"))
	assert.Equal(t, "", Redact(""))

	multiByte := Redact("ключ-секрет-токен")
	assert.True(t, utf8.ValidString(multiByte))
	assert.Equal(t, "ключ…окен", multiByte)
	assert.Equal(t, "********", Redact("пароль12"))
}
