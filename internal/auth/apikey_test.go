package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(APIKeyMiddleware(map[string]string{"ops-key-1": "ops"}))
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, Operator(c))
	})
	return r
}

func TestAPIKeyMiddleware(t *testing.T) {
	cases := []struct {
		name   string
		key    string
		status int
		body   string
	}{
		{name: "valid key", key: "ops-key-1", status: http.StatusOK, body: "ops"},
		{name: "padded key", key: "  ops-key-1 ", status: http.StatusOK, body: "ops"},
		{name: "wrong key", key: "nope", status: http.StatusUnauthorized},
		{name: "missing key", status: http.StatusUnauthorized},
	}
	r := newTestRouter()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tc.key != "" {
				req.Header.Set("X-API-Key", tc.key)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tc.status, w.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, w.Body.String())
			}
		})
	}
}

func TestOperator_Unauthenticated(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, "", Operator(c))
}
