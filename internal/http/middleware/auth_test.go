package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-dm-backend/internal/auth"
)

type stubVerifier map[string]auth.Verification

func (s stubVerifier) Verify(tok string) auth.Verification { return s[tok] }

func authRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Authenticate(stubVerifier{
		"good": {Valid: true, Username: "alice"},
		"old":  {Expired: true, Username: "alice"},
	}))
	r.GET("/open", func(c *gin.Context) { c.String(http.StatusOK, CurrentUser(c)) })
	r.GET("/private", RequireAuth(), func(c *gin.Context) { c.String(http.StatusOK, CurrentUser(c)) })
	return r
}

func TestAuthenticate_HeaderAndQuery(t *testing.T) {
	r := authRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer good")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/private?token=good", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	// anonymous access to open routes is untouched
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/open", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestRequireAuth_MissingInvalidExpired(t *testing.T) {
	r := authRouter()

	cases := []struct {
		name, header, code string
	}{
		{"missing", "", "unauthorized"},
		{"invalid", "Bearer nope", "unauthorized"},
		{"wrong scheme", "Basic good", "unauthorized"},
		{"expired", "Bearer old", "token_expired"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/private", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			r.ServeHTTP(w, req)
			require.Equal(t, http.StatusUnauthorized, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.code, body["code"])
			assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
		})
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	assert.Equal(t, "q", BearerToken(req))

	req.Header.Set("Authorization", "bearer   h  ")
	assert.Equal(t, "h", BearerToken(req))

	assert.Empty(t, BearerToken(nil))
}
