package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"rbt/internal/models"
	"rbt/internal/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCORSMiddleware(t *testing.T) {
	cfg := models.CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"https://rbt.example"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         600,
	}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := corsMiddleware(cfg)(next)

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/languages", nil)
		req.Header.Set("Origin", "https://rbt.example")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusTeapot, rr.Code)
		assert.Equal(t, "https://rbt.example", rr.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "GET, POST", rr.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "Content-Type", rr.Header().Get("Access-Control-Allow-Headers"))
		assert.Equal(t, "600", rr.Header().Get("Access-Control-Max-Age"))
	})

	t.Run("other origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/languages", nil)
		req.Header.Set("Origin", "https://elsewhere.example")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/languages", nil)
		req.Header.Set("Origin", "https://rbt.example")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	panicking := recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	t.Run("api request", func(t *testing.T) {
		rr := httptest.NewRecorder()
		panicking.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/languages", nil))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
		var resp models.ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, models.ErrorCodeInternalError, resp.Code)
		assert.NotContains(t, rr.Body.String(), "boom")
	})

	t.Run("xhr request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/John/3/", nil)
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
		rr := httptest.NewRecorder()
		panicking.ServeHTTP(rr, req)

		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	})

	t.Run("page request", func(t *testing.T) {
		rr := httptest.NewRecorder()
		panicking.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/John/3/", nil))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, rr.Body.String(), "Server Error (500)")
	})
}

func TestLoggingMiddlewareKeepsStatus(t *testing.T) {
	handler := loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("queued"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/translate/start", nil))

	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "queued", rr.Body.String())
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/api/nothing-here")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, models.ErrorCodeNotFound, decodeError(t, rr).Code)

	rr = s.do(t, http.MethodGet, "/nothing-here")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.NotContains(t, rr.Header().Get("Content-Type"), "application/json")
}

func TestNotFoundAnyMethod(t *testing.T) {
	s := newTestServer(t)

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete} {
		rr := s.do(t, method, "/api/nothing-here")
		assert.Equal(t, http.StatusNotFound, rr.Code, method)
		assert.Equal(t, models.ErrorCodeNotFound, decodeError(t, rr).Code, method)
	}

	rr := s.do(t, http.MethodDelete, "/api/languages")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestOptionsPreflightRoute(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodOptions, "/api/translate/start")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(t, http.MethodOptions, "/api/nothing-here")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	s.config.Server.CORS.Enabled = false
	s.router = SetupRoutes(s.handlers, s.config)
	rr = s.do(t, http.MethodOptions, "/api/translate/start")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestBotFilterRoute(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/languages", nil)
	req.Header.Set("User-Agent", "python-requests/2.31")
	rr := s.serve(req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/languages", nil)
	req.Header.Set("User-Agent", "python-requests/2.31")
	req.Header.Set("Authorization", "Bearer editor-key")
	rr = s.serve(req)
	assert.Equal(t, http.StatusOK, rr.Code, "editors skip the bot filter")

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("User-Agent", "curl/8.5")
	rr = s.serve(req)
	assert.Equal(t, http.StatusOK, rr.Code, "health checks are exempt")
}

func TestBotFilterUnmatchedPath(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/?book=Genesis&chapter=1&verse=1", nil)
	req.Header.Set("User-Agent", "python-requests/2.31")
	rr := s.serve(req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/Genesis/1/", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0")
	rr = s.serve(req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRateLimitUnmatchedPath(t *testing.T) {
	policies := ratelimit.DefaultPolicies()
	verse := policies[ratelimit.CategoryVerse]
	verse.Limit, verse.MaxStrikes = 2, 1
	policies[ratelimit.CategoryVerse] = verse

	s := newTestServer(t)
	guard, err := ratelimit.NewGuard(s.cache, policies)
	require.NoError(t, err)
	s.handlers.guard = guard
	s.config.Security.RateLimit.Enabled = true
	s.router = SetupRoutes(s.handlers, s.config)

	var codes []int
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/?book=Genesis&chapter=1&verse=1", nil)
		req.RemoteAddr = "198.51.100.20:5000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		rr := s.serve(req)
		codes = append(codes, rr.Code)
		if i == 0 {
			assert.Equal(t, "2", rr.Header().Get("X-RateLimit-Limit"))
		}
	}
	assert.Equal(t, []int{http.StatusNotFound, http.StatusNotFound, http.StatusForbidden, http.StatusForbidden}, codes)

	bans, err := guard.Bans(t.Context())
	require.NoError(t, err)
	require.Len(t, bans, 1)
	assert.Equal(t, "198.51.100.20", bans[0].IP, "forwarding headers from an untrusted peer are ignored")
	require.NotNil(t, bans[0].Ban)
	assert.Equal(t, ratelimit.CategoryVerse, bans[0].Ban.Endpoint)
}

func TestTrustedProxyRoute(t *testing.T) {
	s, guard := newGuardedServer(t)
	s.config.Security.RateLimit.Enabled = true
	s.config.Security.TrustedProxies = []string{"10.0.0.0/8"}
	s.router = SetupRoutes(s.handlers, s.config)

	request := func(client string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/languages", nil)
		req.RemoteAddr = "10.0.0.2:443"
		req.Header.Set("X-Forwarded-For", client)
		return s.serve(req).Code
	}

	assert.Equal(t, http.StatusOK, request("203.0.113.30"))
	assert.Equal(t, http.StatusForbidden, request("203.0.113.30"))
	assert.Equal(t, http.StatusOK, request("203.0.113.31"), "each forwarded client has its own window")

	bans, err := guard.Bans(t.Context())
	require.NoError(t, err)
	require.Len(t, bans, 1)
	assert.Equal(t, "203.0.113.30", bans[0].IP)
}

func TestRateLimitRoute(t *testing.T) {
	s, guard := newGuardedServer(t)
	s.config.Security.RateLimit.Enabled = true
	s.router = SetupRoutes(s.handlers, s.config)

	request := func(auth string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/languages", nil)
		req.RemoteAddr = bannedIP + ":40000"
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		return s.serve(req)
	}

	assert.Equal(t, http.StatusOK, request("").Code)
	assert.Equal(t, http.StatusForbidden, request("").Code, "second API request in the window bans")
	assert.Equal(t, http.StatusForbidden, request("").Code)
	assert.Equal(t, http.StatusOK, request("Bearer editor-key").Code, "editors are never limited")

	bans, err := guard.Bans(t.Context())
	require.NoError(t, err)
	require.Len(t, bans, 1)
	assert.Equal(t, bannedIP, bans[0].IP)
}

func TestHumanVerificationRoutes(t *testing.T) {
	verifier, err := ratelimit.NewHumanVerifier(models.HumanVerifyConfig{Secret: "test-secret"}, true)
	require.NoError(t, err)
	t.Cleanup(verifier.Close)
	s := newTestServer(t, WithHumanVerifier(verifier))

	rr := s.do(t, http.MethodGet, "/__human_challenge/?next=/John/3/")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")

	rr = s.do(t, http.MethodGet, "/__human_verify/")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = s.do(t, http.MethodPost, "/__human_verify/?next=/John/3/")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp models.HumanVerifyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "/John/3/", resp.Next)

	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == ratelimit.CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, verifier.ValidToken(cookie.Value))
}

func TestHumanVerificationRoutesDisabled(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/__human_challenge/")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestContains(t *testing.T) {
	assert.True(t, contains([]string{"a", "b"}, "b"))
	assert.False(t, contains([]string{"a", "b"}, "c"))
	assert.False(t, contains(nil, "a"))
}
