package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"rbt/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"Bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"bearer abc", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		assert.Equal(t, tt.want, bearerToken(req), tt.header)
	}
}

func TestKeyMatches(t *testing.T) {
	keys := []string{"", "first", "second"}

	assert.True(t, keyMatches("first", keys))
	assert.True(t, keyMatches("second", keys))
	assert.False(t, keyMatches("third", keys))
	assert.False(t, keyMatches("", keys), "empty tokens never match empty keys")
	assert.False(t, keyMatches("first", nil))
}

func TestRequireAdminKey(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	configured := models.SecurityConfig{AdminKeys: []string{"admin-key"}, EditorKeys: []string{"editor-key"}}

	tests := []struct {
		name   string
		cfg    models.SecurityConfig
		header string
		status int
		code   string
	}{
		{"valid key", configured, "Bearer admin-key", http.StatusOK, ""},
		{"missing header", configured, "", http.StatusUnauthorized, models.ErrorCodeUnauthorized},
		{"wrong key", configured, "Bearer nope", http.StatusForbidden, models.ErrorCodeForbidden},
		{"editor key", configured, "Bearer editor-key", http.StatusForbidden, models.ErrorCodeForbidden},
		{"wrong scheme", configured, "Basic admin-key", http.StatusForbidden, models.ErrorCodeForbidden},
		{"no keys configured", models.SecurityConfig{}, "Bearer admin-key", http.StatusForbidden, models.ErrorCodeForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/admin/bans", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			requireAdminKey(tt.cfg)(ok).ServeHTTP(rr, req)

			assert.Equal(t, tt.status, rr.Code)
			if tt.code != "" {
				assert.Equal(t, tt.code, decodeError(t, rr).Code)
			}
		})
	}
}

func TestEditorMiddleware(t *testing.T) {
	cfg := models.SecurityConfig{AdminKeys: []string{"admin-key"}, EditorKeys: []string{"editor-key"}}

	tests := []struct {
		header string
		editor bool
	}{
		{"Bearer editor-key", true},
		{"Bearer admin-key", true},
		{"Bearer other", false},
		{"", false},
	}
	for _, tt := range tests {
		var seen bool
		handler := editorMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = isEditor(r)
		}))
		req := httptest.NewRequest(http.MethodGet, "/api/languages", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, tt.editor, seen, tt.header)
	}
}

func TestAdminRoutesRequireKey(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/api/admin/jobs")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/jobs", nil)
	req.Header.Set("Authorization", "Bearer editor-key")
	assert.Equal(t, http.StatusForbidden, s.serve(req).Code)
}
