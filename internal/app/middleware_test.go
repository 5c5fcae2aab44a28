package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chai-vision/chai-vision/internal/shared"
)

func captureHandler(seen **shared.Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = shared.PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestIdentityMiddlewareReadsHeader(t *testing.T) {
	var seen *shared.Principal
	h := IdentityMiddleware(&Config{IdentityHeader: "X-Auth-User"}, nil)(captureHandler(&seen))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Auth-User", " 42 ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, int64(42), seen.UserID)
}

func TestIdentityMiddlewareRejectsMalformedHeader(t *testing.T) {
	for _, raw := range []string{"abc", "-3", "0"} {
		var seen *shared.Principal
		h := IdentityMiddleware(&Config{IdentityHeader: "X-User-ID"}, nil)(captureHandler(&seen))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-User-ID", raw)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code, raw)
		assert.Nil(t, seen)
	}
}

func TestIdentityMiddlewareDevFallback(t *testing.T) {
	var seen *shared.Principal
	h := IdentityMiddleware(&Config{AppEnv: "development", IdentityHeader: "X-User-ID", DevUserID: 9}, nil)(captureHandler(&seen))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotNil(t, seen)
	assert.Equal(t, int64(9), seen.UserID)

	seen = nil
	h = IdentityMiddleware(&Config{AppEnv: "production", IdentityHeader: "X-User-ID", DevUserID: 9}, nil)(captureHandler(&seen))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, seen)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{RunRateWindowDays: 14, IngestMaxBytes: 1, IdentityHeader: "X-User-ID"}
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.RunRateWindowDays = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.AppEnv = "production"
	bad.DevUserID = 1
	assert.Error(t, bad.Validate())
}
