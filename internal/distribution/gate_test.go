package distribution

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lgulliver/ballast/internal/auth"
	"github.com/lgulliver/ballast/pkg/config"
)

func TestWriteGate(t *testing.T) {
	gate := auth.NewStatic(&config.AuthConfig{User: "admin", Password: "hunter2"})
	e := newEnv(t, WithAuthorizer(gate))

	// Reads are always allowed.
	w := e.do(http.MethodGet, "/v2/app/tags/list", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Writes without a credential are challenged.
	w = e.do(http.MethodPut, "/v2/app/manifests/v1", []byte("{}"), map[string]string{"content-type": "application/json"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("www-authenticate"), "basic realm=")
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, w))

	// A valid credential lets the write through.
	req := httptest.NewRequest(http.MethodPut, "/v2/app/manifests/v1", bytes.NewReader([]byte("{}")))
	req.Header.Set("content-type", "application/json")
	req.SetBasicAuth("admin", "hunter2")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)

	// DELETE is a write too.
	w = e.do(http.MethodDelete, "/v2/app/manifests/v1", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
