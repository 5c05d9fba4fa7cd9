package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/lgulliver/ballast/pkg/config"
)

func requestWithBasicAuth(user, password string) *http.Request {
	req := httptest.NewRequest(http.MethodPut, "/v2/app/manifests/v1", nil)
	if user != "" || password != "" {
		req.SetBasicAuth(user, password)
	}
	return req
}

func TestStaticAuthorize(t *testing.T) {
	gate := NewStatic(&config.AuthConfig{User: "admin", Password: "hunter2"})

	tests := []struct {
		name     string
		user     string
		password string
		wantErr  bool
	}{
		{"valid credential", "admin", "hunter2", false},
		{"wrong password", "admin", "wrong", true},
		{"wrong user", "intruder", "hunter2", true},
		{"no credential", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := gate.Authorize(requestWithBasicAuth(tt.user, tt.password))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnauthorized)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStaticAuthorizeBcryptHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	gate := NewStatic(&config.AuthConfig{User: "admin", Password: string(hash)})

	assert.NoError(t, gate.Authorize(requestWithBasicAuth("admin", "hunter2")))
	assert.ErrorIs(t, gate.Authorize(requestWithBasicAuth("admin", "wrong")), ErrUnauthorized)
}

func TestStaticAuthorizeUnconfigured(t *testing.T) {
	// With no credential configured, every write is refused.
	gate := NewStatic(&config.AuthConfig{})
	assert.ErrorIs(t, gate.Authorize(requestWithBasicAuth("admin", "hunter2")), ErrUnauthorized)
}
