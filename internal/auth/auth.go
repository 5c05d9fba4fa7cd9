// Package auth gates push requests behind a single static credential.
// Pulls are always allowed; the distribution dispatcher only consults the
// gate for writable routes.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/lgulliver/ballast/pkg/config"
)

// ErrUnauthorized is returned when the request carries no valid push
// credential.
var ErrUnauthorized = errors.New("authentication required")

// Static authorizes writes against one configured user/password pair.
// The password may be stored as a bcrypt hash.
type Static struct {
	user     string
	password string
}

// NewStatic creates the write gate from configuration.
func NewStatic(cfg *config.AuthConfig) *Static {
	return &Static{user: cfg.User, password: cfg.Password}
}

// Authorize checks the request's basic credentials. With no credential
// configured, all writes are refused.
func (s *Static) Authorize(r *http.Request) error {
	if s.user == "" || s.password == "" {
		return ErrUnauthorized
	}

	user, password, ok := r.BasicAuth()
	if !ok {
		return ErrUnauthorized
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.user)) == 1

	var passwordOK bool
	if strings.HasPrefix(s.password, "$2") {
		passwordOK = bcrypt.CompareHashAndPassword([]byte(s.password), []byte(password)) == nil
	} else {
		passwordOK = subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) == 1
	}

	if !userOK || !passwordOK {
		return ErrUnauthorized
	}
	return nil
}
