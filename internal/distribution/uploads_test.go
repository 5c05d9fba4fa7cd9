package distribution

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lgulliver/ballast/internal/storage"
)

func TestStateSignatureRoundTrip(t *testing.T) {
	reg := New(nil, WithStateSecret([]byte("secret")))

	state := &uploadState{Size: 42, Parts: []storage.Part{{Number: 1, ETag: "abc"}}}
	location, err := reg.uploadLocation("app", "session-1", "upload-1", state)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(location, "/v2/app/blobs/uploads/session-1?"))

	parsed, err := url.Parse(location)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "upload-1", q.Get("upload"))
	require.NotEmpty(t, q.Get("state"))
	require.NotEmpty(t, q.Get("sig"))

	// The signature verifies for the exact token it was issued over.
	want := reg.signState("session-1", "upload-1", q.Get("state"))
	assert.Equal(t, want, q.Get("sig"))
}

func TestStateSignatureBinding(t *testing.T) {
	reg := New(nil, WithStateSecret([]byte("secret")))

	stateJSON := `{"size":0,"parts":[]}`
	sig := reg.signState("session-1", "upload-1", stateJSON)

	// The same state blob signed for a different session or upload id
	// must not verify.
	assert.NotEqual(t, sig, reg.signState("session-2", "upload-1", stateJSON))
	assert.NotEqual(t, sig, reg.signState("session-1", "upload-2", stateJSON))
	assert.NotEqual(t, sig, reg.signState("session-1", "upload-1", `{"size":1,"parts":[]}`))

	// Different server secrets never agree.
	other := New(nil, WithStateSecret([]byte("other")))
	assert.NotEqual(t, sig, other.signState("session-1", "upload-1", stateJSON))
}
