package distribution

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutePatternMatching(t *testing.T) {
	tests := []struct {
		name      string
		suffix    []string
		path      string
		wantMatch bool
		wantName  string
		wantBind  string
	}{
		{
			name:      "blob digest",
			suffix:    []string{"blobs", "{digest}"},
			path:      "app/blobs/sha256:abc",
			wantMatch: true,
			wantName:  "app",
			wantBind:  "sha256:abc",
		},
		{
			name:      "slash segmented repository",
			suffix:    []string{"blobs", "{digest}"},
			path:      "org/team/app/blobs/sha256:abc",
			wantMatch: true,
			wantName:  "org/team/app",
			wantBind:  "sha256:abc",
		},
		{
			name:      "upload start trailing slash",
			suffix:    []string{"blobs", "uploads", ""},
			path:      "app/blobs/uploads/",
			wantMatch: true,
			wantName:  "app",
		},
		{
			name:      "upload session",
			suffix:    []string{"blobs", "uploads", "{session}"},
			path:      "app/blobs/uploads/some-session",
			wantMatch: true,
			wantName:  "app",
		},
		{
			name:      "empty repository name rejected",
			suffix:    []string{"blobs", "{digest}"},
			path:      "blobs/sha256:abc",
			wantMatch: false,
		},
		{
			name:      "wrong fixed segment",
			suffix:    []string{"tags", "list"},
			path:      "app/tags/other",
			wantMatch: false,
		},
		{
			name:      "empty binding rejected",
			suffix:    []string{"manifests", "{reference}"},
			path:      "app/manifests/",
			wantMatch: false,
		},
		{
			name:      "dot dot repository segment rejected",
			suffix:    []string{"blobs", "uploads", ""},
			path:      "a/../../escaped/blobs/uploads/",
			wantMatch: false,
		},
		{
			name:      "dot repository segment rejected",
			suffix:    []string{"blobs", "{digest}"},
			path:      "a/./b/blobs/sha256:abc",
			wantMatch: false,
		},
		{
			name:      "empty repository segment rejected",
			suffix:    []string{"blobs", "{digest}"},
			path:      "a//b/blobs/sha256:abc",
			wantMatch: false,
		},
		{
			name:      "dot dot binding rejected",
			suffix:    []string{"manifests", "{reference}"},
			path:      "app/manifests/..",
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := route{suffix: tt.suffix}
			p, ok := rt.match(strings.Split(tt.path, "/"))
			assert.Equal(t, tt.wantMatch, ok)
			if !tt.wantMatch {
				return
			}
			assert.Equal(t, tt.wantName, p.Name)
			if tt.wantBind != "" {
				assert.Equal(t, tt.wantBind, p.Digest)
			}
		})
	}
}

func TestUploadSessionRouteWinsOverBlobRoute(t *testing.T) {
	// A session path must never be mistaken for a blob digest path.
	reg := New(nil, WithStateSecret([]byte("s")))
	routes := reg.routes()

	segments := strings.Split("app/blobs/uploads/session-id", "/")
	for _, rt := range routes {
		if p, ok := rt.match(segments); ok {
			require.Equal(t, "session-id", p.Session)
			require.Empty(t, p.Digest)
			return
		}
	}
	t.Fatal("no route matched upload session path")
}
