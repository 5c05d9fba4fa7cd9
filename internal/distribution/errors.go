package distribution

import (
	"github.com/gin-gonic/gin"
)

// Error is one entry of the registry error body defined by the
// distribution protocol.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// The closed error taxonomy surfaced to clients.
var (
	ErrBlobUnknown = Error{
		Code:    "BLOB_UNKNOWN",
		Message: "blob unknown to registry",
		Detail:  "blob unknown to registry",
	}
	ErrBlobUploadUnknown = Error{
		Code:    "BLOB_UPLOAD_UNKNOWN",
		Message: "blob upload unknown to registry",
		Detail:  "blob upload unknown to registry",
	}
	ErrManifestUnknown = Error{
		Code:    "MANIFEST_UNKNOWN",
		Message: "manifest unknown to registry",
		Detail:  "manifest unknown to registry",
	}
	ErrUnauthorized = Error{
		Code:    "UNAUTHORIZED",
		Message: "authentication required",
		Detail:  "authentication required",
	}
	ErrUnsupported = Error{
		Code:    "UNSUPPORTED",
		Message: "the operation is unsupported",
		Detail:  "the operation is unsupported",
	}
	ErrDigestInvalid = Error{
		Code:    "DIGEST_INVALID",
		Message: "provided digest did not match uploaded content",
		Detail:  "provided digest did not match uploaded content",
	}
)

// WithDetail returns a copy of the error carrying a specific detail string.
func (e Error) WithDetail(detail string) Error {
	e.Detail = detail
	return e
}

type errorBody struct {
	Errors []Error `json:"errors"`
}

func writeError(c *gin.Context, status int, errs ...Error) {
	c.JSON(status, errorBody{Errors: errs})
}
