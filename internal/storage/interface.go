package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotExist is returned when no object is stored at the requested key.
var ErrNotExist = errors.New("object does not exist")

// ErrHashMismatch is returned by Put when the content hashes differently
// than the expected checksum in PutOptions.
var ErrHashMismatch = errors.New("content hash mismatch")

// ErrInvalidKey is returned when a key carries empty or dot path segments
// and cannot be mapped onto the store.
var ErrInvalidKey = errors.New("invalid object key")

// MaxMultipartParts is the largest number of parts a single multipart
// upload may carry. An upload that reaches this limit cannot be completed
// by appending further parts.
const MaxMultipartParts = 10000

// ObjectInfo describes a stored object without its content.
type ObjectInfo struct {
	Key         string
	Size        int64
	SHA256      string // lowercase hex
	ContentType string
}

// Object is a stored object together with its content.
// Body must be closed by the caller.
type Object struct {
	ObjectInfo
	Body io.ReadCloser
}

// PutOptions carries optional metadata for a Put.
// If SHA256 is set, the write is verified against it and fails without
// publishing the object when the content hashes differently.
type PutOptions struct {
	ContentType string
	SHA256      string // expected lowercase hex
}

// ListOptions selects a page of keys.
type ListOptions struct {
	Prefix     string
	Limit      int
	StartAfter string // exclusive start key
}

// Part identifies one completed multipart part. ETag is an opaque
// completion token issued by the store; it must be echoed back to
// Complete exactly as issued.
type Part struct {
	Number int    `json:"num"`
	ETag   string `json:"etag"`
}

// ObjectStore is durable content storage keyed by an opaque path string.
type ObjectStore interface {
	// Get returns the object at key, or ErrNotExist.
	Get(ctx context.Context, key string) (*Object, error)

	// Head returns object metadata without the content, or ErrNotExist.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// Put stores content at key, replacing any existing object.
	Put(ctx context.Context, key string, content io.Reader, opts PutOptions) (*ObjectInfo, error)

	// Delete removes the object at key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns keys under opts.Prefix in lexical order, starting
	// after opts.StartAfter, at most opts.Limit entries.
	List(ctx context.Context, opts ListOptions) ([]ObjectInfo, error)

	// CreateMultipartUpload opens a new multipart upload for key.
	CreateMultipartUpload(ctx context.Context, key string) (MultipartUpload, error)

	// ResumeMultipartUpload reattaches to an in-progress multipart upload.
	ResumeMultipartUpload(ctx context.Context, key, uploadID string) (MultipartUpload, error)
}

// MultipartUpload assembles a large object from sequentially numbered parts.
type MultipartUpload interface {
	// ID identifies this upload for later resumption.
	ID() string

	// UploadPart stores one part. Part numbers start at 1. Writing a part
	// number that already exists fails, so two writers racing on the same
	// resumed state cannot both claim the same slot.
	UploadPart(ctx context.Context, number int, content io.Reader) (Part, error)

	// Complete assembles the listed parts, in the given order, into the
	// object at the upload's key.
	Complete(ctx context.Context, parts []Part) error

	// Abort discards the upload and any parts written so far.
	Abort(ctx context.Context) error
}
