package storage

import (
	"context"
	"fmt"
	"strings"
)

// S3Scheme prefixes token references stored in S3-compatible object storage
const S3Scheme = "s3://"

// TokenSource reads a pre-encrypted token verbatim
type TokenSource interface {
	// Read returns the full contents referenced by ref
	Read(ctx context.Context, ref string) ([]byte, error)
}

// ErrNotFound is returned when a token reference does not exist
type ErrNotFound struct {
	Ref string
}

func (e *ErrNotFound) Error() string {
	return "token not found: " + e.Ref
}

// ParseS3Ref splits s3://bucket/key into bucket and key
func ParseS3Ref(ref string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(ref, S3Scheme)
	if !ok {
		return "", "", fmt.Errorf("not an s3 reference: %q", ref)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 reference must be s3://bucket/key: %q", ref)
	}
	return bucket, key, nil
}

// Router dispatches references to a backend by scheme. The S3 backend is
// only constructed when an s3:// reference is read.
type Router struct {
	Local TokenSource
	NewS3 func(ctx context.Context) (TokenSource, error)
}

// Read implements TokenSource
func (r *Router) Read(ctx context.Context, ref string) ([]byte, error) {
	if !strings.HasPrefix(ref, S3Scheme) {
		return r.Local.Read(ctx, ref)
	}
	if r.NewS3 == nil {
		return nil, fmt.Errorf("s3 storage not configured for %q", ref)
	}
	src, err := r.NewS3(ctx)
	if err != nil {
		return nil, err
	}
	return src.Read(ctx, ref)
}
