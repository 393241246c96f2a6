// Package source copies an uploaded file into the local run directory.
package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// Fetcher copies the file at ref to dest and returns its size in bytes.
type Fetcher interface {
	Fetch(ctx context.Context, ref, dest string) (int64, error)
}

// ParseGCSRef splits "gs://bucket/object" into its parts.
func ParseGCSRef(ref string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(ref, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// reference: %q", ref)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("invalid gs:// reference: %q", ref)
	}
	return bucket, object, nil
}

// Ext returns the lower-cased file extension of ref, defaulting to ".pdf".
func Ext(ref string) string {
	ext := strings.ToLower(filepath.Ext(ref))
	if ext == "" {
		return ".pdf"
	}
	return ext
}

// GCS streams objects from Cloud Storage.
type GCS struct {
	client *storage.Client
}

// NewGCS wraps a storage client.
func NewGCS(client *storage.Client) *GCS {
	return &GCS{client: client}
}

func (g *GCS) Fetch(ctx context.Context, ref, dest string) (int64, error) {
	bucket, object, err := ParseGCSRef(ref)
	if err != nil {
		return 0, err
	}
	gcsReader, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, describeGCSError(err))
	}
	defer gcsReader.Close()
	return copyTo(dest, gcsReader)
}

// describeGCSError names the common failure causes so the record says more than a status code.
func describeGCSError(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("object does not exist: %w", err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusForbidden || apiErr.Code == http.StatusUnauthorized) {
		return fmt.Errorf("access denied (%d): %w", apiErr.Code, err)
	}
	return err
}

// Local copies files from the local filesystem. file:// prefixes are accepted.
type Local struct{}

func (Local) Fetch(_ context.Context, ref, dest string) (int64, error) {
	path := strings.TrimPrefix(ref, "file://")
	src, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open source file %s: %w", path, err)
	}
	defer src.Close()
	return copyTo(dest, src)
}

// Router picks a fetcher by reference scheme.
type Router struct {
	GCS   Fetcher
	Local Fetcher
}

func (r Router) Fetch(ctx context.Context, ref, dest string) (int64, error) {
	if strings.HasPrefix(ref, "gs://") {
		if r.GCS == nil {
			return 0, fmt.Errorf("no GCS fetcher configured for %q", ref)
		}
		return r.GCS.Fetch(ctx, ref, dest)
	}
	if r.Local == nil {
		return 0, fmt.Errorf("no local fetcher configured for %q", ref)
	}
	return r.Local.Fetch(ctx, ref, dest)
}

func copyTo(dest string, r io.Reader) (int64, error) {
	localFile, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file at %s: %w", dest, err)
	}
	return writeAndClose(localFile, r)
}

// writeAndClose copies r into w and closes it. A close failure means the copy may be incomplete.
func writeAndClose(w io.WriteCloser, r io.Reader) (int64, error) {
	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return n, fmt.Errorf("failed to copy source to local file: %w", err)
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("failed to close local file: %w", err)
	}
	return n, nil
}

// FileHash returns the hex SHA-256 of the file at path.
func FileHash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
