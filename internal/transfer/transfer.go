// Package transfer executes the body of a job: copying bytes from a source
// location to a destination location. It is opaque to the queue protocol —
// it reports success or failure and never touches job state.
//
// Locations are either plain filesystem paths or s3://bucket/key object
// references served by a MinIO-compatible endpoint.
package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const s3Scheme = "s3://"

// Location is a parsed source or destination.
type Location struct {
	// Path is the filesystem path when Bucket is empty.
	Path string
	// Bucket and Key are set for s3:// locations.
	Bucket string
	Key    string
}

// IsObject reports whether the location refers to object storage.
func (l Location) IsObject() bool { return l.Bucket != "" }

// ParseLocation parses s into a Location. Anything not starting with s3://
// is treated as a local filesystem path.
func ParseLocation(s string) (Location, error) {
	if s == "" {
		return Location{}, fmt.Errorf("empty location")
	}
	if !strings.HasPrefix(s, s3Scheme) {
		return Location{Path: s}, nil
	}
	rest := strings.TrimPrefix(s, s3Scheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return Location{}, fmt.Errorf("invalid object location %q: want s3://bucket/key", s)
	}
	return Location{Bucket: bucket, Key: key}, nil
}

// Copier copies bytes between locations. The zero value handles local paths
// only; use New to attach an object storage client.
type Copier struct {
	client *minio.Client
}

// Config holds the object storage settings for New. Endpoint empty means no
// object storage — s3:// locations will fail with a clear error.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// New creates a Copier. When cfg.Endpoint is empty the copier is local-only.
func New(cfg Config) (*Copier, error) {
	if cfg.Endpoint == "" {
		return &Copier{}, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("object storage client: %w", err)
	}
	return &Copier{client: client}, nil
}

// Copy streams the bytes at source to destination. Either side may be a
// local path or an s3:// object. Parent directories of a local destination
// are created as needed.
func (c *Copier) Copy(ctx context.Context, source, destination string) error {
	src, err := ParseLocation(source)
	if err != nil {
		return err
	}
	dst, err := ParseLocation(destination)
	if err != nil {
		return err
	}

	r, err := c.open(ctx, src)
	if err != nil {
		return err
	}
	defer r.Close() //nolint:errcheck

	return c.write(ctx, dst, r)
}

func (c *Copier) open(ctx context.Context, l Location) (io.ReadCloser, error) {
	if !l.IsObject() {
		f, err := os.Open(l.Path)
		if err != nil {
			return nil, fmt.Errorf("open source: %w", err)
		}
		return f, nil
	}
	if c.client == nil {
		return nil, fmt.Errorf("object storage not configured for s3://%s/%s", l.Bucket, l.Key)
	}
	obj, err := c.client.GetObject(ctx, l.Bucket, l.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	return obj, nil
}

func (c *Copier) write(ctx context.Context, l Location, r io.Reader) error {
	if !l.IsObject() {
		abs := filepath.Clean(l.Path)
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return fmt.Errorf("create destination dir: %w", err)
		}
		f, err := os.Create(abs)
		if err != nil {
			return fmt.Errorf("create destination: %w", err)
		}
		if _, err := io.Copy(f, r); err != nil {
			f.Close() //nolint:errcheck,gosec
			return fmt.Errorf("copy: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close destination: %w", err)
		}
		return nil
	}
	if c.client == nil {
		return fmt.Errorf("object storage not configured for s3://%s/%s", l.Bucket, l.Key)
	}
	// Size -1 streams with multipart upload; source size is not always known.
	if _, err := c.client.PutObject(ctx, l.Bucket, l.Key, r, -1,
		minio.PutObjectOptions{ContentType: "application/octet-stream"}); err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}
