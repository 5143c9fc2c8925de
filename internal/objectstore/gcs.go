// Package objectstore is the out-of-scope object-store collaborator: a
// thin wrapper storing admitted document bytes at
// documents/<document_id>/<sanitized_name>, per spec.md §6.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
)

// GCS wraps a Cloud Storage client.
type GCS struct {
	client *storage.Client
	bucket string
}

func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("objectstore.NewGCS: %w", err)
	}
	return &GCS{client: client, bucket: bucket}, nil
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// ObjectRef returns the canonical storage path for a document's admitted
// bytes: documents/<document_id>/<sanitized_name>.
func ObjectRef(documentID uuid.UUID, name string) string {
	return path.Join("documents", documentID.String(), unsafeNameChars.ReplaceAllString(name, "_"))
}

// Upload writes data to the object at ref with the given content type tag.
func (g *GCS) Upload(ctx context.Context, ref string, data []byte, contentType string) error {
	w := g.client.Bucket(g.bucket).Object(ref).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("objectstore.Upload: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("objectstore.Upload: close: %w", err)
	}
	return nil
}

// Download reads the object at ref.
func (g *GCS) Download(ctx context.Context, ref string) ([]byte, error) {
	r, err := g.client.Bucket(g.bucket).Object(ref).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("objectstore.Download: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// SignedDownloadURL generates a signed GET URL, used by out-of-scope REST
// collaborators to hand a client direct download access.
func (g *GCS) SignedDownloadURL(ref string, expiry time.Duration) (string, error) {
	url, err := g.client.Bucket(g.bucket).SignedURL(ref, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(expiry),
	})
	if err != nil {
		return "", fmt.Errorf("objectstore.SignedDownloadURL: %w", err)
	}
	return url, nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}
