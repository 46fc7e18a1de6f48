// Package memory is an in-process BlobStore used as a test double.
package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tendant/simplebox/pkg/storage"
)

// Option configures a Backend.
type Option func(*Backend)

// WithBaseURL makes the backend hand out URLs of the form base/key instead of
// requiring direct transfers.
func WithBaseURL(base string) Option {
	return func(b *Backend) {
		b.baseURL = strings.TrimSuffix(base, "/")
	}
}

type object struct {
	data      []byte
	mimeType  string
	updatedAt time.Time
}

// Backend is an in-memory implementation of the storage.BlobStore interface
type Backend struct {
	mu      sync.RWMutex
	objects map[string]object
	baseURL string
}

var _ storage.BlobStore = (*Backend)(nil)

// New creates a new in-memory storage backend
func New(opts ...Option) *Backend {
	b := &Backend{
		objects: make(map[string]object),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// List returns the keys under prefix in lexical order
func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := []string{}
	for key := range b.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// GetObjectMeta retrieves metadata for an object in memory
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*storage.ObjectMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[objectKey]
	if !exists {
		return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, objectKey)
	}

	return &storage.ObjectMeta{
		Key:         objectKey,
		Size:        int64(len(obj.data)),
		ContentType: obj.mimeType,
		UpdatedAt:   obj.updatedAt,
		Metadata:    map[string]string{"mime_type": obj.mimeType},
	}, nil
}

// GetUploadURL returns a URL for uploading content
func (b *Backend) GetUploadURL(ctx context.Context, objectKey string) (string, error) {
	if b.baseURL == "" {
		return "", errors.New("direct upload required for memory backend")
	}
	return b.objectURL(objectKey), nil
}

// Upload uploads content directly
func (b *Backend) Upload(ctx context.Context, objectKey string, reader io.Reader) error {
	return b.UploadWithParams(ctx, reader, storage.UploadParams{ObjectKey: objectKey})
}

// UploadWithParams uploads content with parameters
func (b *Backend) UploadWithParams(ctx context.Context, reader io.Reader, params storage.UploadParams) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	mimeType := params.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.objects[params.ObjectKey] = object{
		data:      data,
		mimeType:  mimeType,
		updatedAt: time.Now().UTC(),
	}
	return nil
}

// GetDownloadURL returns a URL for downloading content
func (b *Backend) GetDownloadURL(ctx context.Context, objectKey string, downloadFilename string) (string, error) {
	if b.baseURL == "" {
		return "", errors.New("direct download required for memory backend")
	}
	u := b.objectURL(objectKey)
	if downloadFilename != "" {
		u += "?filename=" + url.QueryEscape(downloadFilename)
	}
	return u, nil
}

// Download downloads content directly
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[objectKey]
	if !exists {
		return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, objectKey)
	}

	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Delete deletes content
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.objects[objectKey]; !exists {
		return fmt.Errorf("%w: %s", storage.ErrObjectNotFound, objectKey)
	}

	delete(b.objects, objectKey)
	return nil
}

func (b *Backend) objectURL(objectKey string) string {
	return b.baseURL + "/" + (&url.URL{Path: objectKey}).EscapedPath()
}
