// Package blobstore stores documents (note attachments, credential scans,
// clearinghouse remittance payloads) in S3-compatible object storage.
// Metadata lives in the owning domain table; objects are addressed by key.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound           = errors.New("object not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrMissingKey         = errors.New("object key is required")
)

// MaxFileSize is the maximum allowed object size in bytes (25 MB).
const MaxFileSize = 25 * 1024 * 1024

// AllowedContentTypes lists the document types the EHR accepts.
var AllowedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"text/plain":      true,
	"application/xml": true,
	"text/xml":        true,
}

// Object describes a stored object.
type Object struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is implemented by MinioStore and MemoryStore.
type Store interface {
	Put(ctx context.Context, key, contentType string, content io.Reader) (*Object, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *Object, error)
	Delete(ctx context.Context, key string) error
}

// Key builds an object key scoped to a tenant, e.g.
// Key("north", "notes", noteID, "scan.pdf") -> "north/notes/<id>/scan.pdf".
func Key(tenantID string, parts ...string) string {
	clean := make([]string, 0, len(parts)+1)
	clean = append(clean, tenantID)
	for _, p := range parts {
		clean = append(clean, strings.ReplaceAll(p, "/", "_"))
	}
	return path.Join(clean...)
}

// ValidateContentType checks ct against AllowedContentTypes, ignoring
// parameters such as charset.
func ValidateContentType(ct string) error {
	base := strings.TrimSpace(strings.SplitN(ct, ";", 2)[0])
	if !AllowedContentTypes[strings.ToLower(base)] {
		return fmt.Errorf("%w: %s", ErrInvalidContentType, ct)
	}
	return nil
}

// readLimited buffers content so size and hash are known before upload.
func readLimited(content io.Reader) ([]byte, string, error) {
	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return nil, "", ErrFileTooLarge
	}
	return data, fmt.Sprintf("%x", sha256.Sum256(data)), nil
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedObject struct {
	meta    Object
	content []byte
}

// MemoryStore is a thread-safe Store for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*storedObject
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*storedObject)}
}

func (s *MemoryStore) Put(_ context.Context, key, contentType string, content io.Reader) (*Object, error) {
	if key == "" {
		return nil, ErrMissingKey
	}
	if err := ValidateContentType(contentType); err != nil {
		return nil, err
	}
	data, sum, err := readLimited(content)
	if err != nil {
		return nil, err
	}
	meta := Object{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		SHA256:      sum,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.objects[key] = &storedObject{meta: meta, content: data}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, *Object, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrNotFound
	}
	meta := obj.meta
	return io.NopCloser(bytes.NewReader(obj.content)), &meta, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return ErrNotFound
	}
	delete(s.objects, key)
	return nil
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
