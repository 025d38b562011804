// Package filestore keeps uploaded file content in a blob backend and
// tracks it through the draft and module file areas.
package filestore

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

var (
	ErrNotFound      = errors.New("filestore: blob not found")
	ErrInvalidKey    = errors.New("filestore: invalid key")
	ErrInvalidConfig = errors.New("filestore: invalid configuration")
)

// Blob stores file content by key.
type Blob interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Backend() string
}

// NormalizeKey trims slashes and collapses the key to a clean relative path.
func NormalizeKey(key string) string {
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.Trim(key, "/")
	if key == "" {
		return ""
	}
	return path.Clean(key)
}

// ValidateKey rejects empty keys, traversal and NUL bytes.
func ValidateKey(key string) error {
	if key == "" || key == "." {
		return ErrInvalidKey
	}
	if strings.Contains(key, "..") || strings.ContainsRune(key, 0) {
		return ErrInvalidKey
	}
	return nil
}
