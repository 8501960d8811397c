// Package storage provides named-object persistence on the local filesystem
// or on an S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Load and Delete when no object has the given name.
var ErrNotFound = errors.New("object not found")

// Storage defines a flat object namespace. Names may contain "/" separators.
type Storage interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}
