// Package storage provides the object-storage adapters the pipeline writes
// raw and processed artifacts through.
package storage

import (
	"context"
)

// ObjectMeta carries per-write metadata. EncryptionKeyRef is an opaque key
// reference resolved by the storage backend; raw key material never passes
// through here.
type ObjectMeta struct {
	ContentType      string
	Tags             map[string]string
	EncryptionKeyRef string
}

// ObjectStore persists one blob at a path within a bucket class and returns
// its location.
type ObjectStore interface {
	Put(ctx context.Context, bucket, path string, data []byte, meta ObjectMeta) (string, error)
}
