// Package blob provides key/value object storage for label frames and lineage tables.
// Put replaces objects atomically: readers observe either the previous or the new payload.
package blob

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
)

// Driver identifies a storage backend
type Driver string

const (
	// DriverFilesystem stores objects as files under a root directory
	DriverFilesystem Driver = "fs"
	// DriverMemory keeps objects in process memory
	DriverMemory Driver = "memory"
	// DriverS3 stores objects in an S3 compatible bucket
	DriverS3 Driver = "s3"
)

// ErrNotFound is returned (wrapped) when a key does not exist
var ErrNotFound = errors.New("blob not found")

// Info describes a stored object
type Info struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size_bytes"`
	LastModified time.Time `json:"last_modified"`
}

// Store is a thin S3-like abstraction over storage backends
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) (Info, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

// ReadAll fetches whole object
func ReadAll(ctx context.Context, store Store, key string) ([]byte, error) {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrapf(err, "can't read blob %s", key)
	}
	return data, nil
}

func notFound(key string) error {
	return errors.Wrapf(ErrNotFound, "key %s", key)
}

// Open creates store of given driver. Root is used by the filesystem driver only
func Open(ctx context.Context, driver Driver, root string, s3cfg S3Config) (Store, error) {
	switch driver {
	case DriverFilesystem, "":
		return NewFS(root)
	case DriverMemory:
		return NewMemory(), nil
	case DriverS3:
		return NewS3(ctx, s3cfg)
	default:
		return nil, errors.Errorf("unknown blob driver %q", driver)
	}
}
