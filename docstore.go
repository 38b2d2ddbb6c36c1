package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// DocumentStore is the persistent home of downloaded document payloads.
// Exists is the idempotent-re-run check: a stored GUID short-circuits the
// network fetch entirely.
type DocumentStore interface {
	Exists(ctx context.Context, guid string) bool
	Put(ctx context.Context, guid string, data []byte) error
}

// ───────── Local disk store ─────────

// DiskStore keeps documents as {dir}/{guid}.pdf. Writes go through a temp
// file and rename so a crashed download never leaves a partial document.
type DiskStore struct {
	dir string
}

func newDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &DiskStore{dir: dir}, nil
}

func (s *DiskStore) path(guid string) string {
	return filepath.Join(s.dir, guid+".pdf")
}

func (s *DiskStore) Exists(ctx context.Context, guid string) bool {
	fi, err := os.Stat(s.path(guid))
	return err == nil && fi.Size() > 0
}

func (s *DiskStore) Put(ctx context.Context, guid string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, guid+".*.part")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path(guid))
}

// ───────── Google Cloud Storage store ─────────

// GCSStore mirrors documents into a bucket using if-not-exists conditional
// writes, so concurrent or repeated runs never rewrite an object.
type GCSStore struct {
	bucket *storage.BucketHandle
	prefix string
}

func newGCSStore(ctx context.Context, bucketName, prefix string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &GCSStore{bucket: client.Bucket(bucketName), prefix: prefix}, nil
}

func (s *GCSStore) object(guid string) *storage.ObjectHandle {
	return s.bucket.Object(s.prefix + guid + ".pdf")
}

func (s *GCSStore) Exists(ctx context.Context, guid string) bool {
	_, err := s.object(guid).Attrs(ctx)
	return err == nil
}

func (s *GCSStore) Put(ctx context.Context, guid string, data []byte) error {
	w := s.object(guid).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == 412 {
			// Object already exists; not a failure in an idempotent run.
			return nil
		}
		return err
	}
	return nil
}
