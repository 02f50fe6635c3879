package natsgen

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ObjectStore holds conditioning and result WAV blobs in a JetStream object
// store bucket. Objects are transient: the client deletes them once a
// generation call returns, and the bucket TTL reaps anything left behind.
type ObjectStore struct {
	bucket string
	store  nats.ObjectStore
}

// NewObjectStore creates the bucket, or binds to it if it already exists.
func NewObjectStore(js nats.JetStreamContext, bucket string, ttl time.Duration) (*ObjectStore, error) {
	store, err := js.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucket,
		Description: "Transient audio for music generation.",
		TTL:         ttl,
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("create object store bucket %q: %w", bucket, err)
		}
		store, err = js.ObjectStore(bucket)
		if err != nil {
			return nil, fmt.Errorf("bind object store bucket %q: %w", bucket, err)
		}
	}
	return &ObjectStore{bucket: bucket, store: store}, nil
}

// Upload stores data under key.
func (s *ObjectStore) Upload(key string, data []byte) error {
	if _, err := s.store.Put(&nats.ObjectMeta{Name: key}, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("put object %q to bucket %q: %w", key, s.bucket, err)
	}
	return nil
}

// Download fetches the object stored under key.
func (s *ObjectStore) Download(key string) ([]byte, error) {
	obj, err := s.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("get object %q from bucket %q: %w", key, s.bucket, err)
	}
	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()
	if readErr != nil {
		return nil, fmt.Errorf("read object %q: %w", key, readErr)
	}
	if closeErr != nil {
		return data, fmt.Errorf("close object %q: %w", key, closeErr)
	}
	return data, nil
}

// Delete removes key. Missing objects are not an error.
func (s *ObjectStore) Delete(key string) error {
	if err := s.store.Delete(key); err != nil && !errors.Is(err, nats.ErrObjectNotFound) {
		return fmt.Errorf("delete object %q from bucket %q: %w", key, s.bucket, err)
	}
	return nil
}
