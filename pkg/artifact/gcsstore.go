// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore is a BlobStore backed by a Google Cloud Storage bucket, the
// GCP-native counterpart to S3Store.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSStoreConfig is the recognized option set for NewGCSStore.
type GCSStoreConfig struct {
	Bucket string
	Prefix string
}

// NewGCSStore constructs a GCSStore from cfg, resolving GCP credentials
// from application default credentials.
func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("artifact: new gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) key(raw string) string { return s.prefix + raw + ".blob" }

func (s *GCSStore) Store(ctx context.Context, data []byte) (string, error) {
	sum, prefixed := hashOf(data)
	obj := s.client.Bucket(s.bucket).Object(s.key(sum))

	if _, err := obj.Attrs(ctx); err == nil {
		return prefixed, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("artifact: gcs write %s: %w", obj.ObjectName(), err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("artifact: gcs commit %s: %w", obj.ObjectName(), err)
	}
	return prefixed, nil
}

func (s *GCSStore) Get(ctx context.Context, hash string) ([]byte, error) {
	raw, err := rawHash(hash)
	if err != nil {
		return nil, err
	}

	reader, err := s.client.Bucket(s.bucket).Object(s.key(raw)).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("artifact: gcs get %s: %w", hash, err)
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

func (s *GCSStore) Exists(ctx context.Context, hash string) (bool, error) {
	raw, err := rawHash(hash)
	if err != nil {
		return false, err
	}
	_, err = s.client.Bucket(s.bucket).Object(s.key(raw)).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("artifact: gcs attrs %s: %w", hash, err)
	}
	return true, nil
}

func (s *GCSStore) Size(ctx context.Context, hash string) (int64, error) {
	raw, err := rawHash(hash)
	if err != nil {
		return 0, err
	}
	attrs, err := s.client.Bucket(s.bucket).Object(s.key(raw)).Attrs(ctx)
	if err != nil {
		return 0, fmt.Errorf("artifact: gcs attrs %s: %w", hash, err)
	}
	return attrs.Size, nil
}

func (s *GCSStore) Delete(ctx context.Context, hash string) error {
	raw, err := rawHash(hash)
	if err != nil {
		return err
	}
	if err := s.client.Bucket(s.bucket).Object(s.key(raw)).Delete(ctx); err != nil {
		return fmt.Errorf("artifact: gcs delete %s: %w", hash, err)
	}
	return nil
}
