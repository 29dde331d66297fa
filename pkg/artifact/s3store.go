// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store is a BlobStore backed by an S3-compatible bucket, for
// deployments where the orchestrator itself runs without durable local
// disk (e.g. a Lambda-hosted planner).
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3StoreConfig is the recognized option set for NewS3Store, per the
// "one config struct per operation" redesign (spec.md §9). Endpoint is
// only set for S3-compatible test doubles (MinIO, LocalStack).
type S3StoreConfig struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// NewS3Store constructs an S3Store from cfg, resolving AWS credentials
// from the default provider chain.
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("artifact: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *S3Store) key(raw string) string { return s.prefix + raw + ".blob" }

func (s *S3Store) Store(ctx context.Context, data []byte) (string, error) {
	sum, prefixed := hashOf(data)
	key := s.key(sum)

	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err == nil {
		return prefixed, nil
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("artifact: s3 put %s: %w", key, err)
	}
	return prefixed, nil
}

func (s *S3Store) Get(ctx context.Context, hash string) ([]byte, error) {
	raw, err := rawHash(hash)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(raw)),
	})
	if err != nil {
		return nil, fmt.Errorf("artifact: s3 get %s: %w", hash, err)
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}

func (s *S3Store) Exists(ctx context.Context, hash string) (bool, error) {
	raw, err := rawHash(hash)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(raw)),
	})
	return err == nil, nil
}

func (s *S3Store) Size(ctx context.Context, hash string) (int64, error) {
	raw, err := rawHash(hash)
	if err != nil {
		return 0, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(raw)),
	})
	if err != nil {
		return 0, fmt.Errorf("artifact: s3 head %s: %w", hash, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (s *S3Store) Delete(ctx context.Context, hash string) error {
	raw, err := rawHash(hash)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(raw)),
	})
	if err != nil {
		return fmt.Errorf("artifact: s3 delete %s: %w", hash, err)
	}
	return nil
}
