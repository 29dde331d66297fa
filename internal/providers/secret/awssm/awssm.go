// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package awssm implements the Secret provider contract (spec.md
// §4.3) against AWS Secrets Manager.
package awssm

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/conceptkit/orchestrator/pkg/providers/secret"
)

// ID is the backend name under which this provider registers itself.
const ID = "awssm"

// Backend is a Secret provider backed by AWS Secrets Manager.
type Backend struct {
	client *secretsmanager.Client
}

// Config is the recognized option set for New.
type Config struct {
	Region string
}

// New constructs a Backend, resolving AWS credentials from the default
// provider chain.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("awssm: load aws config: %w", err)
	}
	return &Backend{client: secretsmanager.NewFromConfig(awsCfg)}, nil
}

func (b *Backend) ID() string { return ID }

func (b *Backend) Fetch(ctx context.Context, name string) (secret.FetchResult, error) {
	out, err := b.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return secret.FetchResult{Outcome: secret.OutcomeNotFound}, nil
		}
		return secret.FetchResult{}, fmt.Errorf("awssm: get secret value %s: %w", name, err)
	}

	version := 0
	if out.VersionId != nil {
		version = 1
	}
	return secret.FetchResult{
		Outcome: secret.OutcomeOK,
		Value:   aws.ToString(out.SecretString),
		Version: version,
		LeaseID: aws.ToString(out.VersionId),
	}, nil
}

func (b *Backend) Rotate(ctx context.Context, name string) (secret.RotateResult, error) {
	if _, err := b.client.RotateSecret(ctx, &secretsmanager.RotateSecretInput{
		SecretId: aws.String(name),
	}); err != nil {
		var inProgress *types.InvalidRequestException
		if errors.As(err, &inProgress) {
			return secret.RotateResult{Outcome: secret.OutcomeRotationInProgress}, nil
		}
		return secret.RotateResult{}, fmt.Errorf("awssm: rotate secret %s: %w", name, err)
	}
	return secret.RotateResult{Outcome: secret.OutcomeOK, NewVersion: 1}, nil
}

func (b *Backend) Exists(ctx context.Context, name string) (secret.ExistsResult, error) {
	_, err := b.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return secret.ExistsResult{Outcome: secret.OutcomeOK, Exists: false}, nil
		}
		return secret.ExistsResult{}, fmt.Errorf("awssm: describe secret %s: %w", name, err)
	}
	return secret.ExistsResult{Outcome: secret.OutcomeOK, Exists: true}, nil
}

// InvalidateCache is a no-op: AWS Secrets Manager is always queried
// live, the orchestrator keeps no local cache of secret values.
func (b *Backend) InvalidateCache(_ context.Context, _ string) error { return nil }
