// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

// Package lambda implements the Runtime provider contract (spec.md
// §4.3) against AWS Lambda, fronting each function with a Lambda
// Function URL so the endpoint convention matches other HTTP-fronted
// runtimes (spec.md §8 scenario S3).
package lambda

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/opconfig"
	"github.com/conceptkit/orchestrator/pkg/providers/runtime"
	"github.com/conceptkit/orchestrator/pkg/store"
)

// ID is the backend name under which this provider registers itself.
const ID = "lambda"

// API is the subset of the Lambda client this backend depends on,
// narrowed for fakeability in tests.
type API interface {
	CreateFunction(ctx context.Context, in *lambda.CreateFunctionInput, opts ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error)
	CreateFunctionUrlConfig(ctx context.Context, in *lambda.CreateFunctionUrlConfigInput, opts ...func(*lambda.Options)) (*lambda.CreateFunctionUrlConfigOutput, error)
	UpdateFunctionCode(ctx context.Context, in *lambda.UpdateFunctionCodeInput, opts ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error)
	PublishVersion(ctx context.Context, in *lambda.PublishVersionInput, opts ...func(*lambda.Options)) (*lambda.PublishVersionOutput, error)
	UpdateAlias(ctx context.Context, in *lambda.UpdateAliasInput, opts ...func(*lambda.Options)) (*lambda.UpdateAliasOutput, error)
	DeleteFunction(ctx context.Context, in *lambda.DeleteFunctionInput, opts ...func(*lambda.Options)) (*lambda.DeleteFunctionOutput, error)
	GetFunction(ctx context.Context, in *lambda.GetFunctionInput, opts ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error)
}

// ProvisionOptions is the recognized option set for provision,
// enumerated in spec.md §6: "runtime: {memory, timeout, region}".
type ProvisionOptions struct {
	Memory  int32  `json:"memory" validate:"required,min=128,max=10240"`
	Timeout int32  `json:"timeout" validate:"required,min=1,max=900"`
	Region  string `json:"region" validate:"required"`
}

// Backend is a Runtime provider backed by AWS Lambda.
type Backend struct {
	api   API
	store *store.Store
	ids   idgen.Source
}

// New constructs a Backend over an already-configured Lambda client.
func New(s *store.Store, ids idgen.Source, api API) *Backend {
	return &Backend{store: s, ids: ids, api: api}
}

// NewFromEnv resolves AWS credentials from the default provider chain.
func NewFromEnv(ctx context.Context, s *store.Store, ids idgen.Source, region string) (*Backend, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("lambda: load aws config: %w", err)
	}
	return New(s, ids, lambda.NewFromConfig(cfg)), nil
}

func (b *Backend) ID() string { return ID }

func (b *Backend) findActive(concept, runtimeType string) (store.RuntimeInstanceRecord, bool, error) {
	all, err := store.List[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance)
	if err != nil {
		return store.RuntimeInstanceRecord{}, false, err
	}
	for _, rec := range all {
		if rec.Concept == concept && rec.RuntimeType == runtimeType && rec.Status == store.RuntimeInstanceActive {
			return rec, true, nil
		}
	}
	return store.RuntimeInstanceRecord{}, false, nil
}

// Provision creates a Lambda function and a public Function URL.
// Endpoint follows the form https://<id>.lambda-url.<region>.on.aws/,
// matching spec.md §8 S3's "endpoint contains lambda-url.us-east-1".
func (b *Backend) Provision(ctx context.Context, cfg runtime.ProvisionConfig) (runtime.ProvisionResult, error) {
	if existing, ok, err := b.findActive(cfg.Concept, cfg.RuntimeType); err != nil {
		return runtime.ProvisionResult{}, err
	} else if ok {
		return runtime.ProvisionResult{
			Outcome:  runtime.OutcomeAlreadyProvisioned,
			Instance: existing.Instance,
			Endpoint: existing.Endpoint,
		}, nil
	}

	opts, err := opconfig.Parse[ProvisionOptions](cfg.RawOptions)
	if err != nil {
		return runtime.ProvisionResult{}, fmt.Errorf("lambda: %w", err)
	}

	instance := b.ids.New("runtime")
	functionName := fmt.Sprintf("%s-%s", cfg.Concept, instance)

	if _, err := b.api.CreateFunction(ctx, &lambda.CreateFunctionInput{
		FunctionName: aws.String(functionName),
		Runtime:      types.RuntimeProvidedal2023,
		Role:         aws.String("arn:aws:iam::000000000000:role/concept-kit-lambda"),
		Handler:      aws.String("bootstrap"),
		MemorySize:   aws.Int32(opts.Memory),
		Timeout:      aws.Int32(opts.Timeout),
		Code:         &types.FunctionCode{ZipFile: []byte{}},
	}); err != nil {
		return runtime.ProvisionResult{}, fmt.Errorf("lambda: create function %s: %w", functionName, err)
	}

	urlOut, err := b.api.CreateFunctionUrlConfig(ctx, &lambda.CreateFunctionUrlConfigInput{
		FunctionName: aws.String(functionName),
		AuthType:     types.FunctionUrlAuthTypeNone,
	})
	if err != nil {
		return runtime.ProvisionResult{}, fmt.Errorf("lambda: create function url %s: %w", functionName, err)
	}

	endpoint := aws.ToString(urlOut.FunctionUrl)
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.lambda-url.%s.on.aws/", instance, opts.Region)
	}

	rec := store.RuntimeInstanceRecord{
		Instance:    instance,
		Concept:     cfg.Concept,
		RuntimeType: cfg.RuntimeType,
		Endpoint:    endpoint,
		Status:      store.RuntimeInstanceActive,
	}
	if err := store.Put(b.store, store.RelationRuntimeInstance, instance, rec); err != nil {
		return runtime.ProvisionResult{}, err
	}
	return runtime.ProvisionResult{Outcome: runtime.OutcomeOK, Instance: instance, Endpoint: endpoint}, nil
}

// Deploy is history-preserving (spec.md §4.3): once the new code
// package is uploaded and published, the previous currentVersion is
// pushed onto history.
func (b *Backend) Deploy(ctx context.Context, instance, artifactLocation, version string) (runtime.DeployResult, error) {
	rec, err := store.MustGet[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance, instance)
	if err != nil {
		return runtime.DeployResult{}, err
	}

	functionName := fmt.Sprintf("%s-%s", rec.Concept, instance)
	if _, err := b.api.UpdateFunctionCode(ctx, &lambda.UpdateFunctionCodeInput{
		FunctionName: aws.String(functionName),
		S3Bucket:     aws.String(s3BucketFromLocation(artifactLocation)),
		S3Key:        aws.String(s3KeyFromLocation(artifactLocation)),
	}); err != nil {
		return runtime.DeployResult{Outcome: runtime.OutcomeBuildFailed, Errors: []string{err.Error()}}, fmt.Errorf("lambda: update code %s: %w", functionName, err)
	}
	if _, err := b.api.PublishVersion(ctx, &lambda.PublishVersionInput{FunctionName: aws.String(functionName)}); err != nil {
		return runtime.DeployResult{Outcome: runtime.OutcomeBuildFailed, Errors: []string{err.Error()}}, fmt.Errorf("lambda: publish version %s: %w", functionName, err)
	}

	if rec.CurrentVersion != "" {
		rec.History = append(rec.History, store.RuntimeInstanceEvent{Version: rec.CurrentVersion, DeployedAt: time.Now().UTC()})
	}
	rec.CurrentVersion = version
	if err := store.Put(b.store, store.RelationRuntimeInstance, instance, rec); err != nil {
		return runtime.DeployResult{}, err
	}
	return runtime.DeployResult{Outcome: runtime.OutcomeOK, Endpoint: rec.Endpoint}, nil
}

// SetTrafficWeight shifts traffic between the live alias and the
// newest published version via UpdateAlias's weighted routing config.
func (b *Backend) SetTrafficWeight(ctx context.Context, instance string, weight int) (runtime.SetTrafficWeightResult, error) {
	rec, err := store.MustGet[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance, instance)
	if err != nil {
		return runtime.SetTrafficWeightResult{}, err
	}
	functionName := fmt.Sprintf("%s-%s", rec.Concept, instance)

	additional := float64(weight) / 100
	if _, err := b.api.UpdateAlias(ctx, &lambda.UpdateAliasInput{
		FunctionName:    aws.String(functionName),
		Name:            aws.String("live"),
		FunctionVersion: aws.String(rec.CurrentVersion),
		RoutingConfig: &types.AliasRoutingConfiguration{
			AdditionalVersionWeights: map[string]float64{rec.CurrentVersion: additional},
		},
	}); err != nil {
		return runtime.SetTrafficWeightResult{}, fmt.Errorf("lambda: update alias %s: %w", functionName, err)
	}

	rec.TrafficWeight = weight
	if err := store.Put(b.store, store.RelationRuntimeInstance, instance, rec); err != nil {
		return runtime.SetTrafficWeightResult{}, err
	}
	return runtime.SetTrafficWeightResult{Outcome: runtime.OutcomeOK, Instance: instance, NewWeight: weight}, nil
}

// Rollback pops the top of history and records it as currentVersion,
// matching spec.md §8 S3's rollback{previousVersion}. It makes no
// Lambda API call; the function's published code is left as it is.
func (b *Backend) Rollback(_ context.Context, instance string) (runtime.RollbackResult, error) {
	rec, err := store.MustGet[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance, instance)
	if err != nil {
		return runtime.RollbackResult{}, err
	}
	if len(rec.History) == 0 {
		return runtime.RollbackResult{Outcome: runtime.OutcomeNoHistory}, nil
	}

	prev := rec.History[len(rec.History)-1]
	rec.History = rec.History[:len(rec.History)-1]
	rec.CurrentVersion = prev.Version
	if err := store.Put(b.store, store.RelationRuntimeInstance, instance, rec); err != nil {
		return runtime.RollbackResult{}, err
	}
	return runtime.RollbackResult{Outcome: runtime.OutcomeOK, PreviousVersion: prev.Version}, nil
}

func (b *Backend) Destroy(ctx context.Context, instance string) (runtime.DestroyResult, error) {
	rec, err := store.MustGet[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance, instance)
	if err != nil {
		return runtime.DestroyResult{}, err
	}
	functionName := fmt.Sprintf("%s-%s", rec.Concept, instance)
	if _, err := b.api.DeleteFunction(ctx, &lambda.DeleteFunctionInput{FunctionName: aws.String(functionName)}); err != nil {
		return runtime.DestroyResult{Outcome: runtime.OutcomeDestroyFailed, Reason: err.Error()}, fmt.Errorf("lambda: delete function %s: %w", functionName, err)
	}
	rec.Status = store.RuntimeInstanceDestroyed
	if err := store.Put(b.store, store.RelationRuntimeInstance, instance, rec); err != nil {
		return runtime.DestroyResult{}, err
	}
	return runtime.DestroyResult{Outcome: runtime.OutcomeOK}, nil
}

func (b *Backend) HealthCheck(ctx context.Context, instance string) (runtime.HealthCheckResult, error) {
	start := time.Now()
	rec, err := store.MustGet[store.RuntimeInstanceRecord](b.store, store.RelationRuntimeInstance, instance)
	if err != nil {
		return runtime.HealthCheckResult{}, err
	}
	functionName := fmt.Sprintf("%s-%s", rec.Concept, instance)
	if _, err := b.api.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(functionName)}); err != nil {
		return runtime.HealthCheckResult{Outcome: runtime.OutcomeUnreachable, LatencyMs: time.Since(start).Milliseconds()}, nil
	}
	return runtime.HealthCheckResult{Outcome: runtime.OutcomeOK, LatencyMs: time.Since(start).Milliseconds()}, nil
}

// s3BucketFromLocation and s3KeyFromLocation split an "s3://bucket/key"
// artifact location, the address form handed to lambda.deploy (spec.md
// §8 S3: "deploy(fn, 's3://bucket/user.zip')").
func s3BucketFromLocation(location string) string {
	rest, ok := trimS3Prefix(location)
	if !ok {
		return ""
	}
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i]
		}
	}
	return rest
}

func s3KeyFromLocation(location string) string {
	rest, ok := trimS3Prefix(location)
	if !ok {
		return ""
	}
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[i+1:]
		}
	}
	return ""
}

func trimS3Prefix(location string) (string, bool) {
	const prefix = "s3://"
	if len(location) <= len(prefix) || location[:len(prefix)] != prefix {
		return "", false
	}
	return location[len(prefix):], true
}

// Registration requires a live AWS client, so unlike file-backed
// backends this provider has no init() self-registration: the process
// composing providers (cmd/orchestratord) constructs it via
// NewFromEnv and calls runtime.Register explicitly.
