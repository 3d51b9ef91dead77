// Package platform provides control-plane drivers the gate deploys through:
// AWS ECS and a gitops repository.
package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/opsgate/releasegate/config"
	"github.com/opsgate/releasegate/gate"
	"github.com/opsgate/releasegate/models"
)

const ecsPollInterval = 5 * time.Second

// ECSClient is the subset of the ECS API the driver uses.
type ECSClient interface {
	DescribeServices(ctx context.Context, in *ecs.DescribeServicesInput, opts ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error)
	DescribeTaskDefinition(ctx context.Context, in *ecs.DescribeTaskDefinitionInput, opts ...func(*ecs.Options)) (*ecs.DescribeTaskDefinitionOutput, error)
	RegisterTaskDefinition(ctx context.Context, in *ecs.RegisterTaskDefinitionInput, opts ...func(*ecs.Options)) (*ecs.RegisterTaskDefinitionOutput, error)
	UpdateService(ctx context.Context, in *ecs.UpdateServiceInput, opts ...func(*ecs.Options)) (*ecs.UpdateServiceOutput, error)
}

// SecretsClient is the subset of the Secrets Manager API the driver uses.
type SecretsClient interface {
	DescribeSecret(ctx context.Context, in *secretsmanager.DescribeSecretInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
}

// ECS deploys by registering a new task definition revision and re-pointing
// the service at it. Rollback re-points the service at the snapshotted
// revision, which ECS keeps addressable by ARN.
type ECS struct {
	cluster       string
	signingSecret string
	ecs           ECSClient
	secrets       SecretsClient
	clock         gate.Clock
}

// NewECS builds the driver from config, using static credentials when
// provided and the default chain otherwise.
func NewECS(ctx context.Context, cfg *config.ECSConfig) (*ECS, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &ECS{
		cluster:       cfg.Cluster,
		signingSecret: cfg.SigningSecretName,
		ecs:           ecs.NewFromConfig(awsCfg),
		secrets:       secretsmanager.NewFromConfig(awsCfg),
		clock:         gate.SystemClock{},
	}, nil
}

func (p *ECS) describeService(ctx context.Context, service string) (*ecstypes.Service, error) {
	out, err := p.ecs.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(p.cluster),
		Services: []string{service},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe service %s: %w", service, err)
	}
	if len(out.Services) == 0 {
		return nil, fmt.Errorf("service %s not found in cluster %s", service, p.cluster)
	}
	return &out.Services[0], nil
}

// CurrentRelease snapshots the deployed task definition and its image tag.
func (p *ECS) CurrentRelease(ctx context.Context, service string) (*gate.Release, error) {
	svc, err := p.describeService(ctx, service)
	if err != nil {
		return nil, err
	}

	td, err := p.ecs.DescribeTaskDefinition(ctx, &ecs.DescribeTaskDefinitionInput{
		TaskDefinition: svc.TaskDefinition,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe task definition: %w", err)
	}

	version := ""
	if defs := td.TaskDefinition.ContainerDefinitions; len(defs) > 0 && defs[0].Image != nil {
		version = imageTag(*defs[0].Image)
	}

	return &gate.Release{
		Service: service,
		Version: version,
		Ref:     aws.ToString(svc.TaskDefinition),
	}, nil
}

// Apply registers a task definition revision with the new image tag and
// updates the service to it.
func (p *ECS) Apply(ctx context.Context, service, version string, strategy models.Strategy) (*gate.Release, error) {
	svc, err := p.describeService(ctx, service)
	if err != nil {
		return nil, err
	}

	td, err := p.ecs.DescribeTaskDefinition(ctx, &ecs.DescribeTaskDefinitionInput{
		TaskDefinition: svc.TaskDefinition,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe task definition: %w", err)
	}

	current := td.TaskDefinition
	defs := make([]ecstypes.ContainerDefinition, len(current.ContainerDefinitions))
	copy(defs, current.ContainerDefinitions)
	if len(defs) == 0 || defs[0].Image == nil {
		return nil, fmt.Errorf("task definition %s has no container image", aws.ToString(current.TaskDefinitionArn))
	}
	defs[0].Image = aws.String(retagImage(*defs[0].Image, version))

	registered, err := p.ecs.RegisterTaskDefinition(ctx, &ecs.RegisterTaskDefinitionInput{
		Family:                  current.Family,
		ContainerDefinitions:    defs,
		Cpu:                     current.Cpu,
		Memory:                  current.Memory,
		ExecutionRoleArn:        current.ExecutionRoleArn,
		TaskRoleArn:             current.TaskRoleArn,
		NetworkMode:             current.NetworkMode,
		RequiresCompatibilities: current.RequiresCompatibilities,
		Volumes:                 current.Volumes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register task definition: %w", err)
	}

	newArn := aws.ToString(registered.TaskDefinition.TaskDefinitionArn)

	update := &ecs.UpdateServiceInput{
		Cluster:                 aws.String(p.cluster),
		Service:                 aws.String(service),
		TaskDefinition:          aws.String(newArn),
		DeploymentConfiguration: deploymentConfig(strategy),
	}
	if _, err := p.ecs.UpdateService(ctx, update); err != nil {
		return nil, fmt.Errorf("failed to update service: %w", err)
	}

	return &gate.Release{Service: service, Version: version, Ref: newArn}, nil
}

// deploymentConfig maps the requested strategy onto ECS deployment limits:
// blue-green keeps the full old set healthy while the new set comes up,
// rolling replaces instances in place.
func deploymentConfig(strategy models.Strategy) *ecstypes.DeploymentConfiguration {
	switch strategy {
	case models.StrategyBlueGreen:
		return &ecstypes.DeploymentConfiguration{
			MinimumHealthyPercent: aws.Int32(100),
			MaximumPercent:        aws.Int32(200),
		}
	default:
		return &ecstypes.DeploymentConfiguration{
			MinimumHealthyPercent: aws.Int32(50),
			MaximumPercent:        aws.Int32(150),
		}
	}
}

// WaitForRollout blocks until the service has a single PRIMARY deployment in
// COMPLETED state, or the timeout elapses.
func (p *ECS) WaitForRollout(ctx context.Context, service string, timeout time.Duration) error {
	attempts := pollAttempts(timeout, ecsPollInterval)
	err := gate.Poll(ctx, p.clock, attempts, ecsPollInterval, func(ctx context.Context) (bool, error) {
		svc, err := p.describeService(ctx, service)
		if err != nil {
			return false, err
		}
		if len(svc.Deployments) != 1 {
			return false, nil
		}
		d := svc.Deployments[0]
		if d.RolloutState == ecstypes.DeploymentRolloutStateFailed {
			return false, fmt.Errorf("rollout failed: %s", aws.ToString(d.RolloutStateReason))
		}
		return d.RolloutState == ecstypes.DeploymentRolloutStateCompleted, nil
	})
	if errors.Is(err, gate.ErrPollExhausted) {
		return fmt.Errorf("rollout not complete after %s", timeout)
	}
	return err
}

// WaitForReady blocks until running count matches desired count.
func (p *ECS) WaitForReady(ctx context.Context, service string, timeout time.Duration) error {
	attempts := pollAttempts(timeout, ecsPollInterval)
	err := gate.Poll(ctx, p.clock, attempts, ecsPollInterval, func(ctx context.Context) (bool, error) {
		svc, err := p.describeService(ctx, service)
		if err != nil {
			return false, err
		}
		return svc.RunningCount == svc.DesiredCount && svc.DesiredCount > 0, nil
	})
	if errors.Is(err, gate.ErrPollExhausted) {
		return fmt.Errorf("replicas not ready after %s", timeout)
	}
	return err
}

// Rollback re-points the service at the snapshotted task definition.
func (p *ECS) Rollback(ctx context.Context, service string, snapshot *gate.Release) error {
	_, err := p.ecs.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:        aws.String(p.cluster),
		Service:        aws.String(service),
		TaskDefinition: aws.String(snapshot.Ref),
	})
	if err != nil {
		return fmt.Errorf("failed to roll back to %s: %w", snapshot.Ref, err)
	}
	return nil
}

// HasSigningCredential checks the audit signing secret exists in Secrets
// Manager for the target environment.
func (p *ECS) HasSigningCredential(ctx context.Context) (bool, error) {
	if p.signingSecret == "" {
		return false, nil
	}
	_, err := p.secrets.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(p.signingSecret),
	})
	if err != nil {
		var notFound *smtypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check signing secret: %w", err)
	}
	return true, nil
}

func pollAttempts(timeout, interval time.Duration) int {
	attempts := int(timeout / interval)
	if attempts < 1 {
		attempts = 1
	}
	return attempts
}

// imageTag extracts the tag from an image reference, defaulting to latest.
func imageTag(image string) string {
	parts := strings.Split(strings.Split(image, " ")[0], ":")
	if len(parts) < 2 {
		return "latest"
	}
	return parts[len(parts)-1]
}

// retagImage replaces the tag on an image reference.
func retagImage(image, tag string) string {
	base := strings.Split(image, " ")[0]
	if idx := strings.LastIndex(base, ":"); idx > strings.LastIndex(base, "/") {
		base = base[:idx]
	}
	return base + ":" + tag
}
