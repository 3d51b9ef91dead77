package platform

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgate/releasegate/gate"
	"github.com/opsgate/releasegate/models"
)

type fakeECSClient struct {
	service       ecstypes.Service
	taskDef       ecstypes.TaskDefinition
	registered    *ecs.RegisterTaskDefinitionInput
	updated       []*ecs.UpdateServiceInput
	describeCalls int
}

func (c *fakeECSClient) DescribeServices(ctx context.Context, in *ecs.DescribeServicesInput, opts ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error) {
	c.describeCalls++
	return &ecs.DescribeServicesOutput{Services: []ecstypes.Service{c.service}}, nil
}

func (c *fakeECSClient) DescribeTaskDefinition(ctx context.Context, in *ecs.DescribeTaskDefinitionInput, opts ...func(*ecs.Options)) (*ecs.DescribeTaskDefinitionOutput, error) {
	return &ecs.DescribeTaskDefinitionOutput{TaskDefinition: &c.taskDef}, nil
}

func (c *fakeECSClient) RegisterTaskDefinition(ctx context.Context, in *ecs.RegisterTaskDefinitionInput, opts ...func(*ecs.Options)) (*ecs.RegisterTaskDefinitionOutput, error) {
	c.registered = in
	return &ecs.RegisterTaskDefinitionOutput{
		TaskDefinition: &ecstypes.TaskDefinition{
			TaskDefinitionArn: aws.String("arn:aws:ecs:task-def/filler-line:8"),
		},
	}, nil
}

func (c *fakeECSClient) UpdateService(ctx context.Context, in *ecs.UpdateServiceInput, opts ...func(*ecs.Options)) (*ecs.UpdateServiceOutput, error) {
	c.updated = append(c.updated, in)
	return &ecs.UpdateServiceOutput{}, nil
}

type fakeSecretsClient struct {
	err error
}

func (c *fakeSecretsClient) DescribeSecret(ctx context.Context, in *secretsmanager.DescribeSecretInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &secretsmanager.DescribeSecretOutput{Name: in.SecretId}, nil
}

type instantClock struct{}

func (instantClock) Now() time.Time                                { return time.Now() }
func (instantClock) Sleep(ctx context.Context, d time.Duration) error { return nil }

func testECS(client *fakeECSClient, secrets *fakeSecretsClient) *ECS {
	return &ECS{
		cluster:       "production",
		signingSecret: "releasegate/signing-key",
		ecs:           client,
		secrets:       secrets,
		clock:         instantClock{},
	}
}

func greenService() ecstypes.Service {
	return ecstypes.Service{
		TaskDefinition: aws.String("arn:aws:ecs:task-def/filler-line:7"),
		DesiredCount:   2,
		RunningCount:   2,
		Deployments: []ecstypes.Deployment{
			{RolloutState: ecstypes.DeploymentRolloutStateCompleted},
		},
	}
}

func TestECSCurrentRelease(t *testing.T) {
	client := &fakeECSClient{
		service: greenService(),
		taskDef: ecstypes.TaskDefinition{
			TaskDefinitionArn: aws.String("arn:aws:ecs:task-def/filler-line:7"),
			ContainerDefinitions: []ecstypes.ContainerDefinition{
				{Image: aws.String("registry.example.com/filler-line:v2.0.4")},
			},
		},
	}
	driver := testECS(client, &fakeSecretsClient{})

	release, err := driver.CurrentRelease(context.Background(), "filler-line")
	require.NoError(t, err)
	assert.Equal(t, "v2.0.4", release.Version)
	assert.Equal(t, "arn:aws:ecs:task-def/filler-line:7", release.Ref)
}

func TestECSApply(t *testing.T) {
	client := &fakeECSClient{
		service: greenService(),
		taskDef: ecstypes.TaskDefinition{
			TaskDefinitionArn: aws.String("arn:aws:ecs:task-def/filler-line:7"),
			Family:            aws.String("filler-line"),
			ContainerDefinitions: []ecstypes.ContainerDefinition{
				{Image: aws.String("registry.example.com/filler-line:v2.0.4")},
			},
		},
	}
	driver := testECS(client, &fakeSecretsClient{})

	release, err := driver.Apply(context.Background(), "filler-line", "v2.1.0", models.StrategyBlueGreen)
	require.NoError(t, err)
	assert.Equal(t, "v2.1.0", release.Version)
	assert.Equal(t, "arn:aws:ecs:task-def/filler-line:8", release.Ref)

	require.NotNil(t, client.registered)
	assert.Equal(t, "registry.example.com/filler-line:v2.1.0", aws.ToString(client.registered.ContainerDefinitions[0].Image))

	require.Len(t, client.updated, 1)
	update := client.updated[0]
	assert.Equal(t, "arn:aws:ecs:task-def/filler-line:8", aws.ToString(update.TaskDefinition))
	// Blue-green keeps the full old set healthy during the switch.
	assert.Equal(t, int32(100), aws.ToInt32(update.DeploymentConfiguration.MinimumHealthyPercent))
	assert.Equal(t, int32(200), aws.ToInt32(update.DeploymentConfiguration.MaximumPercent))
}

func TestECSWaitForRolloutAndReady(t *testing.T) {
	client := &fakeECSClient{service: greenService()}
	driver := testECS(client, &fakeSecretsClient{})

	assert.NoError(t, driver.WaitForRollout(context.Background(), "filler-line", 30*time.Second))
	assert.NoError(t, driver.WaitForReady(context.Background(), "filler-line", 30*time.Second))
}

func TestECSWaitForRolloutFailedState(t *testing.T) {
	svc := greenService()
	svc.Deployments = []ecstypes.Deployment{
		{
			RolloutState:       ecstypes.DeploymentRolloutStateFailed,
			RolloutStateReason: aws.String("tasks failed to start"),
		},
	}
	driver := testECS(&fakeECSClient{service: svc}, &fakeSecretsClient{})

	err := driver.WaitForRollout(context.Background(), "filler-line", 30*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tasks failed to start")
}

func TestECSRollback(t *testing.T) {
	client := &fakeECSClient{service: greenService()}
	driver := testECS(client, &fakeSecretsClient{})

	snapshot := &gate.Release{Service: "filler-line", Version: "v2.0.4", Ref: "arn:aws:ecs:task-def/filler-line:7"}
	require.NoError(t, driver.Rollback(context.Background(), "filler-line", snapshot))

	require.Len(t, client.updated, 1)
	assert.Equal(t, snapshot.Ref, aws.ToString(client.updated[0].TaskDefinition))
}

func TestECSHasSigningCredential(t *testing.T) {
	driver := testECS(&fakeECSClient{}, &fakeSecretsClient{})

	ok, err := driver.HasSigningCredential(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	driver = testECS(&fakeECSClient{}, &fakeSecretsClient{err: &smtypes.ResourceNotFoundException{}})
	ok, err = driver.HasSigningCredential(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	driver.signingSecret = ""
	ok, err = driver.HasSigningCredential(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestImageTag(t *testing.T) {
	tests := []struct {
		image    string
		expected string
	}{
		{"registry.example.com/filler-line:v2.1.0", "v2.1.0"},
		{"registry.example.com/filler-line", "latest"},
		{"registry.example.com:5000/filler-line:v2.1.0", "v2.1.0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, imageTag(tt.image), tt.image)
	}
}

func TestRetagImage(t *testing.T) {
	tests := []struct {
		image    string
		tag      string
		expected string
	}{
		{"registry.example.com/filler-line:v2.0.4", "v2.1.0", "registry.example.com/filler-line:v2.1.0"},
		{"registry.example.com/filler-line", "v2.1.0", "registry.example.com/filler-line:v2.1.0"},
		{"registry.example.com:5000/filler-line:old", "new", "registry.example.com:5000/filler-line:new"},
		{"registry.example.com:5000/filler-line", "new", "registry.example.com:5000/filler-line:new"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, retagImage(tt.image, tt.tag), tt.image)
	}
}

func TestPollAttempts(t *testing.T) {
	assert.Equal(t, 6, pollAttempts(30*time.Second, 5*time.Second))
	assert.Equal(t, 1, pollAttempts(time.Second, 5*time.Second))
	assert.Equal(t, 1, pollAttempts(0, 5*time.Second))
}
