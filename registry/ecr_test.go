package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeECRClient struct {
	inputs  []*ecr.DescribeImagesInput
	outputs []*ecr.DescribeImagesOutput
	err     error
}

func (c *fakeECRClient) DescribeImages(ctx context.Context, in *ecr.DescribeImagesInput, opts ...func(*ecr.Options)) (*ecr.DescribeImagesOutput, error) {
	c.inputs = append(c.inputs, in)
	if c.err != nil {
		return nil, c.err
	}
	out := c.outputs[len(c.inputs)-1]
	return out, nil
}

func pushedAt(t time.Time) *time.Time { return &t }

func TestRepositoryName(t *testing.T) {
	tests := []struct {
		repository string
		expected   string
	}{
		{"123456789012.dkr.ecr.eu-west-1.amazonaws.com/filler-line", "filler-line"},
		{"123456789012.dkr.ecr.eu-west-1.amazonaws.com/manufacturing/filler-line", "manufacturing/filler-line"},
		{"filler-line", "filler-line"},
		// No registry host: the first segment is part of the repository name.
		{"manufacturing/filler-line", "manufacturing/filler-line"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, repositoryName(tt.repository), tt.repository)
	}
}

func TestECRTagExists(t *testing.T) {
	client := &fakeECRClient{outputs: []*ecr.DescribeImagesOutput{{}}}
	verifier := &ECR{client: client}

	ok, err := verifier.TagExists("123456789012.dkr.ecr.eu-west-1.amazonaws.com/filler-line", "v2.1.0")
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, "filler-line", aws.ToString(in.RepositoryName))
	require.Len(t, in.ImageIds, 1)
	assert.Equal(t, "v2.1.0", aws.ToString(in.ImageIds[0].ImageTag))
}

func TestECRTagExistsNotFound(t *testing.T) {
	verifier := &ECR{client: &fakeECRClient{err: &ecrtypes.ImageNotFoundException{}}}

	ok, err := verifier.TagExists("filler-line", "v9.9.9")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestECRTagExistsError(t *testing.T) {
	verifier := &ECR{client: &fakeECRClient{err: errors.New("throttled")}}

	_, err := verifier.TagExists("filler-line", "v2.1.0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestECRListVersions(t *testing.T) {
	client := &fakeECRClient{outputs: []*ecr.DescribeImagesOutput{
		{
			ImageDetails: []ecrtypes.ImageDetail{
				{
					ImageTags:     []string{"v2.0.4"},
					ImageDigest:   aws.String("sha256:aaa"),
					ImagePushedAt: pushedAt(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)),
				},
				{
					// One image pushed with two tags.
					ImageTags:     []string{"v2.1.0", "latest"},
					ImageDigest:   aws.String("sha256:bbb"),
					ImagePushedAt: pushedAt(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
				},
			},
			NextToken: aws.String("page-2"),
		},
		{
			ImageDetails: []ecrtypes.ImageDetail{
				{
					ImageTags:     []string{"v1.9.0"},
					ImageDigest:   aws.String("sha256:ccc"),
					ImagePushedAt: pushedAt(time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)),
				},
			},
		},
	}}
	verifier := &ECR{client: client}

	versions, err := verifier.ListVersions("123456789012.dkr.ecr.eu-west-1.amazonaws.com/filler-line", 0)
	require.NoError(t, err)

	// Both pages fetched, the second with the continuation token.
	require.Len(t, client.inputs, 2)
	assert.Nil(t, client.inputs[0].NextToken)
	assert.Equal(t, "page-2", aws.ToString(client.inputs[1].NextToken))

	// Newest first, one entry per tag.
	require.Len(t, versions, 4)
	assert.Equal(t, "v2.1.0", versions[0].Tag)
	assert.Equal(t, "latest", versions[1].Tag)
	assert.Equal(t, "v2.0.4", versions[2].Tag)
	assert.Equal(t, "v1.9.0", versions[3].Tag)
	assert.Equal(t, "sha256:bbb", versions[0].Digest)
	assert.Equal(t, "2026-03-01T10:00:00Z", versions[0].CreatedAt)
}

func TestECRListVersionsLimit(t *testing.T) {
	client := &fakeECRClient{outputs: []*ecr.DescribeImagesOutput{
		{
			ImageDetails: []ecrtypes.ImageDetail{
				{ImageTags: []string{"v1.0.0"}, ImagePushedAt: pushedAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))},
				{ImageTags: []string{"v1.1.0"}, ImagePushedAt: pushedAt(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))},
				{ImageTags: []string{"v1.2.0"}, ImagePushedAt: pushedAt(time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC))},
			},
		},
	}}
	verifier := &ECR{client: client}

	versions, err := verifier.ListVersions("filler-line", 2)
	require.NoError(t, err)

	// The limit truncates after the newest-first sort.
	require.Len(t, versions, 2)
	assert.Equal(t, "v1.2.0", versions[0].Tag)
	assert.Equal(t, "v1.1.0", versions[1].Tag)
}

func TestECRListVersionsError(t *testing.T) {
	verifier := &ECR{client: &fakeECRClient{err: errors.New("access denied")}}

	_, err := verifier.ListVersions("filler-line", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}
