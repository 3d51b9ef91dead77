package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"

	"github.com/opsgate/releasegate/config"
)

// ECRClient is the subset of the ECR API the driver uses.
type ECRClient interface {
	DescribeImages(ctx context.Context, in *ecr.DescribeImagesInput, opts ...func(*ecr.Options)) (*ecr.DescribeImagesOutput, error)
}

// ECR verifies tags against AWS ECR directly, avoiding the Docker v2 API's
// token dance for ECR-hosted repositories.
type ECR struct {
	client ECRClient
}

func NewECR(ctx context.Context, cfg *config.RegistryConfig) (*ECR, error) {
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

	return &ECR{client: ecr.NewFromConfig(awsCfg)}, nil
}

// repositoryName strips the registry host from a full ECR repository URI.
func repositoryName(repository string) string {
	if idx := strings.Index(repository, "/"); idx >= 0 && strings.Contains(repository[:idx], ".") {
		return repository[idx+1:]
	}
	return repository
}

// TagExists checks whether the tag is published in the ECR repository.
func (c *ECR) TagExists(repository, tag string) (bool, error) {
	_, err := c.client.DescribeImages(context.Background(), &ecr.DescribeImagesInput{
		RepositoryName: aws.String(repositoryName(repository)),
		ImageIds: []ecrtypes.ImageIdentifier{
			{ImageTag: aws.String(tag)},
		},
	})
	if err != nil {
		var notFound *ecrtypes.ImageNotFoundException
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to describe image: %w", err)
	}
	return true, nil
}

// ListVersions lists published tags with push timestamps, newest first.
func (c *ECR) ListVersions(repository string, limit int) ([]ImageVersion, error) {
	var versions []ImageVersion
	var nextToken *string

	for {
		out, err := c.client.DescribeImages(context.Background(), &ecr.DescribeImagesInput{
			RepositoryName: aws.String(repositoryName(repository)),
			NextToken:      nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to describe images: %w", err)
		}

		for _, detail := range out.ImageDetails {
			for _, tag := range detail.ImageTags {
				v := ImageVersion{Tag: tag, Digest: aws.ToString(detail.ImageDigest)}
				if detail.ImagePushedAt != nil {
					v.CreatedAt = detail.ImagePushedAt.Format("2006-01-02T15:04:05Z07:00")
				}
				versions = append(versions, v)
			}
		}

		nextToken = out.NextToken
		if nextToken == nil {
			break
		}
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].CreatedAt > versions[j].CreatedAt
	})

	if limit > 0 && len(versions) > limit {
		versions = versions[:limit]
	}
	return versions, nil
}
