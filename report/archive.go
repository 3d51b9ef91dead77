package report

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archive is long-term retention for report artifacts, beyond the local
// report directory. Regulated retention periods outlive any single host.
type Archive interface {
	Put(ctx context.Context, key string, data []byte) error
}

// S3API is the subset of the S3 API the archive uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive stores report artifacts in an S3 bucket under a fixed prefix.
type S3Archive struct {
	bucket string
	prefix string
	client S3API
}

func NewS3Archive(ctx context.Context, bucket, prefix, region string) (*S3Archive, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3Archive{
		bucket: bucket,
		prefix: prefix,
		client: s3.NewFromConfig(awsCfg),
	}, nil
}

func (a *S3Archive) Put(ctx context.Context, key string, data []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.prefix + "/" + key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to archive report: %w", err)
	}
	return nil
}
