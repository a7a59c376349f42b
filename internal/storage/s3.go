package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"scrape-orchestrator/internal/apperr"
	"scrape-orchestrator/internal/config"
)

// S3 writes objects to S3-compatible storage. A non-empty EncryptionKeyRef on
// a write selects SSE-KMS with that key id.
type S3 struct {
	client *s3.Client
}

// NewS3 builds a client from runtime config, honoring a custom endpoint for
// local stacks.
func NewS3(ctx context.Context, cfg config.Config) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.S3Endpoint,
					HostnameImmutable: cfg.S3PathStyle,
					SigningRegion:     cfg.S3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3PathStyle
	})
	return &S3{client: client}, nil
}

// Put uploads one object. Tags become S3 object metadata.
func (s *S3) Put(ctx context.Context, bucket, path string, data []byte, meta ObjectMeta) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(path),
		Body:     bytes.NewReader(data),
		Metadata: meta.Tags,
	}
	if meta.ContentType != "" {
		input.ContentType = aws.String(meta.ContentType)
	}
	if meta.EncryptionKeyRef != "" {
		input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		input.SSEKMSKeyId = aws.String(meta.EncryptionKeyRef)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", apperr.Wrap(apperr.CodeTransient, "storage.put", fmt.Errorf("put object %s/%s: %w", bucket, path, err))
	}
	return fmt.Sprintf("s3://%s/%s", bucket, path), nil
}
