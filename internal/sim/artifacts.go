package sim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"lesson-plan-agent/internal/config"
)

// ArtifactStore persists generated documents to an S3-compatible bucket.
type ArtifactStore struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewArtifactStore connects to the configured bucket. Returns nil with no
// error when no bucket is set, which disables artifact persistence.
func NewArtifactStore(ctx context.Context, cfg config.Config) (*ArtifactStore, error) {
	if cfg.ArtifactBucket == "" {
		return nil, nil
	}
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &ArtifactStore{client: client, bucket: cfg.ArtifactBucket, prefix: cfg.ArtifactPrefix}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ArtifactRegion),
	}
	if cfg.ArtifactEndpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.ArtifactEndpoint,
					HostnameImmutable: cfg.ArtifactPathStyle,
					SigningRegion:     cfg.ArtifactRegion,
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
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ArtifactPathStyle
	}), nil
}

// Put stores one document as JSON under <prefix>/<id>.json.
func (a *ArtifactStore) Put(ctx context.Context, id string, doc Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	key := path.Join(a.prefix, id+".json")
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}
