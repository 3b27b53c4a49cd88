/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package offline

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures the s3:// fetcher.
type S3Config struct {
	Region          string
	Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Fetcher reads objects from S3 or an S3-compatible store.
type S3Fetcher struct {
	client *s3.Client
}

// NewS3Fetcher builds a client from cfg. Without static keys the default
// AWS credential chain applies.
func NewS3Fetcher(ctx context.Context, cfg S3Config) (*S3Fetcher, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &S3Fetcher{client: client}, nil
}

// Fetch returns the object body. The caller closes it.
func (f *S3Fetcher) Fetch(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}
