// Copyright 2026 The CDL Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/connected-data-lake/cdl/lib/lakeerr"
	"github.com/connected-data-lake/cdl/lib/location"
)

// S3Options configures the object-store client.
type S3Options struct {
	// Endpoint is the base URL of an S3-compatible service. Empty uses
	// the AWS endpoint for Region.
	Endpoint string

	// Region is used for request signing. S3-compatible stores usually
	// accept any value; "auto" is the conventional placeholder.
	Region string

	// AccessKeyID and SecretAccessKey select static credentials. When
	// either is empty the SDK default credential chain is used.
	AccessKeyID     string
	SecretAccessKey string

	// PathStyle addresses buckets as a path component instead of a
	// virtual host. Most self-hosted stores require it.
	PathStyle bool
}

// S3 stores objects under a bucket and key prefix.
type S3 struct {
	location location.Location
	client   *s3.Client
	logger   *slog.Logger
}

// NewS3 builds a client for loc. Credentials are loaded here but no
// request is sent.
func NewS3(ctx context.Context, loc location.Location, options S3Options, logger *slog.Logger) (*S3, error) {
	if loc.Kind != location.S3 {
		return nil, fmt.Errorf("backend: %s is not an s3 location", loc)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	region := options.Region
	if region == "" {
		region = "auto"
	}

	var loadOptions []func(*awsconfig.LoadOptions) error
	loadOptions = append(loadOptions, awsconfig.WithRegion(region))
	if options.AccessKeyID != "" && options.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(options.AccessKeyID, options.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if options.Endpoint != "" {
			o.BaseEndpoint = aws.String(options.Endpoint)
		}
		o.UsePathStyle = options.PathStyle
		// Retries happen per entry in the lake layer.
		o.RetryMaxAttempts = 1
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &S3{
		location: loc,
		client:   client,
		logger:   logger.With("backend", "s3", "bucket", loc.Bucket, "prefix", loc.Path),
	}, nil
}

func (b *S3) Location() location.Location { return b.location }

func (b *S3) Get(ctx context.Context, key string) ([]byte, error) {
	if !ValidKey(key) {
		return nil, invalidKey(key)
	}
	output, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.location.Bucket),
		Key:    aws.String(b.location.Key(key)),
	})
	if err != nil {
		return nil, classifyS3(key, err)
	}
	defer output.Body.Close()

	var buffer bytes.Buffer
	if output.ContentLength != nil && *output.ContentLength > 0 {
		buffer.Grow(int(*output.ContentLength))
	}
	if _, err := io.Copy(&buffer, output.Body); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, lakeerr.Unavailable(fmt.Errorf("s3 backend: reading %s: %w", key, err))
	}
	return buffer.Bytes(), nil
}

func (b *S3) Put(ctx context.Context, key string, data []byte) error {
	if !ValidKey(key) {
		return invalidKey(key)
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.location.Bucket),
		Key:           aws.String(b.location.Key(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return classifyS3(key, err)
	}
	b.logger.Debug("stored object", "key", key, "size", len(data))
	return nil
}

func (b *S3) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if !ValidKey(key) {
		return ObjectInfo{}, invalidKey(key)
	}
	output, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.location.Bucket),
		Key:    aws.String(b.location.Key(key)),
	})
	if err != nil {
		return ObjectInfo{}, classifyS3(key, err)
	}
	info := ObjectInfo{Key: key, Size: aws.ToInt64(output.ContentLength)}
	if output.LastModified != nil {
		info.ModTime = *output.LastModified
	}
	return info, nil
}

func (b *S3) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	fullPrefix := prefix
	if b.location.Path != "" {
		fullPrefix = b.location.Path + "/" + prefix
	}
	trim := len(fullPrefix) - len(prefix)

	var objects []ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.location.Bucket),
		Prefix: aws.String(fullPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classifyS3(prefix, err)
		}
		for _, object := range page.Contents {
			fullKey := aws.ToString(object.Key)
			if !strings.HasPrefix(fullKey, fullPrefix) {
				continue
			}
			info := ObjectInfo{Key: fullKey[trim:], Size: aws.ToInt64(object.Size)}
			if object.LastModified != nil {
				info.ModTime = *object.LastModified
			}
			objects = append(objects, info)
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// classifyS3 maps SDK errors onto the backend taxonomy: 404s become
// ErrObjectNotFound, throttling and 5xx responses and transport
// failures become transient, other API errors are permanent.
func classifyS3(key string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}

	wrapped := fmt.Errorf("s3 backend: %s: %w", key, err)

	var responseErr *awshttp.ResponseError
	if errors.As(err, &responseErr) {
		status := responseErr.HTTPStatusCode()
		switch {
		case status == 404:
			return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		case status == 429 || status >= 500:
			return lakeerr.Unavailable(wrapped)
		}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable", "Throttling", "ThrottlingException":
			return lakeerr.Unavailable(wrapped)
		}
		return wrapped
	}

	// No API response at all: DNS, connection refused, reset.
	return lakeerr.Unavailable(wrapped)
}
