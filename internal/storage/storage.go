// Package storage writes public-read objects (QR codes) to S3-compatible
// object storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectStore stores a blob under key and returns a stable public URL for it.
// Writing the same key twice overwrites it.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

type S3Config struct {
	AccessKey    string
	SecretKey    string
	Region       string
	Bucket       string
	BaseEndpoint string // empty for AWS, set for MinIO / Spaces
	PublicURL    string // prefix objects are served from
}

// putter is the part of *s3.Client that S3Store uses.
type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Store struct {
	client    putter
	bucket    string
	publicURL string
}

func NewS3Store(ctx context.Context, c S3Config) (*S3Store, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(c.Region)}
	if c.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(c.BaseEndpoint)
			o.UsePathStyle = true
		}
	})

	public := c.PublicURL
	if public == "" {
		public = defaultPublicURL(c)
	}
	return newS3Store(client, c.Bucket, public), nil
}

func newS3Store(client putter, bucket, publicURL string) *S3Store {
	return &S3Store{client: client, bucket: bucket, publicURL: strings.TrimRight(publicURL, "/")}
}

func (s *S3Store) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	key = strings.TrimLeft(key, "/")
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(body),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=31536000"),
		ACL:          types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return s.publicURL + "/" + key, nil
}

func defaultPublicURL(c S3Config) string {
	if c.BaseEndpoint != "" {
		return strings.TrimRight(c.BaseEndpoint, "/") + "/" + c.Bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", c.Bucket, c.Region)
}
