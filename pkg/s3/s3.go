package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

const presignExpiry = 15 * time.Minute

type ItfS3 interface {
	UploadBytes(ctx context.Context, key string, contentType string, data []byte) (string, error)
	PresignUrl(key string) (string, error)
	DeleteFile(key string) error
}

type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	// Endpoint overrides the AWS endpoint, e.g. for MinIO.
	Endpoint string
}

type s3Client struct {
	client     *s3.S3
	uploader   *s3manager.Uploader
	bucketName string
}

func New(cfg Config) (ItfS3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("S3 bucket name is required")
	}

	sess, err := newSession(cfg)
	if err != nil {
		return nil, err
	}

	return &s3Client{
		client:     s3.New(sess),
		uploader:   s3manager.NewUploader(sess),
		bucketName: cfg.Bucket,
	}, nil
}

// UploadBytes stores data under key and returns the key.
func (s *s3Client) UploadBytes(ctx context.Context, key string, contentType string, data []byte) (string, error) {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	return key, nil
}

func (s *s3Client) PresignUrl(key string) (string, error) {
	_, err := s.client.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("file does not exist: %w", err)
	}

	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})

	urlStr, err := req.Presign(presignExpiry)
	if err != nil {
		return "", err
	}

	return urlStr, nil
}

func (s *s3Client) DeleteFile(key string) error {
	_, err := s.client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})

	return err
}

func newSession(cfg Config) (*session.Session, error) {
	awsCfg := &aws.Config{
		Region: aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, err
	}

	return sess, nil
}
