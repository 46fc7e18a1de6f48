package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/tendant/simplebox/pkg/storage"
)

// DefaultPresignDuration is the lifetime of presigned URLs.
const DefaultPresignDuration = time.Hour

// ClientSource supplies an S3 client carrying live credentials.
type ClientSource interface {
	ObjectStoreClient(ctx context.Context) (*s3.Client, error)
}

// Config options for the S3 backend
type Config struct {
	Bucket          string        // S3 bucket name
	PresignDuration time.Duration // Max lifetime of presigned URLs (default: 1h)

	// Server-side encryption options
	EnableSSE    bool   // Enable server-side encryption
	SSEAlgorithm string // SSE algorithm (AES256 or aws:kms)
	SSEKMSKeyID  string // Optional KMS key ID for aws:kms algorithm

	// MinIO/S3-compatible service options
	CreateBucketIfNotExist bool // Create bucket if it doesn't exist
}

// Backend is an S3 implementation of storage.BlobStore. Every operation asks
// the ClientSource for a client, so requests and presigned URLs are always
// signed with the current credentials.
type Backend struct {
	clients         ClientSource
	bucket          string
	presignDuration time.Duration
	config          Config
}

var _ storage.BlobStore = (*Backend)(nil)

// New creates a new S3 storage backend
func New(ctx context.Context, clients ClientSource, config Config) (*Backend, error) {
	if clients == nil {
		return nil, errors.New("client source is required")
	}
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if config.PresignDuration == 0 {
		config.PresignDuration = DefaultPresignDuration
	}

	backend := &Backend{
		clients:         clients,
		bucket:          config.Bucket,
		presignDuration: config.PresignDuration,
		config:          config,
	}

	if config.CreateBucketIfNotExist {
		if err := backend.createBucketIfNotExists(ctx); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return backend, nil
}

// Bucket returns the bucket name.
func (b *Backend) Bucket() string {
	return b.bucket
}

// createBucketIfNotExists creates the bucket if it doesn't exist
func (b *Backend) createBucketIfNotExists(ctx context.Context) error {
	client, err := b.clients.ObjectStoreClient(ctx)
	if err != nil {
		return err
	}

	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err == nil {
		return nil
	}

	// MinIO reports a missing bucket in several ways
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) &&
		!strings.Contains(err.Error(), "BadRequest") &&
		!strings.Contains(err.Error(), "NoSuchBucket") {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	createInput := &s3.CreateBucketInput{
		Bucket: aws.String(b.bucket),
	}
	if region := client.Options().Region; region != "us-east-1" {
		createInput.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}

	_, err = client.CreateBucket(ctx, createInput)
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		var alreadyExists *types.BucketAlreadyExists
		if errors.As(err, &alreadyOwned) || errors.As(err, &alreadyExists) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}

	return nil
}

// List returns every key under prefix
func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	client, err := b.clients.ObjectStoreClient(ctx)
	if err != nil {
		return nil, err
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	keys := []string{}
	paginator := s3.NewListObjectsV2Paginator(client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// GetObjectMeta retrieves metadata for an object in S3
func (b *Backend) GetObjectMeta(ctx context.Context, objectKey string) (*storage.ObjectMeta, error) {
	client, err := b.clients.ObjectStoreClient(ctx)
	if err != nil {
		return nil, err
	}

	result, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, objectKey)
		}
		return nil, fmt.Errorf("failed to get object metadata: %w", err)
	}

	contentType := "application/octet-stream"
	if result.ContentType != nil {
		contentType = *result.ContentType
	}

	metadata := make(map[string]string, len(result.Metadata))
	for k, v := range result.Metadata {
		metadata[k] = v
	}

	return &storage.ObjectMeta{
		Key:         objectKey,
		Size:        aws.ToInt64(result.ContentLength),
		ContentType: contentType,
		UpdatedAt:   aws.ToTime(result.LastModified),
		ETag:        strings.Trim(aws.ToString(result.ETag), "\""),
		Metadata:    metadata,
	}, nil
}

// GetUploadURL returns a presigned URL for uploading content
func (b *Backend) GetUploadURL(ctx context.Context, objectKey string) (string, error) {
	client, err := b.clients.ObjectStoreClient(ctx)
	if err != nil {
		return "", err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
	}
	b.applySSE(input)

	result, err := s3.NewPresignClient(client).PresignPutObject(ctx, input, b.presignExpiry(ctx, client))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned upload URL: %w", err)
	}

	return result.URL, nil
}

// Upload uploads content directly to S3
func (b *Backend) Upload(ctx context.Context, objectKey string, reader io.Reader) error {
	return b.upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
		Body:   reader,
	})
}

// UploadWithParams uploads content with additional parameters
func (b *Backend) UploadWithParams(ctx context.Context, reader io.Reader, params storage.UploadParams) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(params.ObjectKey),
		Body:   reader,
	}
	if params.MimeType != "" {
		input.ContentType = aws.String(params.MimeType)
	}
	return b.upload(ctx, input)
}

func (b *Backend) upload(ctx context.Context, input *s3.PutObjectInput) error {
	client, err := b.clients.ObjectStoreClient(ctx)
	if err != nil {
		return err
	}

	b.applySSE(input)

	_, err = manager.NewUploader(client).Upload(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	return nil
}

// GetDownloadURL returns a presigned URL for downloading content
func (b *Backend) GetDownloadURL(ctx context.Context, objectKey string, downloadFilename string) (string, error) {
	client, err := b.clients.ObjectStoreClient(ctx)
	if err != nil {
		return "", err
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
	}

	if downloadFilename != "" {
		input.ResponseContentDisposition = aws.String(storage.ContentDisposition(downloadFilename))
	}

	result, err := s3.NewPresignClient(client).PresignGetObject(ctx, input, b.presignExpiry(ctx, client))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned download URL: %w", err)
	}

	return result.URL, nil
}

// Download downloads content directly from S3
func (b *Backend) Download(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	client, err := b.clients.ObjectStoreClient(ctx)
	if err != nil {
		return nil, err
	}

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, objectKey)
		}
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}

	return result.Body, nil
}

// Delete deletes content from S3. Deleting a missing key succeeds.
func (b *Backend) Delete(ctx context.Context, objectKey string) error {
	client, err := b.clients.ObjectStoreClient(ctx)
	if err != nil {
		return err
	}

	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}

	return nil
}

// presignExpiry caps the URL lifetime at the remaining lifetime of the
// credentials that sign it.
func (b *Backend) presignExpiry(ctx context.Context, client *s3.Client) func(*s3.PresignOptions) {
	expires := b.presignDuration
	if provider := client.Options().Credentials; provider != nil {
		creds, err := provider.Retrieve(ctx)
		if err == nil && creds.CanExpire {
			remaining := time.Until(creds.Expires).Truncate(time.Second)
			if remaining >= time.Second && remaining < expires {
				expires = remaining
			}
		}
	}
	return func(opts *s3.PresignOptions) {
		opts.Expires = expires
	}
}

func (b *Backend) applySSE(input *s3.PutObjectInput) {
	if !b.config.EnableSSE {
		return
	}
	switch b.config.SSEAlgorithm {
	case "AES256":
		input.ServerSideEncryption = types.ServerSideEncryptionAes256
	case "aws:kms":
		input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		if b.config.SSEKMSKeyID != "" {
			input.SSEKMSKeyId = aws.String(b.config.SSEKMSKeyID)
		}
	}
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
