package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/moby/locker"
	"github.com/spf13/afero"

	"stash-go/internal/config"
	"stash-go/internal/model"
	"stash-go/internal/stash"
)

// S3API is the subset of the S3 client used by S3BlobStore.
type S3API interface {
	manager.UploadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3BlobStore stores each blob as one object named <prefix><hash>.
// Staged objects are read from the local staging filesystem and uploaded
// with a conditional write, so concurrent publishers of the same hash in
// different processes still produce a single object.
type S3BlobStore struct {
	client   S3API
	uploader *manager.Uploader
	bucket   string
	prefix   string
	staging  afero.Fs
	locks    *locker.Locker
}

var _ stash.BlobStore = (*S3BlobStore)(nil)

// NewS3BlobStore creates a blob store on an existing client.
func NewS3BlobStore(client S3API, bucket, prefix string, staging afero.Fs) *S3BlobStore {
	return &S3BlobStore{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
		staging:  staging,
		locks:    locker.New(),
	}
}

// NewS3BlobStoreFromConfig builds an S3 client from the default AWS
// configuration chain, overridden by explicit config values.
func NewS3BlobStoreFromConfig(ctx context.Context, cfg config.BlobsConfig, staging afero.Fs) (*S3BlobStore, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3BlobStore(client, cfg.S3Bucket, cfg.S3Prefix, staging), nil
}

func (s *S3BlobStore) key(hash model.ContentHash) string {
	return s.prefix + hash.String()
}

// Publish uploads the staged object unless the object already exists.
// The staged object is removed once the blob is known to be stored.
func (s *S3BlobStore) Publish(ctx context.Context, staged *stash.StagedObject) (stash.PublishOutcome, error) {
	k := staged.Hash.String()
	s.locks.Lock(k)
	defer s.locks.Unlock(k)

	exists, err := s.Has(ctx, staged.Hash)
	if err != nil {
		return 0, err
	}

	outcome := stash.BlobExisted
	if !exists {
		outcome, err = s.upload(ctx, staged)
		if err != nil {
			return 0, err
		}
	}

	// The blob is stored, so the outcome stands even if removal fails; the
	// caller discards leftovers.
	_ = s.staging.Remove(staged.Path)
	return outcome, nil
}

func (s *S3BlobStore) upload(ctx context.Context, staged *stash.StagedObject) (stash.PublishOutcome, error) {
	f, err := s.staging.Open(staged.Path)
	if err != nil {
		return 0, stash.NewIOError("opening staged object", err)
	}
	defer f.Close()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(staged.Hash)),
		Body:        f,
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return stash.BlobExisted, nil
		}
		return 0, stash.NewIOError("uploading blob", err)
	}
	return stash.BlobCreated, nil
}

// Open streams the object body.
func (s *S3BlobStore) Open(ctx context.Context, hash model.ContentHash) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: blob %s", stash.ErrNotFound, hash.Short())
		}
		return nil, stash.NewIOError("downloading blob", err)
	}
	return out.Body, nil
}

// Locate returns the object's s3:// URL.
func (s *S3BlobStore) Locate(ctx context.Context, hash model.ContentHash) (string, error) {
	ok, err := s.Has(ctx, hash)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: blob %s", stash.ErrNotFound, hash.Short())
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key(hash)), nil
}

// Has issues a HEAD request for the object.
func (s *S3BlobStore) Has(ctx context.Context, hash model.ContentHash) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, stash.NewIOError("checking blob", err)
	}
	return true, nil
}

// Modified returns the object's Last-Modified time.
func (s *S3BlobStore) Modified(ctx context.Context, hash model.ContentHash) (time.Time, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
	})
	if err != nil {
		if isNotFound(err) {
			return time.Time{}, fmt.Errorf("%w: blob %s", stash.ErrNotFound, hash.Short())
		}
		return time.Time{}, stash.NewIOError("checking blob", err)
	}
	return aws.ToTime(out.LastModified), nil
}

// Delete removes the object. S3 deletes are idempotent, so existence is
// checked first to report ErrNotFound.
func (s *S3BlobStore) Delete(ctx context.Context, hash model.ContentHash) error {
	k := hash.String()
	s.locks.Lock(k)
	defer s.locks.Unlock(k)

	ok, err := s.Has(ctx, hash)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: blob %s", stash.ErrNotFound, hash.Short())
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
	})
	if err != nil {
		return stash.NewIOError("erasing blob", err)
	}
	return nil
}

// List pages through every object under the prefix.
func (s *S3BlobStore) List(ctx context.Context) ([]model.ContentHash, error) {
	var hashes []model.ContentHash
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, stash.NewIOError("listing blobs", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			h, err := model.ParseContentHash(name)
			if err != nil {
				continue
			}
			hashes = append(hashes, h)
		}
	}
	return hashes, nil
}

// ValidateSetup verifies that the bucket can be listed.
func (s *S3BlobStore) ValidateSetup(ctx context.Context) error {
	_, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", s.bucket, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
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

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed"
}
