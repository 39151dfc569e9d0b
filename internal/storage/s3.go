package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"marquee/internal/config"
)

// S3API is the subset of the S3 client used by S3Mover.
type S3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Mover moves objects within one bucket using server-side copies.
type S3Mover struct {
	client S3API
	bucket string
}

// NewS3Mover builds a client from the default AWS credential chain. Region,
// endpoint and path-style addressing come from the [storage.s3] section.
func NewS3Mover(ctx context.Context, cfg config.S3Storage) (*S3Mover, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
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
	return NewS3MoverWithClient(client, cfg.Bucket), nil
}

// NewS3MoverWithClient wraps an existing client.
func NewS3MoverWithClient(client S3API, bucket string) *S3Mover {
	return &S3Mover{client: client, bucket: bucket}
}

type objectInfo struct {
	size int64
	etag string
}

func (m *S3Mover) head(ctx context.Context, key string) (objectInfo, bool, error) {
	out, err := m.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return objectInfo{}, false, nil
		}
		return objectInfo{}, false, classifyS3("s3 head", key, err)
	}
	return objectInfo{size: aws.ToInt64(out.ContentLength), etag: aws.ToString(out.ETag)}, true, nil
}

// Exists reports whether the object is present.
func (m *S3Mover) Exists(ctx context.Context, ref Ref) (bool, error) {
	_, ok, err := m.head(ctx, cleanKey(ref.Path))
	return ok, err
}

// Move copies src to dst server-side, verifies the copy, and deletes src.
func (m *S3Mover) Move(ctx context.Context, src, dst Ref) error {
	srcKey, dstKey := cleanKey(src.Path), cleanKey(dst.Path)

	srcInfo, srcOK, err := m.head(ctx, srcKey)
	if err != nil {
		return err
	}
	if srcKey == dstKey {
		if srcOK {
			return nil
		}
		return missing("s3 move", src)
	}
	dstInfo, dstOK, err := m.head(ctx, dstKey)
	if err != nil {
		return err
	}
	switch {
	case !srcOK && dstOK:
		return nil
	case !srcOK:
		return missing("s3 move", src)
	case dstOK:
		if !sameObject(srcInfo, dstInfo) {
			return permanent("s3 move", dstKey, ErrDestinationConflict)
		}
		return m.delete(ctx, srcKey)
	}

	copySource := (&url.URL{Path: m.bucket + "/" + srcKey}).EscapedPath()
	if _, err := m.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(m.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(copySource),
	}); err != nil {
		if isS3NotFound(err) {
			// The source was moved by someone else between head and copy.
			if _, ok, headErr := m.head(ctx, dstKey); headErr == nil && ok {
				return nil
			}
		}
		return classifyS3("s3 copy", dstKey, err)
	}

	copied, ok, err := m.head(ctx, dstKey)
	if err != nil {
		return err
	}
	if !ok || copied.size != srcInfo.size {
		return transient("s3 move", fmt.Sprintf("copy of %s not visible with expected size", srcKey), nil)
	}
	return m.delete(ctx, srcKey)
}

func (m *S3Mover) delete(ctx context.Context, key string) error {
	if _, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	}); err != nil && !isS3NotFound(err) {
		return classifyS3("s3 delete", key, err)
	}
	return nil
}

func sameObject(a, b objectInfo) bool {
	if a.size != b.size {
		return false
	}
	if a.etag != "" && b.etag != "" {
		return a.etag == b.etag
	}
	return true
}

func isS3NotFound(err error) bool {
	var (
		notFound *s3types.NotFound
		noKey    *s3types.NoSuchKey
	)
	if errors.As(err, &notFound) || errors.As(err, &noKey) {
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

// classifyS3 maps SDK failures onto the retry taxonomy. Throttling and server
// faults are transient; authorization and missing-bucket errors are not.
func classifyS3(op, key string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "Throttling", "ThrottlingException", "RequestTimeout", "RequestTimeTooSkewed",
			"InternalError", "ServiceUnavailable":
			return transient(op, key, err)
		case "AccessDenied", "NoSuchBucket", "InvalidObjectState", "InvalidRequest", "InvalidBucketName":
			return permanent(op, key, err)
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		if code == 408 || code == 429 || code >= 500 {
			return transient(op, key, err)
		}
		if code >= 400 {
			return permanent(op, key, err)
		}
	}
	return transient(op, key, err)
}
