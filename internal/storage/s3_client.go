package storage

import (
	"context"
	"errors"
	"io"
	"net/url"
	"path"
	"strings"

	capsule_errors "capsule-vault/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/google/uuid"
)

const trashPrefix = "trash/"

type S3Config struct {
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Endpoint  string
}

// UploadMetadata travels with the object at upload time.
type UploadMetadata struct {
	Filename    string
	ContentType string
	Size        int64
}

// Client is the blob transfer collaborator. It mints the object key at upload
// time; that key becomes the capsule id. Deletion is two-phase: MoveToTrash
// then EmptyTrash, and both must confirm before any local state changes.
type Client struct {
	cfg S3Config
	s3  *s3.Client
}

func NewClient(ctx context.Context, cfg S3Config) (*Client, error) {
	if cfg.Region == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 region and bucket are required")
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Client{
		cfg: cfg,
		s3:  s3Client,
	}, nil
}

// Upload streams body to the bucket and returns the minted object key.
func (c *Client) Upload(ctx context.Context, body io.Reader, meta UploadMetadata) (string, error) {
	key := newObjectKey(meta.Filename)

	input := &s3.PutObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
		Body:   body,
		Metadata: map[string]string{
			"filename": meta.Filename,
		},
	}
	if meta.ContentType != "" {
		input.ContentType = aws.String(meta.ContentType)
	}
	if meta.Size > 0 {
		input.ContentLength = aws.Int64(meta.Size)
	}

	if _, err := c.s3.PutObject(ctx, input); err != nil {
		return "", capsule_errors.Upstream("upload", httpStatus(err), err)
	}
	return key, nil
}

// FetchStream opens the object for reading. The caller owns the closer.
func (c *Client) FetchStream(ctx context.Context, id string) (io.ReadCloser, int64, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, 0, capsule_errors.ErrNotFound
		}
		return nil, 0, capsule_errors.Upstream("fetch", httpStatus(err), err)
	}
	size := int64(0)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return out.Body, size, nil
}

// MoveToTrash is the first purge phase: the object is copied under the trash
// prefix and removed from its live key.
func (c *Client) MoveToTrash(ctx context.Context, id string) error {
	source := url.PathEscape(c.cfg.Bucket + "/" + id)
	_, err := c.s3.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(c.cfg.Bucket),
		Key:        aws.String(trashPrefix + id),
		CopySource: aws.String(source),
	})
	if err != nil {
		return capsule_errors.Upstream("move to trash", httpStatus(err), err)
	}
	_, err = c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		return capsule_errors.Upstream("move to trash", httpStatus(err), err)
	}
	return nil
}

// EmptyTrash is the second purge phase: every trashed object is deleted.
func (c *Client) EmptyTrash(ctx context.Context) error {
	var continuation *string
	for {
		page, err := c.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(c.cfg.Bucket),
			Prefix:            aws.String(trashPrefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return capsule_errors.Upstream("empty trash", httpStatus(err), err)
		}
		if len(page.Contents) > 0 {
			objects := make([]types.ObjectIdentifier, 0, len(page.Contents))
			for _, obj := range page.Contents {
				objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
			}
			_, err = c.s3.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(c.cfg.Bucket),
				Delete: &types.Delete{
					Objects: objects,
					Quiet:   aws.Bool(true),
				},
			})
			if err != nil {
				return capsule_errors.Upstream("empty trash", httpStatus(err), err)
			}
		}
		if page.IsTruncated == nil || !*page.IsTruncated {
			return nil
		}
		continuation = page.NextContinuationToken
	}
}

func newObjectKey(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	key := uuid.New().String()
	if ext == "" {
		return key
	}
	return key + ext
}

func httpStatus(err error) int {
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}
