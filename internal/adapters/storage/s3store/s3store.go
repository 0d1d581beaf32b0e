// Package s3store implements ports.StorageProvider on Amazon S3 and
// S3-compatible endpoints.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/ekrata/echomimic-v2/internal/ports"
)

// Options configures the client.
type Options struct {
	Bucket       string
	Region       string
	Endpoint     string
	UsePathStyle bool
	// AccessKeyID and SecretAccessKey override the default credential chain
	// when either is set.
	AccessKeyID     string
	SecretAccessKey string
}

// Client is an S3-backed storage provider.
type Client struct {
	bucket   string
	s3       *s3.Client
	uploader *manager.Uploader
	presign  *s3.PresignClient
	creds    aws.CredentialsProvider
	partial  bool
}

// New loads the default AWS configuration and builds a Client. Missing
// credentials are not an error here; they surface on the first upload.
func New(ctx context.Context, opt Options) (*Client, error) {
	if opt.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opt.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opt.Region))
	}
	if opt.AccessKeyID != "" && opt.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opt.AccessKeyID, opt.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	c := NewFromConfig(cfg, opt)
	c.partial = partialStatic(opt) || partialEnv()
	return c, nil
}

// NewFromConfig builds a Client from an existing aws.Config.
func NewFromConfig(cfg aws.Config, opt Options) *Client {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opt.Endpoint != "" {
			o.BaseEndpoint = aws.String(opt.Endpoint)
		}
		o.UsePathStyle = opt.UsePathStyle
	})

	return &Client{
		bucket:   opt.Bucket,
		s3:       client,
		uploader: manager.NewUploader(client),
		presign:  s3.NewPresignClient(client),
		creds:    cfg.Credentials,
		partial:  partialStatic(opt),
	}
}

func (c *Client) Provider() string { return "s3" }

// Bucket returns the target bucket.
func (c *Client) Bucket() string { return c.bucket }

// PutObject uploads in.Reader to {bucket}/{in.ObjectKey}. Credential problems
// wrap ports.ErrCredentialsMissing or ports.ErrCredentialsIncomplete.
func (c *Client) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, fmt.Errorf("object_key is required")
	}
	if err := c.checkCredentials(ctx); err != nil {
		return ports.PutObjectOutput{}, err
	}

	put := &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(in.ObjectKey),
		Body:   in.Reader,
	}
	if in.ContentType != "" {
		put.ContentType = aws.String(in.ContentType)
	}

	if _, err := c.uploader.Upload(ctx, put); err != nil {
		return ports.PutObjectOutput{}, classify(fmt.Errorf("upload s3://%s/%s: %w", c.bucket, in.ObjectKey, err))
	}

	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: in.Size}, nil
}

func (c *Client) GetObject(ctx context.Context, objectKey string) (io.ReadCloser, string, int64, error) {
	if err := c.checkCredentials(ctx); err != nil {
		return nil, "", 0, err
	}

	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return nil, "", 0, classify(fmt.Errorf("get s3://%s/%s: %w", c.bucket, objectKey, err))
	}

	return out.Body, aws.ToString(out.ContentType), aws.ToInt64(out.ContentLength), nil
}

func (c *Client) DeleteObject(ctx context.Context, objectKey string) error {
	if err := c.checkCredentials(ctx); err != nil {
		return err
	}

	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return classify(fmt.Errorf("delete s3://%s/%s: %w", c.bucket, objectKey, err))
	}
	return nil
}

func (c *Client) GetSignedURL(ctx context.Context, objectKey string, expiresIn time.Duration) (ports.SignedURLOutput, error) {
	if err := c.checkCredentials(ctx); err != nil {
		return ports.SignedURLOutput{}, err
	}

	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(expiresIn))
	if err != nil {
		return ports.SignedURLOutput{}, classify(err)
	}

	return ports.SignedURLOutput{URL: req.URL, ExpiresAt: time.Now().UTC().Add(expiresIn)}, nil
}

// Check verifies credentials and bucket access with HeadBucket.
func (c *Client) Check(ctx context.Context) error {
	if err := c.checkCredentials(ctx); err != nil {
		return err
	}
	if _, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return classify(fmt.Errorf("head bucket %s: %w", c.bucket, err))
	}
	return nil
}

func (c *Client) checkCredentials(ctx context.Context) error {
	if c.partial {
		return fmt.Errorf("s3: only one of access key id and secret access key is set: %w", ports.ErrCredentialsIncomplete)
	}
	if c.creds == nil {
		return fmt.Errorf("s3: no credential provider: %w", ports.ErrCredentialsMissing)
	}

	creds, err := c.creds.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("s3: %v: %w", err, ports.ErrCredentialsMissing)
	}
	switch {
	case creds.AccessKeyID == "" && creds.SecretAccessKey == "":
		return fmt.Errorf("s3: empty credentials: %w", ports.ErrCredentialsMissing)
	case creds.AccessKeyID == "" || creds.SecretAccessKey == "":
		return fmt.Errorf("s3: partial credentials from %s: %w", creds.Source, ports.ErrCredentialsIncomplete)
	}
	return nil
}

// credentialErrorCodes are S3 error codes that mean the request was signed
// with unusable credentials.
var credentialErrorCodes = map[string]bool{
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"ExpiredToken":          true,
	"InvalidToken":          true,
	"TokenRefreshRequired":  true,
}

func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && credentialErrorCodes[apiErr.ErrorCode()] {
		return fmt.Errorf("%w: %w", ports.ErrCredentialsMissing, err)
	}
	return err
}

func partialStatic(opt Options) bool {
	return (opt.AccessKeyID == "") != (opt.SecretAccessKey == "")
}

func partialEnv() bool {
	id := strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID"))
	secret := strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY"))
	return (id == "") != (secret == "")
}
