package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Options configures the object store client.
type S3Options struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	UseSSL          bool
}

// NewS3 creates a minio client for s3:// locators. Endpoint may be a bare
// host:port or a URL; an https URL forces TLS.
func NewS3(opts S3Options) (*minio.Client, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	if opts.AccessKeyID == "" || opts.SecretAccessKey == "" {
		return nil, fmt.Errorf("s3 credentials are required")
	}

	endpoint := opts.Endpoint
	useSSL := opts.UseSSL
	if u, err := url.Parse(opts.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		if u.Scheme == "https" {
			useSSL = true
		}
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: useSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return client, nil
}

// openS3 opens s3://bucket/key.
func (c *Client) openS3(ctx context.Context, u *url.URL, lim Limits) (*Body, error) {
	rawURL := u.String()
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, &Error{URL: rawURL, Err: fmt.Errorf("s3 locator needs bucket and key")}
	}

	obj, err := c.s3.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s3Error(rawURL, err)
	}

	// GetObject is lazy; Stat surfaces missing objects and the size.
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, s3Error(rawURL, err)
	}

	if lim.MaxBytes > 0 && info.Size > lim.MaxBytes {
		obj.Close()
		return nil, &Error{URL: rawURL, Err: ErrTooLarge}
	}

	return &Body{
		Reader:      NewLimitedReader(obj, lim.MaxBytes),
		Name:        rawURL,
		Size:        info.Size,
		ContentType: info.ContentType,
		closer:      obj,
	}, nil
}

func s3Error(rawURL string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return &Error{URL: rawURL, StatusCode: http.StatusNotFound, Err: err}
	}
	if resp.StatusCode != 0 {
		return &Error{URL: rawURL, StatusCode: resp.StatusCode, Err: err}
	}
	return &Error{URL: rawURL, Err: err}
}
