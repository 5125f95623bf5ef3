package rangefetch

import (
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"go.viam.com/copc/mirror"
)

// S3Options configures an S3Transport. Empty keys fall back to the standard AWS and MinIO
// environment variables.
type S3Options struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Secure          bool
}

// S3Transport reads ranges from any S3-compatible object store (AWS, MinIO, IBM COS, ...).
type S3Transport struct {
	client *minio.Client
}

// NewS3Transport returns a transport talking to the endpoint in opts.
func NewS3Transport(opts S3Options) (*S3Transport, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("s3 transport requires an endpoint")
	}
	var creds *credentials.Credentials
	if opts.AccessKeyID != "" {
		creds = credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
		})
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: opts.Secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "creating s3 client for %q", opts.Endpoint)
	}
	return &S3Transport{client: client}, nil
}

// GetRange issues a ranged GetObject. The object is read lazily, so request errors may surface on
// the first Read of the returned stream.
func (t *S3Transport) GetRange(ctx context.Context, bucket, key string, r mirror.ByteRange) (io.ReadCloser, error) {
	var opts minio.GetObjectOptions
	// SetRange takes an inclusive end offset.
	if err := opts.SetRange(r.Start, r.End-1); err != nil {
		return nil, err
	}
	obj, err := t.client.GetObject(ctx, bucket, key, opts)
	if err != nil {
		return nil, err
	}
	return obj, nil
}
