package build

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tova-lang/tova/internal/errors"
)

// S3API is the slice of the S3 client the publisher needs. Tests supply
// a fake; production uses *s3.Client.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Publisher uploads build artifacts to an S3 bucket.
type Publisher struct {
	client S3API
	bucket string
	prefix string
}

// NewPublisher creates a publisher for dest, which is "bucket" or
// "bucket/prefix". Credentials and region come from the standard AWS
// environment variables.
func NewPublisher(dest string) (*Publisher, error) {
	bucket, prefix, err := splitDest(dest)
	if err != nil {
		return nil, err
	}

	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	client := s3.New(s3.Options{
		Region: region,
		Credentials: aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			creds := aws.Credentials{
				AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
				SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
				SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
			}
			if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
				return aws.Credentials{}, errors.New("E603").
					WithDetail("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set")
			}
			return creds, nil
		}),
	})

	return &Publisher{client: client, bucket: bucket, prefix: prefix}, nil
}

// NewPublisherWithClient creates a publisher around an existing client.
func NewPublisherWithClient(client S3API, dest string) (*Publisher, error) {
	bucket, prefix, err := splitDest(dest)
	if err != nil {
		return nil, err
	}
	return &Publisher{client: client, bucket: bucket, prefix: prefix}, nil
}

// Publish uploads every file under dir, preserving relative paths below
// the configured prefix. It returns the number of objects uploaded.
func (p *Publisher) Publish(ctx context.Context, dir string) (int, error) {
	uploaded := 0
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == cacheDirName {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}

		key := filepath.ToSlash(rel)
		if p.prefix != "" {
			key = p.prefix + "/" + key
		}
		_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.bucket),
			Key:         aws.String(key),
			Body:        f,
			ContentType: aws.String(contentTypeFor(path)),
		})
		// Close per file; a deferred close would hold every handle open
		// until the whole walk finishes.
		f.Close()
		if err != nil {
			return err
		}
		uploaded++
		return nil
	})
	if err != nil {
		return uploaded, errors.New("E603").Wrap(err)
	}
	return uploaded, nil
}

func splitDest(dest string) (bucket, prefix string, err error) {
	dest = strings.Trim(dest, "/")
	if dest == "" {
		return "", "", errors.New("E603").WithDetail("publish destination is empty")
	}
	if i := strings.IndexByte(dest, '/'); i >= 0 {
		return dest[:i], dest[i+1:], nil
	}
	return dest, "", nil
}

func contentTypeFor(path string) string {
	switch filepath.Ext(path) {
	case ".js":
		return "text/javascript"
	case ".map", ".json":
		return "application/json"
	case ".html":
		return "text/html"
	case ".css":
		return "text/css"
	}
	return "application/octet-stream"
}
