// Package storage archives raw uploads so a batch can be replayed or
// audited after the fact.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archive stores the raw bytes of an upload under its batch id.
type Archive interface {
	// Put stores data and returns the location it was written to.
	Put(ctx context.Context, batchID, filename string, data []byte) (string, error)
}

// s3API is the subset of the S3 client used here.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive writes uploads to an S3 bucket.
type S3Archive struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Archive creates an S3-backed archive using the default AWS
// credential chain.
func NewS3Archive(ctx context.Context, bucket, prefix, region, profile string) (*S3Archive, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return newS3Archive(s3.NewFromConfig(cfg), bucket, prefix), nil
}

func newS3Archive(client s3API, bucket, prefix string) *S3Archive {
	return &S3Archive{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Key returns the object key for an upload: prefix/YYYY/MM/DD/batchID/filename.
func (a *S3Archive) Key(batchID, filename string, at time.Time) string {
	return path.Join(a.prefix, at.UTC().Format("2006/01/02"), batchID, safeName(filename))
}

func (a *S3Archive) Put(ctx context.Context, batchID, filename string, data []byte) (string, error) {
	key := a.Key(batchID, filename, time.Now())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/csv"),
		Metadata:    map[string]string{"batch-id": batchID},
	})
	if err != nil {
		return "", fmt.Errorf("putting object to S3: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}

// DiskArchive writes uploads below a local directory.
type DiskArchive struct {
	root string
}

// NewDiskArchive creates the root directory if needed.
func NewDiskArchive(root string) (*DiskArchive, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	return &DiskArchive{root: root}, nil
}

func (a *DiskArchive) Put(_ context.Context, batchID, filename string, data []byte) (string, error) {
	dir := filepath.Join(a.root, filepath.Base(batchID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	p := filepath.Join(dir, safeName(filename))
	if err := os.WriteFile(p, data, 0644); err != nil {
		return "", err
	}
	return p, nil
}

// safeName strips any directory component from a client-supplied name.
func safeName(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "upload.csv"
	}
	return name
}
