package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3ArchivePut(t *testing.T) {
	fake := &fakeS3{}
	a := newS3Archive(fake, "uploads-bucket", "/uploads/")

	loc, err := a.Put(context.Background(), "b-1", "customers.csv", []byte("customer_id\n1\n"))
	require.NoError(t, err)

	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "uploads-bucket", *in.Bucket)
	assert.Contains(t, *in.Key, "uploads/")
	assert.Contains(t, *in.Key, "/b-1/customers.csv")
	assert.Equal(t, "b-1", in.Metadata["batch-id"])
	assert.Equal(t, "customer_id\n1\n", string(fake.bodies[0]))
	assert.Equal(t, "s3://uploads-bucket/"+*in.Key, loc)
}

func TestS3ArchiveKey(t *testing.T) {
	a := newS3Archive(&fakeS3{}, "b", "raw")
	at := time.Date(2026, 4, 5, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "raw/2026/04/05/batch/x.csv", a.Key("batch", "../../x.csv", at))
	assert.Equal(t, "raw/2026/04/05/batch/upload.csv", a.Key("batch", "", at))
}

func TestS3ArchiveError(t *testing.T) {
	a := newS3Archive(&fakeS3{err: errors.New("access denied")}, "b", "")
	_, err := a.Put(context.Background(), "x", "y.csv", nil)
	assert.ErrorContains(t, err, "access denied")
}

func TestDiskArchive(t *testing.T) {
	a, err := NewDiskArchive(t.TempDir())
	require.NoError(t, err)

	p, err := a.Put(context.Background(), "b-2", "../evil.csv", []byte("a,b\n"))
	require.NoError(t, err)
	assert.Contains(t, p, "b-2")

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(data))
}
