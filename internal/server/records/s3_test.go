package records

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	body []byte
	meta map[string]string
}

type fakeS3 struct {
	objects map[string]fakeObject
	getErr  error
	headErr error
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string]fakeObject{}} }

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Bucket+"/"+*in.Key] = fakeObject{body: b, meta: in.Metadata}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	o, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(o.body)), Metadata: o.meta}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	o, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound"}
	}
	return &s3.HeadObjectOutput{Metadata: o.meta}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func TestS3BlobStore_PutGet(t *testing.T) {
	fake := newFakeS3()
	store := NewS3BlobStore(fake, "medvault")
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Put(ctx, "records/abc", []byte("cipher"), BlobMeta{FileName: "a.pdf", UploadedAt: at, Encrypted: true, IV: "00ff"}))

	obj, ok := fake.objects["medvault/records/abc"]
	require.True(t, ok)
	assert.Equal(t, "a.pdf", obj.meta["filename"])

	data, meta, err := store.Get(ctx, "records/abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("cipher"), data)
	assert.Equal(t, BlobMeta{FileName: "a.pdf", UploadedAt: at, Encrypted: true, IV: "00ff"}, meta)
}

func TestS3BlobStore_Stat(t *testing.T) {
	fake := newFakeS3()
	store := NewS3BlobStore(fake, "medvault")
	ctx := context.Background()
	meta := BlobMeta{Owner: "0xabc", FileName: "scan.png", UploadedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), Encrypted: true}

	_, err := store.Stat(ctx, "records/scan")
	require.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, store.Put(ctx, "records/scan", []byte("cipher"), meta))
	got, err := store.Stat(ctx, "records/scan")
	require.NoError(t, err)
	assert.Equal(t, meta, got)

	fake.headErr = errors.New("connection reset")
	_, err = store.Stat(ctx, "records/scan")
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrNotFound)
}

func TestS3BlobStore_NotFound(t *testing.T) {
	store := NewS3BlobStore(newFakeS3(), "medvault")
	_, _, err := store.Get(context.Background(), "records/missing")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestS3BlobStore_NotFoundAPIError(t *testing.T) {
	fake := newFakeS3()
	fake.getErr = &smithy.GenericAPIError{Code: "NotFound", Message: "gone"}
	store := NewS3BlobStore(fake, "medvault")

	_, _, err := store.Get(context.Background(), "records/x")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestS3BlobStore_OtherErrorsWrapped(t *testing.T) {
	fake := newFakeS3()
	fake.getErr = errors.New("dial tcp: refused")
	fake.headErr = errors.New("forbidden")
	store := NewS3BlobStore(fake, "medvault")

	_, _, err := store.Get(context.Background(), "records/x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrNotFound)
	assert.Contains(t, err.Error(), "records/x")

	require.ErrorContains(t, store.Check(context.Background()), "forbidden")
}

func TestMetaFromObject_ToleratesMissingKeys(t *testing.T) {
	meta := metaFromObject(map[string]string{"filename": "f", "encrypted": "maybe"})
	assert.Equal(t, "f", meta.FileName)
	assert.False(t, meta.Encrypted)
	assert.True(t, meta.UploadedAt.IsZero())
}

func TestNewS3Client(t *testing.T) {
	origLoad := loadDefaultAWSConfig
	origNew := newS3ClientFromConfig
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNew
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		assert.Equal(t, "eu-central-1", lo.Region)
		return aws.Config{}, nil
	}

	var opts s3.Options
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		for _, fn := range optFns {
			fn(&opts)
		}
		return &s3.Client{}
	}

	c, err := NewS3Client(context.Background(), S3Options{Region: "eu-central-1", AccessKey: "a", SecretKey: "b", BaseEndpoint: "http://minio:9000"})
	require.NoError(t, err)
	require.NotNil(t, c)
	require.NotNil(t, opts.BaseEndpoint)
	assert.Equal(t, "http://minio:9000", *opts.BaseEndpoint)
	assert.True(t, opts.UsePathStyle)

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("load-fail")
	}
	_, err = NewS3Client(context.Background(), S3Options{})
	require.EqualError(t, err, "load-fail")
}
