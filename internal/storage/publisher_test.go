package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wrdspanel/internal/config"
)

type fakeClient struct {
	exists    bool
	made      []string
	uploads   map[string]string
	types     map[string]string
	failOn    string
	existsErr error
}

func newFakeClient(exists bool) *fakeClient {
	return &fakeClient{exists: exists, uploads: map[string]string{}, types: map[string]string{}}
}

func (f *fakeClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return f.exists, f.existsErr
}

func (f *fakeClient) MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error {
	f.made = append(f.made, bucket)
	f.exists = true
	return nil
}

func (f *fakeClient) FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if object == f.failOn {
		return minio.UploadInfo{}, errors.New("connection reset")
	}
	f.uploads[object] = filePath
	f.types[object] = opts.ContentType
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: 1}, nil
}

func TestPublish(t *testing.T) {
	client := newFakeClient(false)
	p := newMinioPublisher(client, "panels", "wrdspanel", nil)

	keys, err := p.Publish(context.Background(), "run-1", []string{
		"data/processed/panel.gob",
		"data/processed/csv/panel.csv",
		"data/processed/stata/panel.dta",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"panels"}, client.made)
	assert.Equal(t, []string{
		"wrdspanel/run-1/panel.gob",
		"wrdspanel/run-1/panel.csv",
		"wrdspanel/run-1/panel.dta",
	}, keys)
	assert.Equal(t, "data/processed/csv/panel.csv", client.uploads["wrdspanel/run-1/panel.csv"])
	assert.Equal(t, "text/csv", client.types["wrdspanel/run-1/panel.csv"])
	assert.Equal(t, "application/x-stata-dta", client.types["wrdspanel/run-1/panel.dta"])
}

func TestPublishExistingBucketAndFailure(t *testing.T) {
	client := newFakeClient(true)
	client.failOn = "run-2/b.csv"
	p := newMinioPublisher(client, "panels", "", nil)

	keys, err := p.Publish(context.Background(), "run-2", []string{"a.csv", "b.csv", "c.csv"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b.csv")
	assert.Empty(t, client.made)
	assert.Equal(t, []string{"run-2/a.csv"}, keys)

	client.existsErr = errors.New("denied")
	_, err = p.Publish(context.Background(), "run-3", nil)
	assert.ErrorContains(t, err, "bucket existence")
}

func TestNewPublisherDisabled(t *testing.T) {
	_, err := NewPublisher(config.StorageConfig{}, nil)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"x.csv":  "text/csv",
		"x.DTA":  "application/x-stata-dta",
		"x.xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"x.json": "application/json",
		"x.tex":  "text/plain; charset=utf-8",
		"x.gob":  "application/octet-stream",
	}
	for file, want := range tests {
		assert.Equal(t, want, ContentType(file), file)
	}
}
