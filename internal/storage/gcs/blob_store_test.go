package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
)

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.ErrorContains(t, err, "client")

	_, err = New(&storage.Client{}, Config{Bucket: "  "})
	require.ErrorContains(t, err, "bucket")

	store, err := New(&storage.Client{}, Config{Bucket: "artifacts"})
	require.NoError(t, err)
	require.Equal(t, "artifacts", store.bucket)
}

func TestDialRequiresBucket(t *testing.T) {
	t.Parallel()

	_, closeFn, err := Dial(context.Background(), Config{})
	require.ErrorContains(t, err, "bucket")
	require.Nil(t, closeFn)
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store, err := New(&storage.Client{}, Config{Bucket: "artifacts"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "", "image/png", nil)
	require.ErrorContains(t, err, "path")
}
