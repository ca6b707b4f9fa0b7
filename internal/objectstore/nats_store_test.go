package objectstore_test

import (
	"context"
	"testing"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/narrator/internal/core"
	"github.com/book-expert/narrator/internal/objectstore"
)

// StartTestServer starts an in-memory NATS server with JetStream enabled.
func StartTestServer(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	return natsServer, natsConnection
}

func TestNatsObjectStore_UploadDownloadDelete(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.New(jetstreamContext, "narrator-cache")
	require.NoError(t, err)
	require.Equal(t, "narrator-cache", store.Bucket())

	ctx := context.Background()
	key := "ab/abcdef.pcm"
	uploadData := []byte("hello world, this is a test")

	require.NoError(t, store.Upload(ctx, key, uploadData))

	downloadData, err := store.Download(ctx, key)
	require.NoError(t, err)
	require.Equal(t, uploadData, downloadData)

	require.NoError(t, store.Delete(ctx, key))

	_, err = store.Download(ctx, key)
	require.ErrorIs(t, err, core.ErrObjectNotFound)

	require.NoError(t, store.Delete(ctx, key))
}

func TestNatsObjectStore_BindsExistingBucket(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	first, err := objectstore.New(jetstreamContext, "artifacts")
	require.NoError(t, err)
	require.NoError(t, first.Upload(context.Background(), "doc.wav", []byte("RIFF")))

	second, err := objectstore.New(jetstreamContext, "artifacts")
	require.NoError(t, err)

	data, err := second.Download(context.Background(), "doc.wav")
	require.NoError(t, err)
	require.Equal(t, []byte("RIFF"), data)
}
