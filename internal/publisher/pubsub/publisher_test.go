package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newFakeClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "harvester-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublishSendsJSON(t *testing.T) {
	ctx := context.Background()
	client, srv := newFakeClient(t)
	_, err := client.CreateTopic(ctx, "runs")
	require.NoError(t, err)

	pub := New(client, "runs")
	defer func() { require.NoError(t, pub.Close()) }()

	id, err := pub.Publish(ctx, "", map[string]any{"run_id": "run-1", "records": 3})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "run-1", got["run_id"])
	require.EqualValues(t, 3, got["records"])
}

func TestPublishErrors(t *testing.T) {
	ctx := context.Background()

	var nilPub *Publisher
	_, err := nilPub.Publish(ctx, "runs", "x")
	require.Error(t, err)
	require.NoError(t, nilPub.Close())

	client, _ := newFakeClient(t)
	pub := New(client, "")
	_, err = pub.Publish(ctx, "", "x")
	require.ErrorContains(t, err, "topic is required")

	_, err = pub.Publish(ctx, "runs", func() {})
	require.ErrorContains(t, err, "marshal payload")

	_, err = pub.Publish(ctx, "missing", "x")
	require.Error(t, err)
	require.NoError(t, pub.Close())

	_, err = Open(ctx, "", "runs")
	require.Error(t, err)
}

func TestAttributeCarrier(t *testing.T) {
	t.Parallel()

	c := attributeCarrier{}
	c.Set("traceparent", "00-abc")
	require.Equal(t, "00-abc", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
