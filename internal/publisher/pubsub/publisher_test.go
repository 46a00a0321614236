package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishWithoutTopicFails(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "failure", map[string]string{"url": "http://x"})
	require.ErrorContains(t, err, "not configured")

	var nilPub *Publisher
	_, err = nilPub.Publish(context.Background(), "failure", nil)
	require.Error(t, err)
}

func TestDialRequiresProjectAndTopic(t *testing.T) {
	t.Parallel()

	_, _, err := Dial(context.Background(), "", "topic")
	require.Error(t, err)
	_, _, err = Dial(context.Background(), "project", "")
	require.Error(t, err)
}

func TestAttributeCarrier(t *testing.T) {
	t.Parallel()

	c := &attributeCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc")
	require.Equal(t, "00-abc", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
