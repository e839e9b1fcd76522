package pulse

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"

	"github.com/agentbridge/control-plane/internal/a2a/types"
)

type fakeClient struct {
	streams map[string]*fakeStream
}

func newFakeClient() *fakeClient {
	return &fakeClient{streams: make(map[string]*fakeStream)}
}

func (c *fakeClient) Stream(name string) (Stream, error) {
	s, ok := c.streams[name]
	if !ok {
		s = &fakeStream{name: name, sink: &fakeSink{ch: make(chan *streaming.Event, 8)}}
		c.streams[name] = s
	}
	return s, nil
}

func (c *fakeClient) Close(ctx context.Context) error { return nil }

type fakeStream struct {
	name string
	sink *fakeSink
	adds []fakeAdd
}

type fakeAdd struct {
	event   string
	payload []byte
}

func (s *fakeStream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	s.adds = append(s.adds, fakeAdd{event: event, payload: payload})
	id := "1-0"
	s.sink.ch <- &streaming.Event{ID: id, Payload: payload}
	return id, nil
}

func (s *fakeStream) NewSink(ctx context.Context, name string) (Sink, error) {
	return s.sink, nil
}

type fakeSink struct {
	ch     chan *streaming.Event
	acked  []*streaming.Event
	closed bool
}

func (s *fakeSink) Subscribe() <-chan *streaming.Event { return s.ch }

func (s *fakeSink) Ack(ctx context.Context, evt *streaming.Event) error {
	s.acked = append(s.acked, evt)
	return nil
}

func (s *fakeSink) Close(ctx context.Context) {
	s.closed = true
	close(s.ch)
}

func TestPublishThenSubscribeRoundTrips(t *testing.T) {
	client := newFakeClient()
	pub := NewPublisher(client)
	sub, err := NewSubscriber(SubscriberOptions{Client: client})
	require.NoError(t, err)

	status := types.TaskStatus{State: types.TaskCompleted, Timestamp: time.Now()}
	event := types.StatusUpdateEvent("ctx-1", "task-1", status, true)

	events, errs, cancel, err := sub.Subscribe(t.Context(), "task-1")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, pub.Publish(t.Context(), event))

	select {
	case got := <-events:
		require.Equal(t, types.EventStatusUpdate, got.Kind)
		require.Equal(t, "task-1", got.TaskID)
		require.True(t, got.Final)
	case err := <-errs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeDecodeErrorSurfacesOnErrs(t *testing.T) {
	client := newFakeClient()
	str, err := client.Stream(streamName("task-2"))
	require.NoError(t, err)
	fs := str.(*fakeStream)

	sub, err := NewSubscriber(SubscriberOptions{Client: client})
	require.NoError(t, err)

	events, errs, cancel, err := sub.Subscribe(t.Context(), "task-2")
	require.NoError(t, err)
	defer cancel()

	fs.sink.ch <- &streaming.Event{ID: "1-0", Payload: []byte("not-json")}

	select {
	case <-events:
		t.Fatal("expected no decoded event")
	case e := <-errs:
		require.Contains(t, e.Error(), "pulse decode event")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decode error")
	}
}

func TestPublishMarshalsEventKindAsStreamEntryName(t *testing.T) {
	client := newFakeClient()
	pub := NewPublisher(client)

	event := types.MessageAppendedEvent("ctx-1", &types.Message{ID: "m1", TaskID: "task-3"})
	require.NoError(t, pub.Publish(t.Context(), event))

	str, err := client.Stream(streamName("task-3"))
	require.NoError(t, err)
	fs := str.(*fakeStream)
	require.Len(t, fs.adds, 1)
	require.Equal(t, string(types.EventMessageAppended), fs.adds[0].event)

	var decoded types.Event
	require.NoError(t, json.Unmarshal(fs.adds[0].payload, &decoded))
	require.Equal(t, "task-3", decoded.TaskID)
}
