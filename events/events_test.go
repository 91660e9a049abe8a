package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishRunsHandlersInOrder(t *testing.T) {
	logger, _ := test.NewNullLogger()
	bus := NewBus(logger)

	var got []string
	bus.Subscribe(AfterCartUpdate, func(_ context.Context, e Event) error {
		got = append(got, "first:"+e.CartID)
		return nil
	})
	bus.Subscribe(AfterCartUpdate, func(_ context.Context, e Event) error {
		got = append(got, "second:"+e.CartID)
		return nil
	})
	bus.Subscribe(AfterOrderCreate, func(context.Context, Event) error {
		got = append(got, "wrong topic")
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), Event{Topic: AfterCartUpdate, CartID: "c1"}))
	assert.Equal(t, []string{"first:c1", "second:c1"}, got)
}

func TestPublishJoinsErrors(t *testing.T) {
	logger, hook := test.NewNullLogger()
	bus := NewBus(logger)
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	ran := 0
	bus.Subscribe(AfterOrderCancel, func(context.Context, Event) error { ran++; return errA })
	bus.Subscribe(AfterOrderCancel, func(context.Context, Event) error { ran++; return errB })

	err := bus.Publish(context.Background(), Event{Topic: AfterOrderCancel})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errA))
	assert.True(t, errors.Is(err, errB))
	assert.Equal(t, 2, ran)
	assert.Len(t, hook.Entries, 2)
}

func TestAsyncHandlersDoNotFailPublish(t *testing.T) {
	logger, hook := test.NewNullLogger()
	bus := NewBus(logger)

	var mu sync.Mutex
	seen := 0
	bus.SubscribeAsync(AfterOrderCreate, func(context.Context, Event) error {
		mu.Lock()
		seen++
		mu.Unlock()
		return errors.New("smtp down")
	})

	require.NoError(t, bus.Publish(context.Background(), Event{Topic: AfterOrderCreate}))
	bus.Wait()
	assert.Equal(t, 1, seen)
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "async event handler failed", hook.LastEntry().Message)
}

type fakeConn struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func TestNATSForwarder(t *testing.T) {
	logger, _ := test.NewNullLogger()
	bus := NewBus(logger)
	conn := &fakeConn{}
	fwd := NewNATSForwarder(conn, "reaction")
	bus.SubscribeAll(fwd.Handle)

	require.NoError(t, bus.Publish(context.Background(), Event{Topic: AfterOrderCreate, OrderID: "o1"}))
	bus.Wait()

	require.Len(t, conn.subjects, 1)
	assert.Equal(t, "reaction.afterOrderCreate", conn.subjects[0])
	var e Event
	require.NoError(t, json.Unmarshal(conn.payloads[0], &e))
	assert.Equal(t, "o1", e.OrderID)
	assert.False(t, e.At.IsZero())

	assert.Equal(t, "afterCartUpdate", NewNATSForwarder(conn, "").Subject(AfterCartUpdate))
}
