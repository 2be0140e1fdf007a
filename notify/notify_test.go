package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failing struct{}

func (failing) Notify(context.Context, uint, Kind, Payload) error {
	return errors.New("smtp down")
}

type blocking struct {
	release chan struct{}
	mu      sync.Mutex
	seen    int
}

func (b *blocking) Notify(context.Context, uint, Kind, Payload) error {
	<-b.release
	b.mu.Lock()
	b.seen++
	b.mu.Unlock()
	return nil
}

func TestRedisDispatcherPublishesJSON(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	sub := client.Subscribe(ctx, "loans:test")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	d := NewRedisDispatcher(client, "loans:test")
	require.NoError(t, d.Notify(ctx, 7, PairingCreated, Payload{"pairing_id": 3}))

	select {
	case msg := <-sub.Channel():
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, uint(7), ev.InvestorID)
		assert.Equal(t, PairingCreated, ev.Kind)
		assert.NotEmpty(t, ev.ID)
		assert.EqualValues(t, 3, ev.Payload["pairing_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}

func TestRedisDispatcherReportsFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	err := NewRedisDispatcher(client, "x").Notify(context.Background(), 1, InvestmentMatured, nil)
	assert.Error(t, err)
}

func TestMultiJoinsErrors(t *testing.T) {
	rec := &Recorder{}
	m := Multi{rec, failing{}, NewLogDispatcher(zap.NewNop())}

	err := m.Notify(context.Background(), 1, PairingConfirmed, nil)
	assert.ErrorContains(t, err, "smtp down")
	assert.Len(t, rec.Of(PairingConfirmed), 1)
}

func TestAsyncDeliversAndDrains(t *testing.T) {
	rec := &Recorder{}
	a := NewAsync(rec, 8, zap.NewNop())
	for i := uint(1); i <= 5; i++ {
		require.NoError(t, a.Notify(context.Background(), i, PairingCreated, nil))
	}
	require.NoError(t, a.Close(context.Background()))
	assert.Len(t, rec.Events(), 5)

	// Closed queues drop silently.
	require.NoError(t, a.Notify(context.Background(), 9, PairingCreated, nil))
	assert.Len(t, rec.Events(), 5)
	require.NoError(t, a.Close(context.Background()))
}

func TestAsyncNeverBlocksCaller(t *testing.T) {
	b := &blocking{release: make(chan struct{})}
	a := NewAsync(b, 1, zap.NewNop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = a.Notify(context.Background(), 1, WaitingCancelled, nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a slow dispatcher")
	}

	close(b.release)
	require.NoError(t, a.Close(context.Background()))
	b.mu.Lock()
	defer b.mu.Unlock()
	assert.GreaterOrEqual(t, b.seen, 1)
	assert.Less(t, b.seen, 10)
}

func TestAsyncLogsDeliveryFailure(t *testing.T) {
	a := NewAsync(failing{}, 2, zap.NewNop())
	require.NoError(t, a.Notify(context.Background(), 1, PairingCreated, nil))
	require.NoError(t, a.Close(context.Background()))
}
