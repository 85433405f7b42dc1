package transport

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailbox_FIFOPerSourceAndTag(t *testing.T) {
	mb := NewMailbox()
	ctx := context.Background()

	require.NoError(t, mb.Put(1, 0, 7, []float64{1}))
	require.NoError(t, mb.Put(1, 0, 7, []float64{2}))
	require.NoError(t, mb.Put(1, 0, 8, []float64{99}))
	require.NoError(t, mb.Put(2, 0, 7, []float64{42}))

	got, err := mb.Take(ctx, 1, 0, 8)
	require.NoError(t, err)
	assert.Equal(t, []float64{99}, got)

	got, err = mb.Take(ctx, 1, 0, 7)
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, got)

	got, err = mb.Take(ctx, 1, 0, 7)
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, got)

	assert.Equal(t, 1, mb.Pending())
}

func TestMailbox_TakeBlocksUntilPut(t *testing.T) {
	mb := NewMailbox()
	done := make(chan []float64)

	go func() {
		data, err := mb.Take(context.Background(), 0, 3, 1)
		if err != nil {
			close(done)
			return
		}
		done <- data
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, mb.Put(0, 3, 1, []float64{5, 6}))

	select {
	case data := <-done:
		assert.Equal(t, []float64{5, 6}, data)
	case <-time.After(2 * time.Second):
		t.Fatal("Take did not return after Put")
	}
}

func TestMailbox_AbortUnblocks(t *testing.T) {
	mb := NewMailbox()
	errCh := make(chan error, 1)

	go func() {
		_, err := mb.Take(context.Background(), 0, 0, 0)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	mb.Abort(3, "test")

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, ErrAborted))
		var ae *AbortError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, 3, ae.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("Take did not return after Abort")
	}

	assert.Error(t, mb.Put(0, 0, 0, nil))
}

func TestMailbox_ContextCancel(t *testing.T) {
	mb := NewMailbox()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := mb.Take(ctx, 0, 0, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEnvelope_RoundTrip(t *testing.T) {
	env := Envelope{Context: 0xdeadbeefcafe, Source: 12, Tag: 300, Data: []float64{0, -1.5, 3.25e9}}

	got, err := UnmarshalEnvelope(MarshalEnvelope(env))
	require.NoError(t, err)
	assert.Equal(t, env, got)
}

func TestEnvelope_Truncated(t *testing.T) {
	b := MarshalEnvelope(Envelope{Context: 1, Source: 2, Tag: 3, Data: []float64{1, 2}})
	_, err := UnmarshalEnvelope(b[:len(b)-3])
	assert.Error(t, err)
}

func TestWorld_PingPong(t *testing.T) {
	w := NewWorld(2)

	err := w.Run(context.Background(), func(ctx context.Context, ep Endpoint) error {
		if ep.Rank() == 0 {
			buf := []float64{1, 2, 3}
			if err := ep.Send(ctx, 1, 0, 0, buf); err != nil {
				return err
			}
			// the sender's buffer is not shared with the receiver
			buf[0] = 100
			got, err := ep.Recv(ctx, 1, 0, 0)
			if err != nil {
				return err
			}
			assert.Equal(t, []float64{2, 4, 6}, got)
			return nil
		}
		got, err := ep.Recv(ctx, 0, 0, 0)
		if err != nil {
			return err
		}
		for i := range got {
			got[i] *= 2
		}
		return ep.Send(ctx, 0, 0, 0, got)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, w.Sent(0))
	assert.Equal(t, 1, w.Sent(1))
}

func TestWorld_FailingRankAbortsOthers(t *testing.T) {
	w := NewWorld(4)
	boom := errors.New("boom")

	err := w.Run(context.Background(), func(ctx context.Context, ep Endpoint) error {
		if ep.Rank() == 2 {
			return boom
		}
		// everyone else waits for a message that never comes
		_, err := ep.Recv(ctx, 2, 0, 0)
		return err
	})
	require.Error(t, err)
}

func TestWorld_SendOutOfRange(t *testing.T) {
	w := NewWorld(2)
	ep := w.Endpoint(0)
	assert.Error(t, ep.Send(context.Background(), 5, 0, 0, nil))
	_, err := ep.Recv(context.Background(), -1, 0, 0)
	assert.Error(t, err)
}
