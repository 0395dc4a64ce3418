package repository

import (
	"context"
	"testing"
	"time"

	"registerhub/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan model.ChangeEvent) model.ChangeEvent {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "feed closed")
		return evt
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
	return model.ChangeEvent{}
}

func TestHub_DeliversInOrderPerBusiness(t *testing.T) {
	h := NewHub()
	defer h.Close()
	mine, other := uuid.New(), uuid.New()

	ch, err := h.Subscribe(context.Background(), mine)
	require.NoError(t, err)

	h.Publish(model.ChangeEvent{BusinessID: other, Op: model.OpInsert, ID: uuid.New()})
	for v := int64(1); v <= 100; v++ {
		h.Publish(model.ChangeEvent{BusinessID: mine, Op: model.OpUpdate, Version: v})
	}
	for v := int64(1); v <= 100; v++ {
		assert.Equal(t, v, recv(t, ch).Version)
	}
}

func TestHub_ResyncBroadcast(t *testing.T) {
	h := NewHub()
	defer h.Close()

	a, err := h.Subscribe(context.Background(), uuid.New())
	require.NoError(t, err)
	b, err := h.Subscribe(context.Background(), uuid.New())
	require.NoError(t, err)

	h.Publish(model.ChangeEvent{Op: model.OpResync})
	assert.Equal(t, model.OpResync, recv(t, a).Op)
	assert.Equal(t, model.OpResync, recv(t, b).Op)
}

func TestHub_CancelAndClose(t *testing.T) {
	h := NewHub()
	biz := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := h.Subscribe(ctx, biz)
	require.NoError(t, err)
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return h.Subscribers(biz) == 0 }, time.Second, 10*time.Millisecond)

	live, err := h.Subscribe(context.Background(), biz)
	require.NoError(t, err)
	h.Close()
	_, ok = <-live
	assert.False(t, ok)

	_, err = h.Subscribe(context.Background(), biz)
	assert.ErrorIs(t, err, ErrFeedClosed)
}
