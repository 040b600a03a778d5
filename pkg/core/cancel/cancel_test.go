package cancel

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/relay-agent/pkg/core/types"
)

// TestToken_CancelIdempotent 重复取消只生效一次
func TestToken_CancelIdempotent(t *testing.T) {
	tok := NewToken()
	var fired int32
	tok.OnCancel(func(error) { atomic.AddInt32(&fired, 1) })

	assert.True(t, tok.Cancel(types.ErrTimeout))
	assert.False(t, tok.Cancel(types.ErrTargetUnavailable))

	assert.True(t, tok.Cancelled())
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
	assert.True(t, errors.Is(tok.Err(), types.ErrTimeout), "原因应保持第一次取消的值")

	select {
	case <-tok.Done():
	default:
		t.Fatal("取消后 Done 通道应已关闭")
	}
}

func TestToken_OnCancelAfterCancelFiresImmediately(t *testing.T) {
	tok := NewToken()
	tok.Cancel(nil)

	var got error
	tok.OnCancel(func(reason error) { got = reason })
	assert.True(t, errors.Is(got, types.ErrCancelled))
}

func TestToken_ConcurrentCancel(t *testing.T) {
	tok := NewToken()
	var fired, winners int32
	tok.OnCancel(func(error) { atomic.AddInt32(&fired, 1) })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tok.Cancel(types.ErrTimeout) {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners)
	assert.Equal(t, int32(1), fired)
}

func TestToken_NotCancelled(t *testing.T) {
	tok := NewToken()
	assert.False(t, tok.Cancelled())
	assert.Nil(t, tok.Err())
}

// TestRegistry_InvalidateCancelsInFlight 目标关闭时在途调用全部失效
func TestRegistry_InvalidateCancelsInFlight(t *testing.T) {
	reg := NewRegistry(nil)
	a, b := NewToken(), NewToken()
	require.True(t, reg.Register("tab-1", "c1", func(r error) { a.Cancel(r) }))
	require.True(t, reg.Register("tab-1", "c2", func(r error) { b.Cancel(r) }))
	require.True(t, reg.Register("tab-2", "c3", nil))

	n := reg.Invalidate("tab-1", nil)
	assert.Equal(t, 2, n)
	assert.True(t, a.Cancelled())
	assert.True(t, b.Cancelled())
	assert.True(t, errors.Is(a.Err(), types.ErrTargetUnavailable))
	assert.Equal(t, 0, reg.Pending("tab-1"))
	assert.Equal(t, 1, reg.Pending("tab-2"))

	// 第二次失效没有额外副作用
	assert.Equal(t, 0, reg.Invalidate("tab-1", nil))
}

func TestRegistry_RegisterAfterInvalidateFiresImmediately(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Invalidate("tab-1", types.ErrTargetUnavailable)

	var got error
	ok := reg.Register("tab-1", "late", func(r error) { got = r })
	assert.False(t, ok)
	assert.True(t, errors.Is(got, types.ErrTargetUnavailable))
	assert.Equal(t, 0, reg.Pending("tab-1"))
}

// TestRegistry_SettledCallNotInvalidated 已结束的调用不会被后续失效触发
func TestRegistry_SettledCallNotInvalidated(t *testing.T) {
	reg := NewRegistry(nil)
	var staleFired, liveFired int32
	reg.Register("tab-1", "old", func(error) { atomic.AddInt32(&staleFired, 1) })
	reg.Unregister("tab-1", "old")
	reg.Register("tab-1", "live", func(error) { atomic.AddInt32(&liveFired, 1) })

	assert.Equal(t, 1, reg.Invalidate("tab-1", nil))
	assert.Equal(t, int32(0), atomic.LoadInt32(&staleFired))
	assert.Equal(t, int32(1), atomic.LoadInt32(&liveFired))
}

func TestRegistry_ClosedEntriesPruned(t *testing.T) {
	reg := NewRegistry(nil)
	now := time.Now()
	reg.now = func() time.Time { return now }
	reg.Invalidate("tab-old", nil)

	now = now.Add(closedTTL + time.Second)
	reg.Invalidate("tab-new", nil)

	// 过期的失效标记被清理后，同ID可重新登记
	assert.True(t, reg.Register("tab-old", "c1", nil))
	assert.False(t, reg.Register("tab-new", "c2", nil))
}

func TestRegistry_UnregisterIdempotent(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("tab-1", "c1", nil)
	reg.Unregister("tab-1", "c1")
	reg.Unregister("tab-1", "c1")
	reg.Unregister("missing", "c1")
	assert.Equal(t, 0, reg.Pending("tab-1"))
}
