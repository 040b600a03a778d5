package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronScheduler_RegisterValidation(t *testing.T) {
	cs := NewCronScheduler(nil)

	assert.Error(t, cs.RegisterJob("", "@every 1s", func(context.Context) {}))
	assert.Error(t, cs.RegisterJob("job", "", func(context.Context) {}))
	assert.Error(t, cs.RegisterJob("job", "not a cron", func(context.Context) {}))
	assert.Error(t, cs.RegisterJob("job", "@every 1s", nil))

	require.NoError(t, cs.RegisterJob("job", "0 */5 * * * *", func(context.Context) {}))
	assert.Error(t, cs.RegisterJob("job", "@every 1s", func(context.Context) {}), "重复注册")
	assert.Equal(t, map[string]string{"job": "0 */5 * * * *"}, cs.RegisteredJobs())

	require.NoError(t, cs.UnregisterJob("job"))
	assert.Error(t, cs.UnregisterJob("job"))
	assert.Empty(t, cs.JobNames())
}

func TestCronScheduler_RunsAndRecovers(t *testing.T) {
	cs := NewCronScheduler(nil)
	var runs, panics int32

	require.NoError(t, cs.RegisterJob("count", "@every 1s", func(ctx context.Context) {
		atomic.AddInt32(&runs, 1)
	}))
	require.NoError(t, cs.RegisterJob("boom", "@every 1s", func(ctx context.Context) {
		atomic.AddInt32(&panics, 1)
		panic("boom")
	}))
	assert.Equal(t, []string{"boom", "count"}, cs.JobNames())

	cs.Start()
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) >= 2 && atomic.LoadInt32(&panics) >= 2
	}, 4*time.Second, 50*time.Millisecond)
	cs.Stop()

	after := atomic.LoadInt32(&runs)
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&runs), "停止后不再触发")
}
