package types

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_ExecuteDelay(t *testing.T) {
	tests := []struct {
		name string
		ms   int64
		want time.Duration
	}{
		{"zero", 0, 0},
		{"negative", -5, 0},
		{"normal", 1500, 1500 * time.Millisecond},
		{"overflow clamps", math.MaxInt64, time.Duration(maxDurationMs) * time.Millisecond},
		{"just above limit", maxDurationMs + 1, time.Duration(maxDurationMs) * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &Task{ExecuteDelayMs: tt.ms}
			got := task.ExecuteDelay()
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, time.Duration(0))
		})
	}
}

func TestPollResponse_NextPollIntervalClamps(t *testing.T) {
	huge := int64(20_000_000_000_000)
	r := &PollResponse{NextPollIntervalMs: &huge}
	assert.Positive(t, r.NextPollInterval(time.Second))

	neg := int64(-1)
	r = &PollResponse{NextPollIntervalMs: &neg}
	assert.Equal(t, time.Second, r.NextPollInterval(time.Second))
}

func TestNewFailureResult_CauseAndStack(t *testing.T) {
	err := Wrap(CodeBridgeUnavailable, "内容桥不可用", errors.New("write: broken pipe"))
	res := NewFailureResult(NewNumericTaskID(3), err)

	require.NotNil(t, res.ErrorDetails)
	assert.Equal(t, "write: broken pipe", res.ErrorDetails.Cause)
	assert.Empty(t, res.ErrorDetails.Stack, "没有真实调用栈时不填充")
	assert.Equal(t, string(CodeBridgeUnavailable), res.ErrorDetails.ErrorCode)

	res = NewFailureResult(NewNumericTaskID(4), NewPanicError("boom", []byte("goroutine 1 [running]:")))
	assert.Equal(t, "goroutine 1 [running]:", res.ErrorDetails.Stack)
	assert.Empty(t, res.ErrorDetails.Cause)

	data, mErr := json.Marshal(res)
	require.NoError(t, mErr)
	assert.Contains(t, string(data), `"task_id":4`)
	assert.Contains(t, string(data), `"stack":"goroutine 1 [running]:"`)
}
