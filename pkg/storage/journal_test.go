package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LENAX/relay-agent/pkg/events"
	"github.com/LENAX/relay-agent/pkg/storage"
	"github.com/LENAX/relay-agent/pkg/storage/sqlite"
)

func newJournal(t *testing.T) *storage.Journal {
	t.Helper()
	repo, err := sqlite.NewExecutionRepoFromDSN(filepath.Join(t.TempDir(), "journal.db"), storage.PoolOptions{})
	require.NoError(t, err)
	j := storage.NewJournal(repo, zap.NewNop().Sugar())
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_HandleExecuted(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()

	ev, err := events.NewEvent(events.TopicTaskExecuted, events.ExecutionPayload{
		TaskID:       "7",
		Kind:         "http",
		Source:       events.SourceScheduler,
		Success:      false,
		StatusCode:   429,
		ErrorCode:    "QUEUE_FULL",
		ErrorMessage: "Too Many Requests",
		StartedAt:    time.Now().Add(-time.Second),
		DurationMs:   3,
	})
	require.NoError(t, err)

	require.NoError(t, j.HandleExecuted(ctx, ev))
	// 重复投递不产生重复记录
	require.NoError(t, j.HandleExecuted(ctx, ev))

	records, total, err := j.List(ctx, storage.ExecutionFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, records, 1)
	assert.Equal(t, ev.ID, records[0].ID)
	assert.Equal(t, "7", records[0].TaskID)
	assert.Equal(t, "scheduler", records[0].Source)
	assert.Equal(t, 429, records[0].StatusCode)
	assert.Equal(t, "QUEUE_FULL", records[0].ErrorCode)
}

func TestJournal_HandleExecutedBadPayload(t *testing.T) {
	j := newJournal(t)
	ev := &events.Event{ID: "x", Topic: events.TopicTaskExecuted, Payload: []byte("not json")}
	require.Error(t, j.HandleExecuted(context.Background(), ev))
}

func TestJournal_Purge(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()
	repo := j.Repository()

	require.NoError(t, repo.Save(ctx, &storage.ExecutionRecord{ID: "old", TaskID: "1", Source: "adhoc", StartedAt: time.Now().Add(-10 * 24 * time.Hour)}))
	require.NoError(t, repo.Save(ctx, &storage.ExecutionRecord{ID: "new", TaskID: "2", Source: "adhoc", StartedAt: time.Now()}))

	n, err := j.Purge(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = j.Purge(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestJournal_SubscribeToBus(t *testing.T) {
	j := newJournal(t)
	bus, err := events.NewBus(zap.NewNop())
	require.NoError(t, err)
	defer bus.Close()

	require.NoError(t, j.Subscribe(bus))
	require.NoError(t, bus.Start(context.Background()))

	require.NoError(t, events.Emit(context.Background(), bus, events.TopicTaskExecuted, events.ExecutionPayload{
		TaskID: "9", Kind: "ping", Source: events.SourceKeepalive, Success: true, StartedAt: time.Now(),
	}))

	require.Eventually(t, func() bool {
		n, err := j.Repository().Count(context.Background(), storage.ExecutionFilter{TaskID: "9"})
		return err == nil && n == 1
	}, 3*time.Second, 20*time.Millisecond)
}
