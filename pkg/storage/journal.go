package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/LENAX/relay-agent/pkg/events"
)

// Journal 执行日志：订阅 task.executed 事件并落库（对外导出）
type Journal struct {
	repo ExecutionRepository
	log  *zap.SugaredLogger
}

// NewJournal 创建执行日志
func NewJournal(repo ExecutionRepository, log *zap.SugaredLogger) *Journal {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Journal{repo: repo, log: log}
}

// Repository 底层存储
func (j *Journal) Repository() ExecutionRepository {
	return j.repo
}

// HandleExecuted 事件处理函数；事件ID作为记录ID，重复投递时覆盖写入
func (j *Journal) HandleExecuted(ctx context.Context, ev *events.Event) error {
	var p events.ExecutionPayload
	if err := ev.Decode(&p); err != nil {
		return fmt.Errorf("解析执行事件失败: %w", err)
	}
	record := &ExecutionRecord{
		ID:           ev.ID,
		TaskID:       p.TaskID,
		Kind:         p.Kind,
		Source:       string(p.Source),
		Success:      p.Success,
		StatusCode:   p.StatusCode,
		ErrorCode:    p.ErrorCode,
		ErrorMessage: p.ErrorMessage,
		StartedAt:    p.StartedAt,
		DurationMs:   p.DurationMs,
		CreateTime:   ev.Timestamp,
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = ev.Timestamp
	}
	return j.repo.Save(ctx, record)
}

// Subscribe 把执行日志挂到事件总线上
func (j *Journal) Subscribe(bus *events.Bus) error {
	return bus.Subscribe(events.TopicTaskExecuted, "journal", j.HandleExecuted)
}

// Purge 清理超过保留期的记录
func (j *Journal) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	n, err := j.repo.DeleteBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		j.log.Infof("🧹 [执行日志] 已清理 %d 条过期记录（保留期 %s）", n, retention)
	}
	return n, nil
}

// List 查询执行记录及总数
func (j *Journal) List(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, int, error) {
	records, err := j.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := j.repo.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// Close 关闭存储
func (j *Journal) Close() error {
	return j.repo.Close()
}
