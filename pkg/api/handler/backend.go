package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/LENAX/relay-agent/pkg/core/engine"
	"github.com/LENAX/relay-agent/pkg/core/target"
	"github.com/LENAX/relay-agent/pkg/storage"
)

// Backend API 处理器依赖的引擎能力，由 *engine.Engine 实现
type Backend interface {
	Operate(ctx context.Context, requestID, action string, payload json.RawMessage) (any, error)
	Status() engine.Status
	Ready() bool
	Pause(d time.Duration)
	Resume()
	OpenTarget(ctx context.Context, url string) (target.Info, error)
	Executions(ctx context.Context, filter storage.ExecutionFilter) ([]*storage.ExecutionRecord, int, error)
}

var _ Backend = (*engine.Engine)(nil)
