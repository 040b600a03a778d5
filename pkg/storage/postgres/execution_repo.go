package postgres

import (
	_ "github.com/lib/pq"

	"github.com/LENAX/relay-agent/pkg/storage"
)

// NewExecutionRepoFromDSN 从DSN创建PostgreSQL执行记录存储（对外导出）
func NewExecutionRepoFromDSN(dsn string, pool storage.PoolOptions) (*storage.SQLExecutionRepo, error) {
	return storage.OpenSQLExecutionRepo(NewPostgresDialect(), dsn, pool)
}
