package sqlite

import (
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/LENAX/relay-agent/pkg/storage"
)

// NewExecutionRepoFromDSN 从DSN创建SQLite执行记录存储（对外导出）
// dsn 为文件路径时会自动创建所在目录
func NewExecutionRepoFromDSN(dsn string, pool storage.PoolOptions) (*storage.SQLExecutionRepo, error) {
	if dir := filepath.Dir(dsn); !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	// SQLite单写者，限制连接数避免 database is locked
	if pool.MaxOpenConns <= 0 || pool.MaxOpenConns > 1 {
		pool.MaxOpenConns = 1
	}
	return storage.OpenSQLExecutionRepo(NewSQLiteDialect(), dsn, pool)
}
