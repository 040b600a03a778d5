package mysql

import (
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/LENAX/relay-agent/pkg/storage"
)

// NewExecutionRepoFromDSN 从DSN创建MySQL执行记录存储（对外导出）
func NewExecutionRepoFromDSN(dsn string, pool storage.PoolOptions) (*storage.SQLExecutionRepo, error) {
	return storage.OpenSQLExecutionRepo(NewMySQLDialect(), normalizeDSN(dsn), pool)
}

// normalizeDSN 确保DSN包含parseTime=true，DATETIME才能扫描为time.Time
func normalizeDSN(dsn string) string {
	if strings.Contains(dsn, "parseTime=true") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&parseTime=true"
	}
	return dsn + "?parseTime=true"
}
