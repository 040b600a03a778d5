package sqlite

import (
	"fmt"
	"strings"

	"github.com/LENAX/relay-agent/pkg/storage"
)

// SQLiteDialect SQLite方言实现（对外导出）
type SQLiteDialect struct{}

// NewSQLiteDialect 创建SQLite方言实例
func NewSQLiteDialect() *SQLiteDialect {
	return &SQLiteDialect{}
}

// Name 返回方言名称
func (d *SQLiteDialect) Name() string {
	return "sqlite"
}

// DriverName 返回驱动名（mattn/go-sqlite3）
func (d *SQLiteDialect) DriverName() string {
	return "sqlite3"
}

// UpsertSQL 返回SQLite的UPSERT语句
func (d *SQLiteDialect) UpsertSQL(tableName string, columns []string, conflictColumn string, updateColumns []string) string {
	// 为了兼容旧版本SQLite，使用 INSERT OR REPLACE
	namedPlaceholders := make([]string, len(columns))
	for i, col := range columns {
		namedPlaceholders[i] = ":" + col
	}

	return fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		tableName,
		strings.Join(columns, ", "),
		strings.Join(namedPlaceholders, ", "),
	)
}

// CreateTableSQL 返回创建表的DDL（SQLite原样返回）
func (d *SQLiteDialect) CreateTableSQL(schema string) string {
	return schema
}

// CreateIndexSQL 返回建索引语句
func (d *SQLiteDialect) CreateIndexSQL(indexName, tableName string, columns ...string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", indexName, tableName, strings.Join(columns, ", "))
}

// ConfigureDB 返回SQLite配置SQL
func (d *SQLiteDialect) ConfigureDB() []string {
	return []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=30000;",
		"PRAGMA wal_autocheckpoint=1000;",
		"PRAGMA synchronous=NORMAL;",
	}
}

// KeyType 返回字符串主键类型
func (d *SQLiteDialect) KeyType() string {
	return "TEXT"
}

// BooleanType 返回SQLite布尔类型
func (d *SQLiteDialect) BooleanType() string {
	return "INTEGER"
}

// TextType 返回SQLite文本类型
func (d *SQLiteDialect) TextType() string {
	return "TEXT"
}

// TimestampType 返回SQLite时间戳类型
func (d *SQLiteDialect) TimestampType() string {
	return "DATETIME"
}

// BigIntType 返回SQLite整数类型
func (d *SQLiteDialect) BigIntType() string {
	return "INTEGER"
}

// 确保实现接口
var _ storage.Dialect = (*SQLiteDialect)(nil)
