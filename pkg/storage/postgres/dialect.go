package postgres

import (
	"fmt"
	"strings"

	"github.com/LENAX/relay-agent/pkg/storage"
)

// PostgresDialect PostgreSQL方言实现（对外导出）
type PostgresDialect struct{}

// NewPostgresDialect 创建PostgreSQL方言实例
func NewPostgresDialect() *PostgresDialect {
	return &PostgresDialect{}
}

// Name 返回方言名称
func (d *PostgresDialect) Name() string {
	return "postgres"
}

// DriverName 返回驱动名（lib/pq）
// sqlx根据驱动名把 ? 重写为 $1, $2, ...
func (d *PostgresDialect) DriverName() string {
	return "postgres"
}

// UpsertSQL 返回PostgreSQL的UPSERT语句（使用ON CONFLICT DO UPDATE）
func (d *PostgresDialect) UpsertSQL(tableName string, columns []string, conflictColumn string, updateColumns []string) string {
	namedPlaceholders := make([]string, len(columns))
	for i, col := range columns {
		namedPlaceholders[i] = ":" + col
	}

	updateParts := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		updateParts[i] = fmt.Sprintf("%s = EXCLUDED.%s", col, col)
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		tableName,
		strings.Join(columns, ", "),
		strings.Join(namedPlaceholders, ", "),
		conflictColumn,
		strings.Join(updateParts, ", "),
	)
}

// CreateTableSQL 转换DDL为PostgreSQL兼容格式
func (d *PostgresDialect) CreateTableSQL(schema string) string {
	return strings.ReplaceAll(schema, "DATETIME", "TIMESTAMP")
}

// CreateIndexSQL 返回建索引语句
func (d *PostgresDialect) CreateIndexSQL(indexName, tableName string, columns ...string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", indexName, tableName, strings.Join(columns, ", "))
}

// ConfigureDB 返回PostgreSQL配置SQL
func (d *PostgresDialect) ConfigureDB() []string {
	return []string{
		"SET timezone = 'UTC';",
	}
}

// KeyType 返回字符串主键类型
func (d *PostgresDialect) KeyType() string {
	return "VARCHAR(64)"
}

// BooleanType 返回PostgreSQL布尔类型
func (d *PostgresDialect) BooleanType() string {
	return "BOOLEAN"
}

// TextType 返回PostgreSQL文本类型
func (d *PostgresDialect) TextType() string {
	return "TEXT"
}

// TimestampType 返回PostgreSQL时间戳类型
func (d *PostgresDialect) TimestampType() string {
	return "TIMESTAMP"
}

// BigIntType 返回PostgreSQL 64位整数类型
func (d *PostgresDialect) BigIntType() string {
	return "BIGINT"
}

// 确保实现接口
var _ storage.Dialect = (*PostgresDialect)(nil)
