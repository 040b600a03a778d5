package mysql

import (
	"fmt"
	"strings"

	"github.com/LENAX/relay-agent/pkg/storage"
)

// MySQLDialect MySQL方言实现（对外导出）
type MySQLDialect struct{}

// NewMySQLDialect 创建MySQL方言实例
func NewMySQLDialect() *MySQLDialect {
	return &MySQLDialect{}
}

// Name 返回方言名称
func (d *MySQLDialect) Name() string {
	return "mysql"
}

// DriverName 返回驱动名（go-sql-driver/mysql）
func (d *MySQLDialect) DriverName() string {
	return "mysql"
}

// UpsertSQL 返回MySQL的UPSERT语句（使用ON DUPLICATE KEY UPDATE）
func (d *MySQLDialect) UpsertSQL(tableName string, columns []string, conflictColumn string, updateColumns []string) string {
	namedPlaceholders := make([]string, len(columns))
	for i, col := range columns {
		namedPlaceholders[i] = ":" + col
	}

	updateParts := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		updateParts[i] = fmt.Sprintf("%s = VALUES(%s)", col, col)
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		tableName,
		strings.Join(columns, ", "),
		strings.Join(namedPlaceholders, ", "),
		strings.Join(updateParts, ", "),
	)
}

// CreateTableSQL 转换DDL为MySQL兼容格式
func (d *MySQLDialect) CreateTableSQL(schema string) string {
	result := strings.TrimSpace(schema)
	if !strings.Contains(result, "ENGINE=") && strings.Contains(result, "CREATE TABLE") {
		result = strings.TrimRight(result, ";") + " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
	}
	return result
}

// CreateIndexSQL MySQL不支持 CREATE INDEX IF NOT EXISTS，跳过二级索引
func (d *MySQLDialect) CreateIndexSQL(indexName, tableName string, columns ...string) string {
	return ""
}

// ConfigureDB 返回MySQL配置SQL
func (d *MySQLDialect) ConfigureDB() []string {
	return []string{
		"SET SESSION sql_mode='STRICT_TRANS_TABLES,NO_ZERO_IN_DATE,NO_ZERO_DATE,ERROR_FOR_DIVISION_BY_ZERO,NO_ENGINE_SUBSTITUTION';",
	}
}

// KeyType 返回字符串主键类型（TEXT不能直接做主键）
func (d *MySQLDialect) KeyType() string {
	return "VARCHAR(64)"
}

// BooleanType 返回MySQL布尔类型
func (d *MySQLDialect) BooleanType() string {
	return "TINYINT(1)"
}

// TextType 返回MySQL文本类型
func (d *MySQLDialect) TextType() string {
	return "TEXT"
}

// TimestampType 返回MySQL时间戳类型（毫秒精度）
func (d *MySQLDialect) TimestampType() string {
	return "DATETIME(3)"
}

// BigIntType 返回MySQL 64位整数类型
func (d *MySQLDialect) BigIntType() string {
	return "BIGINT"
}

// 确保实现接口
var _ storage.Dialect = (*MySQLDialect)(nil)
