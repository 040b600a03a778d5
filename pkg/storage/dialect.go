package storage

// Dialect SQL方言接口（对外导出）
// 封装不同数据库在建表、写入和连接配置上的差异
type Dialect interface {
	// Name 返回方言名称（如 "sqlite", "mysql", "postgres"）
	Name() string

	// DriverName 返回 database/sql 驱动名
	DriverName() string

	// UpsertSQL 返回按主键写入或覆盖的语句（命名参数 :col）
	UpsertSQL(tableName string, columns []string, conflictColumn string, updateColumns []string) string

	// CreateTableSQL 对建表DDL做方言适配
	CreateTableSQL(schema string) string

	// CreateIndexSQL 返回幂等的建索引语句，返回空串表示不支持（跳过）
	CreateIndexSQL(indexName, tableName string, columns ...string) string

	// ConfigureDB 打开连接后需要执行的配置语句
	ConfigureDB() []string

	// KeyType 字符串主键类型
	KeyType() string

	// BooleanType 返回布尔类型
	// SQLite: INTEGER
	// MySQL: TINYINT(1)
	// PostgreSQL: BOOLEAN
	BooleanType() string

	// TextType 返回文本类型
	TextType() string

	// TimestampType 返回时间戳类型
	// SQLite/MySQL: DATETIME
	// PostgreSQL: TIMESTAMP
	TimestampType() string

	// BigIntType 返回64位整数类型
	BigIntType() string
}
