package storage

import (
	"fmt"

	"github.com/LENAX/relay-agent/pkg/storage"
	"github.com/LENAX/relay-agent/pkg/storage/mysql"
	"github.com/LENAX/relay-agent/pkg/storage/postgres"
	pkgsqlite "github.com/LENAX/relay-agent/pkg/storage/sqlite"
)

// DatabaseFactory 数据库工厂接口（内部使用）
type DatabaseFactory interface {
	// ExecutionRepo 执行记录Repository
	ExecutionRepo() storage.ExecutionRepository
	// Dialect 当前数据库方言
	Dialect() storage.Dialect
	// Close 关闭数据库连接
	Close() error
}

// NewDatabaseFactory 创建数据库工厂（内部方法）
// dbType: 数据库类型（sqlite/mysql/postgres）
// dsn: 数据库连接字符串
func NewDatabaseFactory(dbType, dsn string, pool storage.PoolOptions) (DatabaseFactory, error) {
	var (
		repo *storage.SQLExecutionRepo
		err  error
	)
	switch dbType {
	case "sqlite", "sqlite3":
		repo, err = pkgsqlite.NewExecutionRepoFromDSN(dsn, pool)
	case "mysql":
		repo, err = mysql.NewExecutionRepoFromDSN(dsn, pool)
	case "postgres", "postgresql":
		repo, err = postgres.NewExecutionRepoFromDSN(dsn, pool)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s repository failed: %w", dbType, err)
	}
	return &sqlFactory{repo: repo}, nil
}

// sqlFactory 基于sqlx的数据库工厂（内部实现）
type sqlFactory struct {
	repo *storage.SQLExecutionRepo
}

func (f *sqlFactory) ExecutionRepo() storage.ExecutionRepository {
	return f.repo
}

func (f *sqlFactory) Dialect() storage.Dialect {
	return f.repo.Dialect()
}

func (f *sqlFactory) Close() error {
	return f.repo.Close()
}
