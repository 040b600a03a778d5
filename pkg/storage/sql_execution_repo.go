package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/LENAX/relay-agent/pkg/storage/dao"
)

const executionTable = "execution_record"

// SQLExecutionRepo 基于sqlx的执行记录存储实现，方言差异由Dialect处理（对外导出）
type SQLExecutionRepo struct {
	db      *sqlx.DB
	dialect Dialect
}

// OpenSQLExecutionRepo 打开连接、执行方言配置并初始化表结构
func OpenSQLExecutionRepo(dialect Dialect, dsn string, pool PoolOptions) (*SQLExecutionRepo, error) {
	db, err := sqlx.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}

	for _, stmt := range dialect.ConfigureDB() {
		// 配置失败不影响使用（如只读库上的PRAGMA）
		_, _ = db.Exec(stmt)
	}

	repo, err := NewSQLExecutionRepo(db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// NewSQLExecutionRepo 使用已有连接创建存储并初始化表结构
func NewSQLExecutionRepo(db *sqlx.DB, dialect Dialect) (*SQLExecutionRepo, error) {
	repo := &SQLExecutionRepo{db: db, dialect: dialect}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("初始化数据库表结构失败: %w", err)
	}
	return repo, nil
}

func (r *SQLExecutionRepo) initSchema() error {
	d := r.dialect
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id %s PRIMARY KEY,
		task_id VARCHAR(128) NOT NULL,
		kind VARCHAR(32) NOT NULL,
		source VARCHAR(32) NOT NULL,
		success %s NOT NULL,
		status_code INTEGER NOT NULL,
		error_code VARCHAR(64),
		error_message %s,
		started_at %s NOT NULL,
		duration_ms %s NOT NULL,
		create_time %s NOT NULL
	)`,
		executionTable, d.KeyType(), d.BooleanType(), d.TextType(),
		d.TimestampType(), d.BigIntType(), d.TimestampType())

	if _, err := r.db.Exec(d.CreateTableSQL(schema)); err != nil {
		return fmt.Errorf("创建%s表失败: %w", executionTable, err)
	}

	indexes := []struct {
		name    string
		columns []string
	}{
		{"idx_execution_started_at", []string{"started_at"}},
		{"idx_execution_task_id", []string{"task_id"}},
	}
	for _, idx := range indexes {
		stmt := d.CreateIndexSQL(idx.name, executionTable, idx.columns...)
		if stmt == "" {
			continue
		}
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("创建索引%s失败: %w", idx.name, err)
		}
	}
	return nil
}

// GetDB 获取底层数据库连接（对外导出）
func (r *SQLExecutionRepo) GetDB() *sqlx.DB {
	return r.db
}

// Dialect 当前使用的方言
func (r *SQLExecutionRepo) Dialect() Dialect {
	return r.dialect
}

// Close 关闭数据库连接（对外导出）
func (r *SQLExecutionRepo) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Save 写入执行记录，ID相同则覆盖
func (r *SQLExecutionRepo) Save(ctx context.Context, record *ExecutionRecord) error {
	if record == nil {
		return errors.New("执行记录不能为空")
	}
	if record.ID == "" {
		return errors.New("执行记录ID不能为空")
	}
	if record.CreateTime.IsZero() {
		record.CreateTime = time.Now()
	}

	query := r.dialect.UpsertSQL(executionTable, dao.ExecutionColumns, "id", dao.ExecutionColumns[1:])
	if _, err := r.db.NamedExecContext(ctx, query, toExecutionDAO(record)); err != nil {
		return fmt.Errorf("保存执行记录失败: %w", err)
	}
	return nil
}

// GetByID 按ID查询，不存在时返回 nil, nil
func (r *SQLExecutionRepo) GetByID(ctx context.Context, id string) (*ExecutionRecord, error) {
	var row dao.ExecutionDAO
	query := r.db.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE id = ?",
		strings.Join(dao.ExecutionColumns, ", "), executionTable))
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询执行记录失败: %w", err)
	}
	return fromExecutionDAO(&row), nil
}

// List 按开始时间倒序查询执行记录
func (r *SQLExecutionRepo) List(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	where, args := buildWhere(filter)
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY started_at DESC, id DESC",
		strings.Join(dao.ExecutionColumns, ", "), executionTable, where)
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	var rows []dao.ExecutionDAO
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("查询执行记录失败: %w", err)
	}

	records := make([]*ExecutionRecord, 0, len(rows))
	for i := range rows {
		records = append(records, fromExecutionDAO(&rows[i]))
	}
	return records, nil
}

// Count 统计满足条件的记录数
func (r *SQLExecutionRepo) Count(ctx context.Context, filter ExecutionFilter) (int, error) {
	where, args := buildWhere(filter)
	var n int
	query := r.db.Rebind(fmt.Sprintf("SELECT COUNT(*) FROM %s%s", executionTable, where))
	if err := r.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("统计执行记录失败: %w", err)
	}
	return n, nil
}

// DeleteBefore 删除开始时间早于 before 的记录
func (r *SQLExecutionRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	query := r.db.Rebind(fmt.Sprintf("DELETE FROM %s WHERE started_at < ?", executionTable))
	res, err := r.db.ExecContext(ctx, query, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("清理执行记录失败: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func buildWhere(f ExecutionFilter) (string, []any) {
	var conds []string
	var args []any
	if f.TaskID != "" {
		conds = append(conds, "task_id = ?")
		args = append(args, f.TaskID)
	}
	if f.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, f.Source)
	}
	if f.Success != nil {
		conds = append(conds, "success = ?")
		args = append(args, *f.Success)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "started_at >= ?")
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		conds = append(conds, "started_at < ?")
		args = append(args, f.Until.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func toExecutionDAO(r *ExecutionRecord) *dao.ExecutionDAO {
	return &dao.ExecutionDAO{
		ID:           r.ID,
		TaskID:       r.TaskID,
		Kind:         r.Kind,
		Source:       r.Source,
		Success:      r.Success,
		StatusCode:   r.StatusCode,
		ErrorCode:    dao.NullString(r.ErrorCode),
		ErrorMessage: dao.NullString(r.ErrorMessage),
		StartedAt:    r.StartedAt.UTC(),
		DurationMs:   r.DurationMs,
		CreateTime:   r.CreateTime.UTC(),
	}
}

func fromExecutionDAO(d *dao.ExecutionDAO) *ExecutionRecord {
	return &ExecutionRecord{
		ID:           d.ID,
		TaskID:       d.TaskID,
		Kind:         d.Kind,
		Source:       d.Source,
		Success:      d.Success,
		StatusCode:   d.StatusCode,
		ErrorCode:    d.ErrorCode.String,
		ErrorMessage: d.ErrorMessage.String,
		StartedAt:    d.StartedAt,
		DurationMs:   d.DurationMs,
		CreateTime:   d.CreateTime,
	}
}

var _ ExecutionRepository = (*SQLExecutionRepo)(nil)
