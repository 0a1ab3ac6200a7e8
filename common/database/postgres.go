package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"herdwatch/common/config"

	_ "github.com/lib/pq"
)

const (
	connMaxLifetime = 30 * time.Minute
	pingTimeout     = 5 * time.Second
)

// retryDelay 第 n 次重试前等待 n*retryDelay
var retryDelay = 2 * time.Second

// NewPostgresDB 创建PostgreSQL连接池，启动时按 ConnectRetries 重试
func NewPostgresDB(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	Configure(db, cfg)

	if err := pingWithRetry(ctx, db, cfg.ConnectRetries); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Configure 设置连接池参数
func Configure(db *sql.DB, cfg *config.DatabaseConfig) {
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	db.SetConnMaxLifetime(connMaxLifetime)
}

func pingWithRetry(ctx context.Context, db *sql.DB, retries int) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("failed to ping database: %w", ctx.Err())
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}
		if err = Ping(ctx, db); err == nil {
			return nil
		}
	}
	return fmt.Errorf("failed to ping database after %d attempts: %w", retries+1, err)
}

// Ping 带超时的连通性检查（健康检查使用）
func Ping(ctx context.Context, db *sql.DB) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return db.PingContext(pingCtx)
}

// Close 关闭数据库连接
func Close(db *sql.DB) error {
	if db != nil {
		return db.Close()
	}
	return nil
}
