// Package database はストアへの接続とマイグレーション管理を提供する。
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/mongodb"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.json
var migrationsFS embed.FS

// MigrationsCollection はマイグレーション履歴を保持するコレクション名。
const MigrationsCollection = "schema_migrations"

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
// 生成したインスタンスをCloseするとMongoDBクライアントも切断される。
func NewMigrator(ctx context.Context, uri, dbName string, timeout time.Duration) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	client, err := ConnectMongo(ctx, uri, timeout)
	if err != nil {
		return nil, err
	}

	driver, err := mongodb.WithInstance(client, &mongodb.Config{
		DatabaseName:         dbName,
		MigrationsCollection: MigrationsCollection,
	})
	if err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "mongodb", driver)
	if err != nil {
		driver.Close()
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations はすべてのマイグレーションを適用する。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(ctx context.Context, uri, dbName string, timeout time.Duration) error {
	m, err := NewMigrator(ctx, uri, dbName, timeout)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
