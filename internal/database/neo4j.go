package database

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// graphSchema はグラフストアに適用する制約。IF NOT EXISTSで冪等に実行できる。
var graphSchema = []string{
	"CREATE CONSTRAINT identity_key_unique IF NOT EXISTS FOR (p:Identity) REQUIRE p.key IS UNIQUE",
}

// ConnectNeo4j はNeo4jドライバーを生成し、疎通を確認する。
func ConnectNeo4j(ctx context.Context, uri, user, password string) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect neo4j: %w", err)
	}
	return driver, nil
}

// EnsureGraphSchema はIdentityノードのキー一意制約を作成する。
func EnsureGraphSchema(ctx context.Context, driver neo4j.DriverWithContext, database string) error {
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: database})
	defer session.Close(ctx)

	for _, stmt := range graphSchema {
		result, err := session.Run(ctx, stmt, nil)
		if err != nil {
			return fmt.Errorf("failed to apply graph schema: %w", err)
		}
		if _, err := result.Consume(ctx); err != nil {
			return fmt.Errorf("failed to apply graph schema: %w", err)
		}
	}
	return nil
}
