package repository

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/hitoshi/vidasana/internal/model"
)

// Neo4jRelationshipStore はNeo4jを使用したフォロー関係ストア。
// ノードは :Identity ラベル、エッジは :FOLLOWS 型で表す。
type Neo4jRelationshipStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jRelationshipStore はNeo4jRelationshipStoreを生成する。
func NewNeo4jRelationshipStore(driver neo4j.DriverWithContext, database string) *Neo4jRelationshipStore {
	return &Neo4jRelationshipStore{driver: driver, database: database}
}

func (s *Neo4jRelationshipStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
}

// UpsertNode はノードをMERGEで冪等に作成する。表示属性は作成時のみ設定する。
func (s *Neo4jRelationshipStore) UpsertNode(ctx context.Context, node model.GraphNode) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	query := `
		MERGE (p:Identity {key: $key})
		ON CREATE SET p.role = $role, p.first_name = $firstName, p.last_name = $lastName
	`
	result, err := session.Run(ctx, query, map[string]any{
		"key":       node.Key,
		"role":      string(node.Role),
		"firstName": node.FirstName,
		"lastName":  node.LastName,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert node: %w", err)
	}
	if _, err := result.Consume(ctx); err != nil {
		return fmt.Errorf("failed to upsert node: %w", err)
	}
	return nil
}

// UpsertEdge は両端ノードとFOLLOWSエッジをMERGEで冪等に作成する。
func (s *Neo4jRelationshipStore) UpsertEdge(ctx context.Context, fromKey, toKey string) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	query := `
		MERGE (a:Identity {key: $fromKey})
		MERGE (b:Identity {key: $toKey})
		MERGE (a)-[:FOLLOWS]->(b)
	`
	result, err := session.Run(ctx, query, map[string]any{
		"fromKey": fromKey,
		"toKey":   toKey,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert edge: %w", err)
	}
	if _, err := result.Consume(ctx); err != nil {
		return fmt.Errorf("failed to upsert edge: %w", err)
	}
	return nil
}

// QueryFollowed はfromKeyがフォローしているノードを返す。
func (s *Neo4jRelationshipStore) QueryFollowed(ctx context.Context, fromKey string) ([]model.FollowedIdentity, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	query := `
		MATCH (:Identity {key: $fromKey})-[:FOLLOWS]->(p:Identity)
		RETURN toString(p.key) AS key, p.first_name AS first_name, p.last_name AS last_name
	`
	result, err := session.Run(ctx, query, map[string]any{"fromKey": fromKey})
	if err != nil {
		return nil, fmt.Errorf("failed to query followed: %w", err)
	}

	followed := []model.FollowedIdentity{}
	for result.Next(ctx) {
		record := result.Record()
		id := &model.Identity{
			FirstName: getStringFromRecord(record, "first_name"),
			LastName:  getStringFromRecord(record, "last_name"),
		}
		followed = append(followed, model.FollowedIdentity{
			Key:         getStringFromRecord(record, "key"),
			DisplayName: id.DisplayName(),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read followed: %w", err)
	}
	return followed, nil
}

// QueryEdges はすべてのFOLLOWSエッジを両端の表示属性付きで返す。
func (s *Neo4jRelationshipStore) QueryEdges(ctx context.Context) ([]model.FollowEdge, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	query := `
		MATCH (c:Identity)-[:FOLLOWS]->(p:Identity)
		RETURN toString(c.key) AS clinician_key, c.first_name AS clinician_first, c.last_name AS clinician_last,
		       toString(p.key) AS patient_key, p.first_name AS patient_first, p.last_name AS patient_last
		ORDER BY clinician_key, patient_key
	`
	result, err := session.Run(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}

	edges := []model.FollowEdge{}
	for result.Next(ctx) {
		record := result.Record()
		clinician := &model.Identity{
			FirstName: getStringFromRecord(record, "clinician_first"),
			LastName:  getStringFromRecord(record, "clinician_last"),
		}
		patient := &model.Identity{
			FirstName: getStringFromRecord(record, "patient_first"),
			LastName:  getStringFromRecord(record, "patient_last"),
		}
		edges = append(edges, model.FollowEdge{
			ClinicianKey:  getStringFromRecord(record, "clinician_key"),
			ClinicianName: clinician.DisplayName(),
			PatientKey:    getStringFromRecord(record, "patient_key"),
			PatientName:   patient.DisplayName(),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read edges: %w", err)
	}
	return edges, nil
}

// QueryInvalidNodes はキーがvalidPatternに一致しないノードを最大limit件返す。
// keyが欠落・非文字列のノードも空文字列として扱い、不正と判定する。
func (s *Neo4jRelationshipStore) QueryInvalidNodes(ctx context.Context, validPattern string, limit int) ([]model.NodeDescriptor, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	query := `
		MATCH (p:Identity)
		WHERE NOT coalesce(toString(p.key), '') =~ $pattern
		RETURN elementId(p) AS node_id, toString(p.key) AS key,
		       p.first_name AS first_name, p.last_name AS last_name
		LIMIT $limit
	`
	result, err := session.Run(ctx, query, map[string]any{
		"pattern": validPattern,
		"limit":   int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query invalid nodes: %w", err)
	}

	nodes := []model.NodeDescriptor{}
	for result.Next(ctx) {
		record := result.Record()
		nodes = append(nodes, model.NodeDescriptor{
			NodeID:    getStringFromRecord(record, "node_id"),
			Key:       getStringFromRecord(record, "key"),
			FirstName: getStringFromRecord(record, "first_name"),
			LastName:  getStringFromRecord(record, "last_name"),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to read invalid nodes: %w", err)
	}
	return nodes, nil
}

// CountEdgesToInvalid は終点ノードのキーが不正なFOLLOWSエッジ数を返す。
func (s *Neo4jRelationshipStore) CountEdgesToInvalid(ctx context.Context, validPattern string) (int64, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	query := `
		MATCH ()-[r:FOLLOWS]->(p:Identity)
		WHERE NOT coalesce(toString(p.key), '') =~ $pattern
		RETURN count(r) AS edges
	`
	result, err := session.Run(ctx, query, map[string]any{"pattern": validPattern})
	if err != nil {
		return 0, fmt.Errorf("failed to count edges: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count edges: %w", err)
	}
	return getInt64FromRecord(record, "edges"), nil
}

// DeleteEdgesTo は終点ノードのキーが不正なFOLLOWSエッジのみを削除する。ノードは残す。
func (s *Neo4jRelationshipStore) DeleteEdgesTo(ctx context.Context, validPattern string) (int64, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	query := `
		MATCH ()-[r:FOLLOWS]->(p:Identity)
		WHERE NOT coalesce(toString(p.key), '') =~ $pattern
		WITH collect(r) AS rels
		FOREACH (rel IN rels | DELETE rel)
		RETURN size(rels) AS deleted
	`
	result, err := session.Run(ctx, query, map[string]any{"pattern": validPattern})
	if err != nil {
		return 0, fmt.Errorf("failed to delete edges: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete edges: %w", err)
	}
	return getInt64FromRecord(record, "deleted"), nil
}

// Ping はNeo4jへの疎通を確認する。
func (s *Neo4jRelationshipStore) Ping(ctx context.Context) error {
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("failed to ping neo4j: %w", err)
	}
	return nil
}

func getStringFromRecord(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func getInt64FromRecord(record *neo4j.Record, key string) int64 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0
	}
	switch v := val.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

// compile-time interface check
var _ RelationshipStore = (*Neo4jRelationshipStore)(nil)
