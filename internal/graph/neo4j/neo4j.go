// Package neo4j implements graph.Store on a Neo4j database.
package neo4j

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/efebarandurmaz/codegraph/internal/graph"
)

// Config holds connection settings.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

// Store implements graph.Store using Neo4j.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

// New connects to Neo4j and verifies connectivity.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	logger.Info("connected to neo4j", "uri", cfg.URI, "database", cfg.Database)
	return &Store{driver: driver, database: cfg.Database, logger: logger}, nil
}

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database, AccessMode: mode})
}

var schema = []string{
	"CREATE CONSTRAINT file_path IF NOT EXISTS FOR (f:File) REQUIRE f.path IS UNIQUE",
	"CREATE CONSTRAINT import_name IF NOT EXISTS FOR (i:Import) REQUIRE i.name IS UNIQUE",
	"CREATE INDEX function_identity IF NOT EXISTS FOR (f:Function) ON (f.file, f.qualname)",
	"CREATE INDEX class_identity IF NOT EXISTS FOR (c:Class) ON (c.file, c.qualname)",
	"CREATE INDEX variable_identity IF NOT EXISTS FOR (v:Variable) ON (v.file, v.name)",
}

// EnsureSchema creates the uniqueness constraints and identity indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	for _, stmt := range schema {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			_, err := tx.Run(ctx, stmt, nil)
			return nil, err
		})
		if err != nil {
			return fmt.Errorf("ensure schema %q: %w", stmt, err)
		}
	}
	return nil
}

// Apply runs a single MERGE in its own write transaction.
func (s *Store) Apply(ctx context.Context, op graph.Operation) error {
	query, params, err := Cypher(op)
	if err != nil {
		return err
	}
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return err
}

// Reset deletes every node and relationship.
func (s *Store) Reset(ctx context.Context) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, "MATCH (n) DETACH DELETE n", nil)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("reset graph: %w", err)
	}
	s.logger.Info("graph cleared")
	return nil
}

// Callees returns the qualnames of the functions called by file:qualname.
func (s *Store) Callees(ctx context.Context, file, qualname string) ([]string, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := tx.Run(ctx,
			"MATCH (:Function {file: $file, qualname: $qualname})-[:CALLS]->(callee:Function) "+
				"RETURN callee.qualname AS qualname ORDER BY qualname",
			map[string]any{"file": file, "qualname": qualname})
		if err != nil {
			return nil, err
		}
		names := []string{}
		for records.Next(ctx) {
			n, _ := records.Record().Get("qualname")
			if str, ok := n.(string); ok {
				names = append(names, str)
			}
		}
		return names, records.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// IsRetryable reports whether the driver classifies err as transient.
func IsRetryable(err error) bool {
	return neo4j.IsRetryable(err) || graph.DefaultRetryable(err)
}

// Cypher renders op as a parameterized MERGE statement. Labels, types and
// property names are validated before they are interpolated.
func Cypher(op graph.Operation) (string, map[string]any, error) {
	if err := op.Validate(); err != nil {
		return "", nil, err
	}
	params := make(map[string]any)
	switch op.Kind {
	case graph.OpNode:
		props := op.Props
		if props == nil {
			props = map[string]any{}
		}
		params["props"] = props
		return fmt.Sprintf("MERGE (n%s) SET n += $props", pattern(op.Node, "k", params)), params, nil
	default:
		return fmt.Sprintf("MERGE (a%s) MERGE (b%s) MERGE (a)-[:%s]->(b)",
			pattern(op.From, "a", params), pattern(op.To, "b", params), op.Type), params, nil
	}
}

// pattern renders ":Label {k: $p0, ...}" and records the parameters.
func pattern(ref graph.NodeRef, prefix string, params map[string]any) string {
	names := ref.KeyNames()
	parts := make([]string, len(names))
	for i, k := range names {
		p := fmt.Sprintf("%s%d", prefix, i)
		parts[i] = fmt.Sprintf("%s: $%s", k, p)
		params[p] = ref.Key[k]
	}
	return fmt.Sprintf(":%s {%s}", ref.Label, strings.Join(parts, ", "))
}

var _ graph.Store = (*Store)(nil)
