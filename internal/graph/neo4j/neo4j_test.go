package neo4j

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/codegraph/internal/graph"
)

func TestCypher_Node(t *testing.T) {
	q, params, err := Cypher(graph.MergeNode(graph.FunctionRef("a.py", "f"), map[string]any{"line": int64(3)}))
	require.NoError(t, err)
	assert.Equal(t, "MERGE (n:Function {file: $k0, qualname: $k1}) SET n += $props", q)
	assert.Equal(t, "a.py", params["k0"])
	assert.Equal(t, "f", params["k1"])
	assert.Equal(t, map[string]any{"line": int64(3)}, params["props"])
}

func TestCypher_NodeWithoutProps(t *testing.T) {
	_, params, err := Cypher(graph.MergeNode(graph.ImportRef("os"), nil))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, params["props"])
}

func TestCypher_Edge(t *testing.T) {
	q, params, err := Cypher(graph.MergeEdge(graph.FileRef("a.py"), graph.RelImports, graph.ImportRef("os")))
	require.NoError(t, err)
	assert.Equal(t, "MERGE (a:File {path: $a0}) MERGE (b:Import {name: $b0}) MERGE (a)-[:IMPORTS]->(b)", q)
	assert.Equal(t, map[string]any{"a0": "a.py", "b0": "os"}, params)
}

func TestCypher_RejectsUnknownVocabulary(t *testing.T) {
	_, _, err := Cypher(graph.MergeEdge(graph.FileRef("a.py"), "OWNS]->(x) DETACH DELETE x //", graph.ImportRef("os")))
	assert.Error(t, err)
}
