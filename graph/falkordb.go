package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultGraphName is the FalkorDB graph key written when none is configured.
const DefaultGraphName = "ecl_graph"

// FalkorSink writes a ContextGraph into a FalkorDB graph over the Redis
// protocol. Nodes are MERGEd by id so republishing a document is idempotent
// for entities; edges are CREATEd, matching the graph's own append-only
// relationship semantics.
type FalkorSink struct {
	client *redis.Client
	graph  string
}

// WriteStats reports how many statements succeeded.
type WriteStats struct {
	NodesWritten int `json:"nodes_written"`
	EdgesWritten int `json:"edges_written"`
	Failed       int `json:"failed"`
}

// NewFalkorSink wraps an existing client. graphName defaults to
// DefaultGraphName.
func NewFalkorSink(client *redis.Client, graphName string) *FalkorSink {
	if graphName == "" {
		graphName = DefaultGraphName
	}
	return &FalkorSink{client: client, graph: graphName}
}

// Available pings the server.
func (s *FalkorSink) Available(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}

func (s *FalkorSink) query(ctx context.Context, cypher string) error {
	return s.client.Do(ctx, "GRAPH.QUERY", s.graph, cypher).Err()
}

// Write publishes every node then every edge. Individual statement failures
// are logged and counted; the first one is returned after all statements
// were attempted.
func (s *FalkorSink) Write(ctx context.Context, g *ContextGraph) (WriteStats, error) {
	var (
		stats    WriteStats
		firstErr error
	)
	record := func(err error, what string) bool {
		if err == nil {
			return true
		}
		stats.Failed++
		slog.Warn("graph: falkordb statement failed", "graph", s.graph, "statement", what, "error", err)
		if firstErr == nil {
			firstErr = fmt.Errorf("falkordb %s: %w", what, err)
		}
		return false
	}

	for _, e := range g.Entities() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if record(s.query(ctx, MergeNodeStatement(e)), "node "+e.ID) {
			stats.NodesWritten++
		}
	}
	for _, r := range g.Relationships() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if record(s.query(ctx, CreateEdgeStatement(r)), fmt.Sprintf("edge %s-%s->%s", r.SourceID, r.Type, r.TargetID)) {
			stats.EdgesWritten++
		}
	}

	slog.Info("graph: published to falkordb", "graph", s.graph,
		"nodes", stats.NodesWritten, "edges", stats.EdgesWritten, "failed", stats.Failed)
	return stats, firstErr
}

// Clear deletes the whole graph key.
func (s *FalkorSink) Clear(ctx context.Context) error {
	return s.client.Do(ctx, "GRAPH.DELETE", s.graph).Err()
}
