// Package graphexpand implements the Graph BFS Expander (spec §4.8):
// bounded breadth-first traversal over the code-edge graph from a set of
// seed symbol ids, stopping on whichever of depth/nodes/edges/token-budget
// /timeout fires first. The traversal discipline (cameFrom-style visited
// tracking, depth-bounded queue, never-fatal storage errors) is grounded
// on the BFS-with-visited-set pattern in codeNERD's former graph store
// (internal/store/local_graph.go), adapted here from an in-memory
// agent-relationship graph to the indexer's chunk/edge storage contract
// and re-scoped to the budget and tie-break rules spec §4.8 specifies.
package graphexpand

import (
	"context"
	"sort"
	"time"

	"pampax/internal/pampax"
)

// EdgeLookup is the slice of the storage contract (spec §6) the expander
// needs: outgoing/incoming edges for a node, and chunk lookup for token
// accounting.
type EdgeLookup interface {
	OutgoingEdges(ctx context.Context, nodeID string, types []pampax.EdgeType) ([]pampax.Edge, error)
	IncomingEdges(ctx context.Context, nodeID string, types []pampax.EdgeType) ([]pampax.Edge, error)
	GetChunk(ctx context.Context, id string) (pampax.Chunk, error)
}

// Params bounds one expansion call.
type Params struct {
	MaxDepth      int
	MaxNodes      int
	MaxEdges      int
	TokenBudget   int
	EdgeTypeFilter []pampax.EdgeType
	Timeout       time.Duration
	Intent        pampax.IntentLabel
}

// TraversalEdge is one edge recorded during the walk, annotated with the
// intent-aware neighbor score spec §4.8 calls for.
type TraversalEdge struct {
	Edge  pampax.Edge
	Score float64
}

// Result is the expander's output.
type Result struct {
	Query          string
	StartSymbols   []string
	VisitedNodes   []string
	Edges          []TraversalEdge
	TokensUsed     int
	Truncated      bool
	PerformanceMS  float64
	DegradedDueTo  string // "depth"|"nodes"|"edges"|"budget"|"timeout"|""
	Error          string
}

type queueItem struct {
	node  string
	depth int
}

// intentWeights maps an intent label to the edge-type boosts spec §4.8
// names as examples: symbol intent boosts uses/calls, api intent boosts
// implements, incident intent boosts calls.
var intentWeights = map[pampax.IntentLabel]map[pampax.EdgeType]float64{
	pampax.IntentSymbol:   {pampax.EdgeUses: 1.5, pampax.EdgeCalls: 1.5},
	pampax.IntentAPI:      {pampax.EdgeImplements: 1.5, pampax.EdgeReferences: 1.2},
	pampax.IntentIncident: {pampax.EdgeCalls: 1.5, pampax.EdgeUses: 1.2},
	pampax.IntentConfig:   {pampax.EdgeConfigures: 1.5, pampax.EdgeManages: 1.2},
	pampax.IntentSearch:   {},
}

func neighborScore(intent pampax.IntentLabel, e pampax.Edge) float64 {
	weight := 1.0
	if m, ok := intentWeights[intent]; ok {
		if w, ok := m[e.Type]; ok {
			weight = w
		}
	}
	score := e.Confidence * weight
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Expand runs the bounded BFS. On a storage exception it returns a non-nil
// error paired with a Result carrying whatever was visited before the
// failure — the caller degrades to retrieval-only rather than treating
// this as fatal, per spec §4.8.
func Expand(ctx context.Context, lookup EdgeLookup, query string, seeds []string, params Params) (Result, error) {
	start := time.Now()
	deadline := start.Add(params.Timeout)
	if params.Timeout <= 0 {
		deadline = start.Add(365 * 24 * time.Hour)
	}

	visited := make(map[string]bool, len(seeds))
	var visitedOrder []string
	queue := make([]queueItem, 0, len(seeds))
	for _, s := range seeds {
		if !visited[s] {
			visited[s] = true
			visitedOrder = append(visitedOrder, s)
			queue = append(queue, queueItem{node: s, depth: 0})
		}
	}

	var edges []TraversalEdge
	tokensUsed := 0
	degradedDueTo := ""
	truncated := false

	accumulate := func(nodeID string) error {
		chunk, err := lookup.GetChunk(ctx, nodeID)
		if err != nil {
			return nil // chunk lookup miss is not a traversal-fatal error
		}
		tokensUsed += chunk.TokenCount
		return nil
	}
	for _, s := range seeds {
		_ = accumulate(s)
	}

loop:
	for len(queue) > 0 {
		if time.Now().After(deadline) {
			truncated = true
			degradedDueTo = "timeout"
			break
		}
		if params.TokenBudget > 0 && tokensUsed >= params.TokenBudget {
			truncated = true
			degradedDueTo = "budget"
			break
		}
		if params.MaxNodes > 0 && len(visitedOrder) >= params.MaxNodes {
			truncated = true
			degradedDueTo = "nodes"
			break
		}
		if params.MaxEdges > 0 && len(edges) >= params.MaxEdges {
			truncated = true
			degradedDueTo = "edges"
			break
		}

		item := queue[0]
		queue = queue[1:]

		if params.MaxDepth > 0 && item.depth >= params.MaxDepth {
			continue
		}

		out, err := lookup.OutgoingEdges(ctx, item.node, params.EdgeTypeFilter)
		if err != nil {
			return partialResult(query, seeds, visitedOrder, edges, tokensUsed, true, "", start), err
		}
		in, err := lookup.IncomingEdges(ctx, item.node, params.EdgeTypeFilter)
		if err != nil {
			return partialResult(query, seeds, visitedOrder, edges, tokensUsed, true, "", start), err
		}

		neighbors := append(append([]pampax.Edge{}, out...), in...)
		sort.SliceStable(neighbors, func(i, j int) bool {
			if neighbors[i].Confidence != neighbors[j].Confidence {
				return neighbors[i].Confidence > neighbors[j].Confidence
			}
			return neighborID(neighbors[i], item.node) < neighborID(neighbors[j], item.node)
		})

		for _, e := range neighbors {
			if params.MaxEdges > 0 && len(edges) >= params.MaxEdges {
				truncated = true
				degradedDueTo = "edges"
				break loop
			}
			neighbor := neighborID(e, item.node)
			edges = append(edges, TraversalEdge{Edge: e, Score: neighborScore(params.Intent, e)})
			if visited[neighbor] {
				continue
			}
			if params.MaxNodes > 0 && len(visitedOrder) >= params.MaxNodes {
				truncated = true
				degradedDueTo = "nodes"
				break loop
			}
			visited[neighbor] = true
			visitedOrder = append(visitedOrder, neighbor)
			_ = accumulate(neighbor)
			queue = append(queue, queueItem{node: neighbor, depth: item.depth + 1})
		}
	}

	return Result{
		Query:         query,
		StartSymbols:  seeds,
		VisitedNodes:  visitedOrder,
		Edges:         edges,
		TokensUsed:    tokensUsed,
		Truncated:     truncated,
		PerformanceMS: float64(time.Since(start).Microseconds()) / 1000.0,
		DegradedDueTo: degradedDueTo,
	}, nil
}

func neighborID(e pampax.Edge, from string) string {
	if e.From == from {
		return e.To
	}
	return e.From
}

func partialResult(query string, seeds, visited []string, edges []TraversalEdge, tokens int, truncated bool, degradedDueTo string, start time.Time) Result {
	return Result{
		Query:         query,
		StartSymbols:  seeds,
		VisitedNodes:  visited,
		Edges:         edges,
		TokensUsed:    tokens,
		Truncated:     truncated,
		PerformanceMS: float64(time.Since(start).Microseconds()) / 1000.0,
		DegradedDueTo: degradedDueTo,
	}
}
