// Package pampax holds the data model shared across every component of the
// query pipeline: Chunk and Edge (owned by the indexer, read-only here),
// SearchResult, Bundle, CacheEntry, IntentResult, PolicyDecision,
// and StoppingCondition.
package pampax

import "time"

// SpanKind labels the kind of code a Chunk represents.
type SpanKind string

const (
	SpanFunction SpanKind = "function"
	SpanClass    SpanKind = "class"
	SpanTest     SpanKind = "test"
	SpanComment  SpanKind = "comment"
	SpanConfig   SpanKind = "config"
	SpanOther    SpanKind = "other"
)

// Chunk is an indexed code span. It is created by the external indexer and
// is read-only to the core pipeline.
type Chunk struct {
	ID          string
	RepoID      string
	Path        string
	StartByte   int
	EndByte     int
	StartLine   int
	EndLine     int
	Language    string
	Content     string
	ContentHash string
	SpanKind    SpanKind
	TokenCount  int
}

// EdgeType is a directed typed relationship between two symbol ids.
type EdgeType string

const (
	EdgeUses       EdgeType = "uses"
	EdgeCalls      EdgeType = "calls"
	EdgeImplements EdgeType = "implements"
	EdgeConfigures EdgeType = "configures"
	EdgeManages    EdgeType = "manages"
	EdgeImports    EdgeType = "imports"
	EdgeReferences EdgeType = "references"
	EdgeDefines    EdgeType = "defines"
)

// Edge is owned by the indexer; the core treats the edge table as read-only.
type Edge struct {
	From       string
	To         string
	Type       EdgeType
	Confidence float64
}

// SearchResult is produced per sub-retriever and mutated only by attaching
// rerank/fusion scores as the pipeline progresses.
type SearchResult struct {
	ID       string
	Path     string
	Content  string
	Score    float64
	SpanKind SpanKind
	Metadata map[string]interface{}

	// FusedScore is set once the Reranker Service has run RRF/cross-encoder
	// fusion. Zero until then.
	FusedScore float64
	// Source tags which sub-retriever(s) produced this result, e.g. "bm25",
	// "vector", "memory", "symbol", or a comma-joined union after dedup.
	Source string
}

// Bundle is the final token-budgeted ordered set of results returned to the
// caller, plus the explanation and accounting that made it.
type Bundle struct {
	Query             string
	Sources           []string
	Results           []SearchResult
	TotalTokens       int
	Budget            int
	Explanation       Explanation
	StoppingConditions []StoppingCondition
	PerformanceMS      float64
	CorrelationID      string
	Truncated          bool
}

// Explanation carries the final PolicyDecision, the retrievers used, and any
// non-fatal errors encountered along the way.
type Explanation struct {
	Policy           PolicyDecision
	RetrieversUsed   []string
	RerankProvider   string
	DegradeLevel     int
	GraphExpanded    bool
	Errors           []string
}

// CacheEntry is the value wrapper stored by the namespaced cache.
type CacheEntry struct {
	Value        interface{}
	ExpiresAt    time.Time
	LastAccessed time.Time
	SizeEstimate int
}

// IntentLabel is a coarse query classification driving the Policy Gate.
type IntentLabel string

const (
	IntentSymbol   IntentLabel = "symbol"
	IntentConfig   IntentLabel = "config"
	IntentAPI      IntentLabel = "api"
	IntentIncident IntentLabel = "incident"
	IntentSearch   IntentLabel = "search"
)

// Entity is a token extracted from a query and tagged with its rough kind.
type Entity struct {
	Text string
	Kind string // function|class|file|route|error|other
}

// IntentResult is the Intent Classifier's output.
type IntentResult struct {
	Intent            IntentLabel
	Confidence        float64
	Entities          []Entity
	SuggestedPolicies []string
}

// PolicyDecision is the Policy Gate's output: how deep and how broad the
// Hybrid Retriever and Graph BFS Expander should go for this query.
type PolicyDecision struct {
	MaxDepth            int
	IncludeSymbols      bool
	IncludeFiles        bool
	IncludeContent      bool
	EarlyStopThreshold  int
	SeedWeights         map[string]float64
}

// StoppingType enumerates the Stopping-Reason Engine's condition types.
type StoppingType string

const (
	StopBudgetExhausted    StoppingType = "BUDGET_EXHAUSTED"
	StopBudgetWarning      StoppingType = "BUDGET_WARNING"
	StopResultLimit        StoppingType = "RESULT_LIMIT"
	StopQualityThreshold   StoppingType = "QUALITY_THRESHOLD"
	StopSearchFailure      StoppingType = "SEARCH_FAILURE"
	StopCacheBoundary      StoppingType = "CACHE_BOUNDARY"
	StopLowCacheHitRate    StoppingType = "LOW_CACHE_HIT_RATE"
	StopGraphTraversalLimit StoppingType = "GRAPH_TRAVERSAL_LIMIT"
	StopTimeout            StoppingType = "TIMEOUT"
	StopDegradationTriggered StoppingType = "DEGRADATION_TRIGGERED"
)

// Severity is the Stopping-Reason Engine's condition severity.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// StoppingCondition is a recorded, explainable early-termination condition.
type StoppingCondition struct {
	Type        StoppingType
	Severity    Severity
	Category    string
	Source      string
	Values      map[string]interface{}
	Timestamp   time.Time
	Explanation string
	Actionable  []string
}
