package oramacore

// EventKind discriminates the closed set of decoded protocol events. The
// decoder maps every recognized server action onto exactly one kind;
// actions it has never seen fold into KindStep so newer server-side step
// types degrade to progress reporting instead of breaking the stream.
type EventKind string

const (
	KindToken          EventKind = "token"
	KindStateChange    EventKind = "state-change"
	KindSearchResults  EventKind = "search-results"
	KindOptimizedQuery EventKind = "optimized-query"
	KindRelatedQueries EventKind = "related-queries"
	KindSelectedModel  EventKind = "selected-model"
	KindPlan           EventKind = "plan"
	KindStep           EventKind = "step"
	KindSegment        EventKind = "segment"
	KindTrigger        EventKind = "trigger"
	KindProbability    EventKind = "probability"
	KindCompleted      EventKind = "completed"
	KindError          EventKind = "error"
	KindRaw            EventKind = "raw"
)

// Wire action names, one per decoded kind. The mapping is a fixed lookup.
const (
	actionSelectedLLM        = "selected_llm"
	actionOptimizingQuery    = "optimizing_query"
	actionSearchResults      = "search_results"
	actionRelatedQueries     = "related_queries"
	actionPlan               = "action_plan"
	actionGetSegment         = "get_segment"
	actionGetTrigger         = "get_trigger"
	actionSegmentProbability = "segment_probability"
	actionGiveReply          = "give_reply"
	actionCompleted          = "completed"
	actionError              = "error"
)

// SearchHit is one document matched by the server-side retrieval step.
type SearchHit struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Document map[string]any `json:"document"`
}

// SearchResults is the full result set attached to an interaction. Servers
// resend the whole set on every update, so it replaces rather than merges.
type SearchResults struct {
	Count int         `json:"count"`
	Hits  []SearchHit `json:"hits"`
}

// PlanStep is one entry of the server's announced execution plan.
type PlanStep struct {
	Step        string `json:"step"`
	Description string `json:"description"`
}

// Audience identifies a detected segment or trigger.
type Audience struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StreamEvent is the normalized, typed form of one protocol action,
// independent of which wire envelope carried it. Only the fields relevant
// to its Kind are populated.
type StreamEvent struct {
	Kind EventKind

	Token       string      // KindToken
	Results     []SearchHit // KindSearchResults
	Query       string      // KindOptimizedQuery
	Chunk       string      // KindRelatedQueries
	Provider    string      // KindSelectedModel
	Model       string      // KindSelectedModel
	Plan        []PlanStep  // KindPlan
	Step        string      // KindStep, KindStateChange
	Result      string      // KindStep accumulated result text
	Done        bool        // KindStep completion flag
	Audience    *Audience   // KindSegment, KindTrigger
	Probability float64     // KindProbability
	Message     string      // KindError
	Terminal    bool        // KindError
	Raw         string      // KindRaw original payload, KindStateChange data
}
