package oramacore

import "slices"

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Message is one turn of the transcript. The assistant turn's content grows
// in place while the answer streams.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// interactionStatus tracks the lifecycle of one interaction. Terminal
// statuses are sinks: once reached, later events for the same interaction
// are ignored.
type interactionStatus int

const (
	statusStreaming interactionStatus = iota
	statusCompleted
	statusErrored
	statusAborted
)

// Interaction is one request/response unit, richer than a Message pair: it
// carries the structured sub-state decoded from the event stream. Callers
// must treat the values handed to notification callbacks as read-only
// snapshots.
type Interaction struct {
	ID           string      `json:"id"`
	Query        string      `json:"query"`
	Response     string      `json:"response"`
	Sources      []SearchHit `json:"sources,omitempty"`
	Loading      bool        `json:"loading"`
	Error        bool        `json:"error"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	Aborted      bool        `json:"aborted"`

	// Related accumulates related-query JSON fragments until the stream
	// completes. The value is one JSON document delivered in pieces, so it
	// is handed to the caller unparsed.
	Related string `json:"related,omitempty"`

	// Observability sub-state.
	CurrentStep       string     `json:"currentStep,omitempty"`
	CurrentStepResult string     `json:"currentStepResult,omitempty"`
	OptimizedQuery    string     `json:"optimizedQuery,omitempty"`
	SelectedProvider  string     `json:"selectedProvider,omitempty"`
	SelectedModel     string     `json:"selectedModel,omitempty"`
	Plan              []PlanStep `json:"plan,omitempty"`
	Segment           *Audience  `json:"segment,omitempty"`
	Trigger           *Audience  `json:"trigger,omitempty"`
	Probability       *float64   `json:"probability,omitempty"`

	status  interactionStatus
	related bool // caller asked for related-question generation
}

func (i Interaction) terminal() bool {
	return i.status != statusStreaming
}

// clone deep-copies the interaction so notification callbacks never observe
// in-progress mutation of the live slices.
func (i Interaction) clone() Interaction {
	c := i
	c.Sources = slices.Clone(i.Sources)
	c.Plan = slices.Clone(i.Plan)
	if i.Segment != nil {
		seg := *i.Segment
		c.Segment = &seg
	}
	if i.Trigger != nil {
		trg := *i.Trigger
		c.Trigger = &trg
	}
	if i.Probability != nil {
		p := *i.Probability
		c.Probability = &p
	}
	return c
}

func cloneInteractions(state []Interaction) []Interaction {
	out := make([]Interaction, len(state))
	for n, i := range state {
		out[n] = i.clone()
	}
	return out
}
