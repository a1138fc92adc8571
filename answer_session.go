// Package oramacore - answer_session.go
// The AnswerSession owns the conversation transcript and interaction state,
// and is the only place where decoded stream events mutate them.

package oramacore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	endpointAnswer = "answer"
	endpointReason = "planned_answer"
)

// LLMConfig selects the provider and model the server should answer with.
type LLMConfig struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// SessionEvents are purely observational hooks. OnStateChange receives a
// deep-copied snapshot of the interaction state after every mutation;
// OnIncomingEvent receives each raw event payload before decoding.
type SessionEvents struct {
	OnStateChange   func(state []Interaction)
	OnEnd           func(state []Interaction)
	OnIncomingEvent func(payload string)
}

// AnswerSessionConfig fixes the session parameters at construction.
type AnswerSessionConfig struct {
	InitialMessages []Message
	LLMConfig       *LLMConfig
	SessionID       string // generated when empty
	Events          SessionEvents
	Storage         Storage // optional local persistence
}

// AskParams describes one answer request. A zero InteractionID means the
// session generates one.
type AskParams struct {
	InteractionID string
	Query         string
	Related       bool
	MinSimilarity float64
	MaxDocuments  int
	LLMConfig     *LLMConfig
}

type answerRequest struct {
	InteractionID  string     `json:"interaction_id"`
	Query          string     `json:"query"`
	VisitorID      string     `json:"visitor_id"`
	ConversationID string     `json:"conversation_id"`
	Messages       []Message  `json:"messages"`
	LLMConfig      *LLMConfig `json:"llm_config,omitempty"`
	Related        bool       `json:"related,omitempty"`
	MinSimilarity  float64    `json:"min_similarity,omitempty"`
	MaxDocuments   int        `json:"max_documents,omitempty"`
}

// flight is the cancellation scope of one in-flight request. At most one is
// alive per session; starting a new request cancels the previous flight and
// marks its interaction aborted.
type flight struct {
	cancel context.CancelFunc
}

// AnswerSession holds the ordered transcript and interaction state for one
// conversation. All mutation happens under its mutex, so observers only
// ever see consistent snapshots.
type AnswerSession struct {
	transport    *restTransport
	collectionID string
	config       AnswerSessionConfig
	storage      Storage
	sessionID    string
	visitorID    string
	logger       *slog.Logger

	mu           sync.Mutex
	messages     []Message
	state        []Interaction
	initialLen   int // messages predating this session, not paired to interactions
	inFlight     *flight
	lastParams   *AskParams
	lastEndpoint string
}

// NewAnswerSession creates a streaming answer session scoped to the client's
// current collection.
func (c *OramaCoreClient) NewAnswerSession(config AnswerSessionConfig) (*AnswerSession, error) {
	if c.collectionID == "" {
		return nil, ErrNoCollection
	}
	if c.config.ReadAPIKey == "" {
		return nil, ErrNoReadAPIKey
	}
	sessionID := config.SessionID
	if sessionID == "" {
		sessionID = gonanoid.Must()
	}
	return &AnswerSession{
		transport:    c.transport,
		collectionID: c.collectionID,
		config:       config,
		storage:      config.Storage,
		sessionID:    sessionID,
		visitorID:    loadVisitorID(),
		messages:     slices.Clone(config.InitialMessages),
		initialLen:   len(config.InitialMessages),
		logger:       c.logger,
	}, nil
}

// ID returns the stable session identifier.
func (s *AnswerSession) ID() string {
	return s.sessionID
}

// Messages returns a snapshot of the transcript.
func (s *AnswerSession) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

// State returns a snapshot of the interaction state.
func (s *AnswerSession) State() []Interaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneInteractions(s.state)
}

// Answer submits a query and blocks until the full response is available.
func (s *AnswerSession) Answer(ctx context.Context, params AskParams) (string, error) {
	out, err := s.ask(ctx, params, endpointAnswer)
	if err != nil {
		return "", err
	}
	return drainResponses(out)
}

// AnswerStream submits a query and returns a channel of responses: distinct
// snapshots of the accumulated text, a terminal error if the stream fails,
// and an end marker. The channel closes when the stream ends.
func (s *AnswerSession) AnswerStream(ctx context.Context, params AskParams) (<-chan Response, error) {
	return s.ask(ctx, params, endpointAnswer)
}

// Reason is like Answer but uses the planned-answer endpoint, where the
// server announces an execution plan and runs tools before replying.
func (s *AnswerSession) Reason(ctx context.Context, params AskParams) (string, error) {
	out, err := s.ask(ctx, params, endpointReason)
	if err != nil {
		return "", err
	}
	return drainResponses(out)
}

// ReasonStream is the streaming counterpart of Reason.
func (s *AnswerSession) ReasonStream(ctx context.Context, params AskParams) (<-chan Response, error) {
	return s.ask(ctx, params, endpointReason)
}

// Abort cancels the in-flight request and marks its interaction aborted.
// It fails with ErrNoRequestActive when nothing is in flight.
func (s *AnswerSession) Abort() error {
	s.mu.Lock()
	if s.inFlight == nil {
		s.mu.Unlock()
		return ErrNoRequestActive
	}
	s.abortInFlightLocked()
	s.mu.Unlock()
	s.notify()
	return nil
}

// RegenerateLast pops the last question/answer pair and re-submits the
// original request parameters, blocking until the new answer completes.
func (s *AnswerSession) RegenerateLast(ctx context.Context) (string, error) {
	params, endpoint, err := s.popLast()
	if err != nil {
		return "", err
	}
	out, err := s.ask(ctx, params, endpoint)
	if err != nil {
		return "", err
	}
	return drainResponses(out)
}

// RegenerateLastStream is the streaming counterpart of RegenerateLast.
func (s *AnswerSession) RegenerateLastStream(ctx context.Context) (<-chan Response, error) {
	params, endpoint, err := s.popLast()
	if err != nil {
		return nil, err
	}
	return s.ask(ctx, params, endpoint)
}

// ClearSession drops the transcript and interaction state. The session
// identifier is unaffected.
func (s *AnswerSession) ClearSession() {
	s.mu.Lock()
	s.messages = []Message{}
	s.state = []Interaction{}
	s.initialLen = 0
	s.lastParams = nil
	s.mu.Unlock()
	s.notify()
}

func (s *AnswerSession) ask(ctx context.Context, params AskParams, endpoint string) (<-chan Response, error) {
	interactionID := params.InteractionID
	if interactionID == "" {
		interactionID = uuid.NewString()
	}

	s.mu.Lock()
	if s.inFlight != nil {
		s.abortInFlightLocked()
	}
	streamCtx, cancel := context.WithCancel(ctx)
	f := &flight{cancel: cancel}
	s.inFlight = f
	p := params
	s.lastParams = &p
	s.lastEndpoint = endpoint
	s.messages = append(s.messages,
		Message{Role: RoleUser, Content: params.Query},
		Message{Role: RoleAssistant, Content: ""},
	)
	s.state = append(s.state, Interaction{
		ID:      interactionID,
		Query:   params.Query,
		Loading: true,
		related: params.Related,
	})
	history := slices.Clone(s.messages[:len(s.messages)-1])
	s.mu.Unlock()
	s.notify()

	llmConfig := params.LLMConfig
	if llmConfig == nil {
		llmConfig = s.config.LLMConfig
	}
	body := answerRequest{
		InteractionID:  interactionID,
		Query:          params.Query,
		VisitorID:      s.visitorID,
		ConversationID: s.sessionID,
		Messages:       history,
		LLMConfig:      llmConfig,
		Related:        params.Related,
		MinSimilarity:  params.MinSimilarity,
		MaxDocuments:   params.MaxDocuments,
	}

	path := fmt.Sprintf("/v1/collections/%s/%s", s.collectionID, endpoint)
	stream, err := s.transport.openStream(streamCtx, path, body)
	if err != nil {
		cancel()
		s.mu.Lock()
		if s.inFlight == f {
			s.inFlight = nil
		}
		if cur := s.interactionLocked(interactionID); cur != nil && !cur.terminal() {
			cur.Error = true
			cur.ErrorMessage = err.Error()
			cur.Loading = false
			cur.status = statusErrored
		}
		s.mu.Unlock()
		s.notify()
		return nil, err
	}

	if s.storage != nil {
		if serr := s.storage.CreateConversation(ctx, s.sessionID, interactionID, params.Query); serr != nil {
			s.logger.Warn("unable to persist interaction", "interactionID", interactionID, "error", serr)
		}
	}

	out := make(chan Response, 32)
	go s.readLoop(streamCtx, f, interactionID, stream, out)
	return out, nil
}

// readLoop pulls framed events off the stream, decodes them, and folds them
// into the session state one at a time. Between two reads the pipeline runs
// synchronously, so no two events are ever applied concurrently for the
// same flight.
func (s *AnswerSession) readLoop(ctx context.Context, f *flight, interactionID string, stream io.ReadCloser, out chan<- Response) {
	defer close(out)
	defer f.cancel()
	defer stream.Close()

	s.logger.Info("answer stream started", "sessionID", s.sessionID, "interactionID", interactionID)

	reader := newSSEReader(stream)
	last := ""
	for {
		ev, err := reader.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				// Deliberate cancellation. If the server's terminal signal
				// already landed the interaction stays as it is, otherwise
				// it is marked aborted. Not an error either way.
				s.markAborted(interactionID)
				break
			}
			s.failStream(interactionID, err.Error())
			s.emit(ctx, out, Response{Type: ResponseTypeError, Content: err.Error()})
			break
		}

		payload, ok := ev.data()
		if !ok {
			continue
		}
		if h := s.config.Events.OnIncomingEvent; h != nil {
			h(payload)
		}
		decoded := decodeStreamEvent(payload)
		if decoded == nil {
			continue
		}
		if decoded.Kind == KindRaw {
			s.logger.Debug("unparseable stream payload", "sessionID", s.sessionID, "payload", decoded.Raw)
			continue
		}

		terminal, failure := s.fold(interactionID, decoded)
		if snapshot := s.responseOf(interactionID); snapshot != last {
			last = snapshot
			s.emit(ctx, out, Response{Type: ResponseTypePartialText, Content: snapshot})
		}
		if failure != "" {
			s.emit(ctx, out, Response{Type: ResponseTypeError, Content: failure})
		}
		if terminal {
			break
		}
	}

	s.finish(f, interactionID)
	s.emit(ctx, out, Response{Type: ResponseTypeEnd})
}

// fold applies one decoded event to the interaction. Terminal interactions
// are sinks: events arriving after completion, error or abort are ignored.
func (s *AnswerSession) fold(interactionID string, ev *StreamEvent) (terminal bool, failure string) {
	s.mu.Lock()
	cur := s.interactionLocked(interactionID)
	if cur == nil || cur.terminal() {
		s.mu.Unlock()
		return true, ""
	}

	mutated := true
	switch ev.Kind {
	case KindToken:
		cur.Response += ev.Token
		s.syncAssistantMessageLocked(interactionID, cur.Response)
	case KindSearchResults:
		// Servers resend the full result set, so replace, never merge.
		cur.Sources = ev.Results
	case KindOptimizedQuery:
		cur.OptimizedQuery = ev.Query
	case KindSelectedModel:
		cur.SelectedProvider = ev.Provider
		cur.SelectedModel = ev.Model
	case KindPlan:
		cur.Plan = ev.Plan
	case KindSegment:
		cur.Segment = ev.Audience
	case KindTrigger:
		cur.Trigger = ev.Audience
	case KindProbability:
		// Guards against out-of-order delivery: a probability with no
		// segment or trigger recorded yet is meaningless.
		if cur.Segment == nil && cur.Trigger == nil {
			mutated = false
		} else {
			p := ev.Probability
			cur.Probability = &p
		}
	case KindRelatedQueries:
		if cur.related {
			cur.Related += ev.Chunk
		} else {
			mutated = false
		}
	case KindStateChange:
		cur.CurrentStep = ev.Step
		cur.CurrentStepResult = ev.Raw
	case KindStep:
		cur.CurrentStep = ev.Step
		cur.CurrentStepResult = ev.Result
	case KindCompleted:
		cur.Loading = false
		cur.status = statusCompleted
		terminal = true
	case KindError:
		cur.Error = true
		cur.ErrorMessage = ev.Message
		if ev.Terminal {
			cur.Loading = false
			cur.status = statusErrored
			terminal = true
			failure = ev.Message
		}
	default:
		mutated = false
	}
	s.mu.Unlock()

	if mutated {
		s.notify()
	}
	return terminal, failure
}

func (s *AnswerSession) finish(f *flight, interactionID string) {
	s.mu.Lock()
	if s.inFlight == f {
		s.inFlight = nil
	}
	var completed bool
	var response string
	if cur := s.interactionLocked(interactionID); cur != nil {
		if !cur.terminal() {
			// The stream ended without a terminal event; freeze as completed.
			cur.Loading = false
			cur.status = statusCompleted
		}
		completed = cur.status == statusCompleted
		response = cur.Response
	}
	s.mu.Unlock()

	if completed && s.storage != nil {
		if err := s.storage.FinishConversation(context.Background(), interactionID, response); err != nil {
			s.logger.Warn("unable to persist response", "interactionID", interactionID, "error", err)
		}
	}
	if h := s.config.Events.OnEnd; h != nil {
		s.mu.Lock()
		snapshot := cloneInteractions(s.state)
		s.mu.Unlock()
		h(snapshot)
	}
	s.logger.Info("answer stream ended", "sessionID", s.sessionID, "interactionID", interactionID)
}

func (s *AnswerSession) markAborted(interactionID string) {
	s.mu.Lock()
	cur := s.interactionLocked(interactionID)
	if cur == nil || cur.terminal() {
		s.mu.Unlock()
		return
	}
	cur.Aborted = true
	cur.Loading = false
	cur.status = statusAborted
	s.mu.Unlock()
	s.notify()
}

func (s *AnswerSession) failStream(interactionID, message string) {
	s.mu.Lock()
	cur := s.interactionLocked(interactionID)
	if cur == nil || cur.terminal() {
		s.mu.Unlock()
		return
	}
	cur.Error = true
	cur.ErrorMessage = message
	cur.Loading = false
	cur.status = statusErrored
	s.mu.Unlock()
	s.notify()
}

// abortInFlightLocked cancels the current flight and marks the newest
// non-terminal interaction aborted. Callers hold s.mu.
func (s *AnswerSession) abortInFlightLocked() {
	s.inFlight.cancel()
	s.inFlight = nil
	if n := len(s.state); n > 0 {
		cur := &s.state[n-1]
		if !cur.terminal() {
			cur.Aborted = true
			cur.Loading = false
			cur.status = statusAborted
		}
	}
}

func (s *AnswerSession) popLast() (AskParams, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.state) == 0 || s.lastParams == nil {
		return AskParams{}, "", ErrNoInteractions
	}
	if n := len(s.messages); n < 2 || s.messages[n-1].Role != RoleAssistant {
		return AskParams{}, "", ErrNotAnAnswer
	}
	s.messages = s.messages[:len(s.messages)-2]
	s.state = s.state[:len(s.state)-1]
	return *s.lastParams, s.lastEndpoint, nil
}

func (s *AnswerSession) interactionLocked(interactionID string) *Interaction {
	for i := len(s.state) - 1; i >= 0; i-- {
		if s.state[i].ID == interactionID {
			return &s.state[i]
		}
	}
	return nil
}

// syncAssistantMessageLocked mirrors the accumulated response into the
// assistant message paired with the interaction.
func (s *AnswerSession) syncAssistantMessageLocked(interactionID, content string) {
	for i := range s.state {
		if s.state[i].ID != interactionID {
			continue
		}
		idx := s.initialLen + 2*i + 1
		if idx < len(s.messages) && s.messages[idx].Role == RoleAssistant {
			s.messages[idx].Content = content
		}
		return
	}
}

func (s *AnswerSession) responseOf(interactionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur := s.interactionLocked(interactionID); cur != nil {
		return cur.Response
	}
	return ""
}

func (s *AnswerSession) notify() {
	h := s.config.Events.OnStateChange
	if h == nil {
		return
	}
	s.mu.Lock()
	snapshot := cloneInteractions(s.state)
	s.mu.Unlock()
	h(snapshot)
}

func (s *AnswerSession) emit(ctx context.Context, out chan<- Response, r Response) {
	select {
	case out <- r:
	case <-ctx.Done():
	}
}

func drainResponses(out <-chan Response) (string, error) {
	var text string
	for r := range out {
		switch r.Type {
		case ResponseTypePartialText:
			text = r.Content
		case ResponseTypeError:
			return text, errors.New(r.Content)
		}
	}
	return text, nil
}
