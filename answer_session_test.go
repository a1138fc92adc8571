package oramacore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSSE(w http.ResponseWriter, payload string) {
	fmt.Fprintf(w, "data: %s\n\n", payload)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// scriptedAnswerServer replays the given payloads for every answer request
// and records the request bodies it saw.
type scriptedAnswerServer struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []answerRequest
}

func newScriptedAnswerServer(t *testing.T, payloads ...string) *scriptedAnswerServer {
	t.Helper()
	s := &scriptedAnswerServer{}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req answerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("undecodable answer request: %v", err)
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		for _, p := range payloads {
			writeSSE(w, p)
		}
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *scriptedAnswerServer) recorded() []answerRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]answerRequest(nil), s.requests...)
}

func newTestSession(t *testing.T, url string, config AnswerSessionConfig) *AnswerSession {
	t.Helper()
	client := NewOramaCoreClient(ClientConfig{URL: url, ReadAPIKey: "read_api_key"})
	client.SetCollection("my-collection")
	session, err := client.NewAnswerSession(config)
	require.NoError(t, err)
	return session
}

func tokenPayloads(t *testing.T, tokens ...string) []string {
	t.Helper()
	var payloads []string
	for _, tok := range tokens {
		payloads = append(payloads, responseEnvelope(t, actionGiveReply, tok, false))
	}
	return append(payloads, responseEnvelope(t, actionCompleted, "", true))
}

func TestTokenAccumulation(t *testing.T) {
	srv := newScriptedAnswerServer(t, tokenPayloads(t, "a", "b", "c")...)
	session := newTestSession(t, srv.server.URL, AnswerSessionConfig{})

	answer, err := session.Answer(context.Background(), AskParams{Query: "spell abc"})
	require.NoError(t, err)
	assert.Equal(t, "abc", answer)

	state := session.State()
	require.Len(t, state, 1)
	assert.Equal(t, "abc", state[0].Response)
	assert.False(t, state[0].Loading)
	assert.False(t, state[0].Error)
	assert.NotEmpty(t, state[0].ID)

	messages := session.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, Message{Role: RoleUser, Content: "spell abc"}, messages[0])
	assert.Equal(t, Message{Role: RoleAssistant, Content: "abc"}, messages[1])
}

func TestAnswerStreamYieldsDistinctSnapshots(t *testing.T) {
	srv := newScriptedAnswerServer(t, tokenPayloads(t, "a", "b", "c")...)
	session := newTestSession(t, srv.server.URL, AnswerSessionConfig{})

	stream, err := session.AnswerStream(context.Background(), AskParams{Query: "spell abc"})
	require.NoError(t, err)

	var snapshots []string
	for r := range stream {
		if r.Type == ResponseTypePartialText {
			snapshots = append(snapshots, r.Content)
		}
	}
	assert.Equal(t, []string{"a", "ab", "abc"}, snapshots)
}

func TestAbortWithoutFlightFails(t *testing.T) {
	srv := newScriptedAnswerServer(t)
	session := newTestSession(t, srv.server.URL, AnswerSessionConfig{})

	err := session.Abort()
	assert.ErrorIs(t, err, ErrNoRequestActive)
	assert.Empty(t, session.State())
	assert.Empty(t, session.Messages())
}

func TestAtMostOneInFlight(t *testing.T) {
	var mu sync.Mutex
	var calls int
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/collections/my-collection/answer", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		call := calls
		mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		if call == 1 {
			// First request streams one token and then hangs until the
			// client cancels it.
			writeSSE(w, `{"type":"response","message":"{\"action\":\"give_reply\",\"result\":\"slow\"}"}`)
			<-r.Context().Done()
			return
		}
		writeSSE(w, `{"type":"response","message":"{\"action\":\"give_reply\",\"result\":\"ok\"}"}`)
		writeSSE(w, `{"type":"response","message":"{\"action\":\"completed\"}"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	session := newTestSession(t, srv.URL, AnswerSessionConfig{})

	first, err := session.AnswerStream(context.Background(), AskParams{Query: "first"})
	require.NoError(t, err)

	// Wait until the first stream has produced output, so it is genuinely
	// in flight when the second request starts.
	select {
	case r := <-first:
		require.Equal(t, ResponseTypePartialText, r.Type)
		require.Equal(t, "slow", r.Content)
	case <-time.After(5 * time.Second):
		t.Fatal("first stream produced no output")
	}

	answer, err := session.Answer(context.Background(), AskParams{Query: "second"})
	require.NoError(t, err)
	assert.Equal(t, "ok", answer)

	// Drain the first stream; it ends once its flight is cancelled.
	for range first {
	}

	state := session.State()
	require.Len(t, state, 2)
	assert.True(t, state[0].Aborted)
	assert.False(t, state[0].Loading)
	assert.False(t, state[1].Aborted)
	assert.Equal(t, "ok", state[1].Response)
}

func TestRegenerateLastRoundTrip(t *testing.T) {
	srv := newScriptedAnswerServer(t, tokenPayloads(t, "4")...)
	session := newTestSession(t, srv.server.URL, AnswerSessionConfig{})

	_, err := session.Answer(context.Background(), AskParams{Query: "What is 10 divided by 2?", Related: true})
	require.NoError(t, err)
	require.Len(t, session.State(), 1)
	require.Len(t, session.Messages(), 2)

	answer, err := session.RegenerateLast(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "4", answer)

	// Exactly one message pair and one interaction: popped, then re-added.
	assert.Len(t, session.State(), 1)
	assert.Len(t, session.Messages(), 2)

	reqs := srv.recorded()
	require.Len(t, reqs, 2)
	assert.Equal(t, reqs[0].Query, reqs[1].Query)
	assert.Equal(t, reqs[0].Related, reqs[1].Related)
	assert.Equal(t, reqs[0].ConversationID, reqs[1].ConversationID)
	// The original call let the session generate the interaction id, so the
	// regenerated call does too.
	assert.NotEmpty(t, reqs[1].InteractionID)
	assert.NotEqual(t, reqs[0].InteractionID, reqs[1].InteractionID)
}

func TestRegenerateWithoutHistoryFails(t *testing.T) {
	srv := newScriptedAnswerServer(t)
	session := newTestSession(t, srv.server.URL, AnswerSessionConfig{})

	_, err := session.RegenerateLast(context.Background())
	assert.ErrorIs(t, err, ErrNoInteractions)
}

func TestClearSessionKeepsID(t *testing.T) {
	srv := newScriptedAnswerServer(t, tokenPayloads(t, "hi")...)
	session := newTestSession(t, srv.server.URL, AnswerSessionConfig{})
	id := session.ID()

	_, err := session.Answer(context.Background(), AskParams{Query: "hello"})
	require.NoError(t, err)
	require.NotEmpty(t, session.State())

	session.ClearSession()
	assert.Empty(t, session.State())
	assert.Empty(t, session.Messages())
	assert.Equal(t, id, session.ID())
}

func TestEndToEndDivisionScenario(t *testing.T) {
	plan := []map[string]string{
		{"step": "OPTIMIZE_QUERY", "description": "Understand the question"},
		{"step": "USE_TOOL", "description": "Run the division tool"},
		{"step": "GIVE_REPLY", "description": "Answer the user"},
	}
	hits := []map[string]any{
		{"id": "calc-1", "score": 1.0, "document": map[string]any{"name": "division"}},
	}
	srv := newScriptedAnswerServer(t,
		responseEnvelope(t, actionPlan, plan, false),
		responseEnvelope(t, actionSearchResults, hits, false),
		responseEnvelope(t, actionGiveReply, "4", false),
		responseEnvelope(t, actionCompleted, "", true),
	)
	session := newTestSession(t, srv.server.URL, AnswerSessionConfig{})

	answer, err := session.Reason(context.Background(), AskParams{Query: "What is 10 divided by 2?"})
	require.NoError(t, err)
	assert.Equal(t, "4", answer)

	state := session.State()
	require.Len(t, state, 1)
	assert.Equal(t, "4", state[0].Response)
	assert.False(t, state[0].Loading)
	assert.False(t, state[0].Error)
	require.Len(t, state[0].Plan, 3)
	assert.Equal(t, "USE_TOOL", state[0].Plan[1].Step)
	require.Len(t, state[0].Sources, 1)
	assert.Equal(t, "calc-1", state[0].Sources[0].ID)
}

func TestRelatedQueriesAccumulate(t *testing.T) {
	srv := newScriptedAnswerServer(t,
		responseEnvelope(t, actionGiveReply, "sure", false),
		responseEnvelope(t, actionRelatedQueries, `["how do`, false),
		responseEnvelope(t, actionRelatedQueries, ` I sort?"]`, false),
		responseEnvelope(t, actionCompleted, "", true),
	)
	session := newTestSession(t, srv.server.URL, AnswerSessionConfig{})

	_, err := session.Answer(context.Background(), AskParams{Query: "related please", Related: true})
	require.NoError(t, err)

	state := session.State()
	require.Len(t, state, 1)
	assert.Equal(t, `["how do I sort?"]`, state[0].Related)
}

func TestRelatedQueriesIgnoredWhenNotRequested(t *testing.T) {
	srv := newScriptedAnswerServer(t,
		responseEnvelope(t, actionRelatedQueries, `["q"]`, false),
		responseEnvelope(t, actionCompleted, "", true),
	)
	session := newTestSession(t, srv.server.URL, AnswerSessionConfig{})

	_, err := session.Answer(context.Background(), AskParams{Query: "no related"})
	require.NoError(t, err)
	assert.Empty(t, session.State()[0].Related)
}

func TestProbabilityRequiresAudience(t *testing.T) {
	srv := newScriptedAnswerServer(t,
		responseEnvelope(t, actionSegmentProbability, "0.5", false),
		responseEnvelope(t, actionGetSegment, map[string]string{"id": "s1", "name": "developers"}, false),
		responseEnvelope(t, actionSegmentProbability, "0.9", false),
		responseEnvelope(t, actionCompleted, "", true),
	)
	session := newTestSession(t, srv.server.URL, AnswerSessionConfig{})

	_, err := session.Answer(context.Background(), AskParams{Query: "segment me"})
	require.NoError(t, err)

	state := session.State()
	require.Len(t, state, 1)
	require.NotNil(t, state[0].Segment)
	assert.Equal(t, "developers", state[0].Segment.Name)
	require.NotNil(t, state[0].Probability)
	assert.InDelta(t, 0.9, *state[0].Probability, 1e-9)
}

func TestNonTerminalErrorKeepsStreaming(t *testing.T) {
	srv := newScriptedAnswerServer(t,
		responseEnvelope(t, actionError, map[string]any{"message": "flaky shard", "terminal": false}, false),
		responseEnvelope(t, actionGiveReply, "still here", false),
		responseEnvelope(t, actionCompleted, "", true),
	)
	session := newTestSession(t, srv.server.URL, AnswerSessionConfig{})

	answer, err := session.Answer(context.Background(), AskParams{Query: "keep going"})
	require.NoError(t, err)
	assert.Equal(t, "still here", answer)

	state := session.State()
	assert.True(t, state[0].Error)
	assert.Equal(t, "flaky shard", state[0].ErrorMessage)
	assert.False(t, state[0].Loading)
}

func TestTerminalErrorFailsBufferedCall(t *testing.T) {
	srv := newScriptedAnswerServer(t,
		responseEnvelope(t, actionGiveReply, "partial", false),
		responseEnvelope(t, actionError, map[string]any{"message": "model exploded", "terminal": true}, true),
	)
	session := newTestSession(t, srv.server.URL, AnswerSessionConfig{})

	_, err := session.Answer(context.Background(), AskParams{Query: "doomed"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model exploded")

	state := session.State()
	assert.True(t, state[0].Error)
	assert.False(t, state[0].Loading)
}

func TestTransportErrorFailsCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	session := newTestSession(t, srv.URL, AnswerSessionConfig{})

	_, err := session.Answer(context.Background(), AskParams{Query: "hello"})
	require.Error(t, err)

	// No interaction is left loading after a failed open.
	for _, i := range session.State() {
		assert.False(t, i.Loading)
	}
}

func TestUnknownActionsSurfaceAsSteps(t *testing.T) {
	srv := newScriptedAnswerServer(t,
		responseEnvelope(t, "warming_up_gpu", "37%", false),
		responseEnvelope(t, actionGiveReply, "done", false),
		responseEnvelope(t, actionCompleted, "", true),
	)

	var steps []string
	session := newTestSession(t, srv.server.URL, AnswerSessionConfig{
		Events: SessionEvents{
			OnStateChange: func(state []Interaction) {
				if len(state) > 0 && state[len(state)-1].CurrentStep != "" {
					steps = append(steps, state[len(state)-1].CurrentStep)
				}
			},
		},
	})

	_, err := session.Answer(context.Background(), AskParams{Query: "hi"})
	require.NoError(t, err)
	assert.Contains(t, steps, "warming_up_gpu")
	assert.Equal(t, "warming_up_gpu", session.State()[0].CurrentStep)
	assert.Equal(t, "37%", session.State()[0].CurrentStepResult)
}

func TestSessionHooks(t *testing.T) {
	srv := newScriptedAnswerServer(t, tokenPayloads(t, "a", "b")...)

	var stateChanges, incoming int
	var ended bool
	session := newTestSession(t, srv.server.URL, AnswerSessionConfig{
		Events: SessionEvents{
			OnStateChange:   func([]Interaction) { stateChanges++ },
			OnEnd:           func([]Interaction) { ended = true },
			OnIncomingEvent: func(string) { incoming++ },
		},
	})

	_, err := session.Answer(context.Background(), AskParams{Query: "hi"})
	require.NoError(t, err)

	assert.True(t, ended)
	assert.Equal(t, 3, incoming) // two tokens + completed
	assert.GreaterOrEqual(t, stateChanges, 3)
}

func TestStateSnapshotsAreCopies(t *testing.T) {
	srv := newScriptedAnswerServer(t, tokenPayloads(t, "hello")...)
	session := newTestSession(t, srv.server.URL, AnswerSessionConfig{})

	_, err := session.Answer(context.Background(), AskParams{Query: "hi"})
	require.NoError(t, err)

	snapshot := session.State()
	snapshot[0].Response = "tampered"
	assert.Equal(t, "hello", session.State()[0].Response)
}

func TestSessionPersistsToStorage(t *testing.T) {
	srv := newScriptedAnswerServer(t, tokenPayloads(t, "saved answer")...)

	storage, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "conversations.db"))
	require.NoError(t, err)
	defer storage.Close()

	session := newTestSession(t, srv.server.URL, AnswerSessionConfig{
		SessionID: "conv-test",
		Storage:   storage,
	})

	_, err = session.Answer(context.Background(), AskParams{Query: "persist me"})
	require.NoError(t, err)

	messages, err := storage.GetConversation(context.Background(), "conv-test", 10, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, Message{Role: RoleUser, Content: "persist me"}, messages[0])
	assert.Equal(t, Message{Role: RoleAssistant, Content: "saved answer"}, messages[1])
}

func TestInitialMessagesAreNotPaired(t *testing.T) {
	srv := newScriptedAnswerServer(t, tokenPayloads(t, "hi there")...)
	session := newTestSession(t, srv.server.URL, AnswerSessionConfig{
		InitialMessages: []Message{
			{Role: RoleUser, Content: "earlier question"},
			{Role: RoleAssistant, Content: "earlier answer"},
		},
	})

	_, err := session.Answer(context.Background(), AskParams{Query: "hello"})
	require.NoError(t, err)

	messages := session.Messages()
	require.Len(t, messages, 4)
	assert.Equal(t, "earlier answer", messages[1].Content)
	assert.Equal(t, "hi there", messages[3].Content)
	assert.Len(t, session.State(), 1)
}
